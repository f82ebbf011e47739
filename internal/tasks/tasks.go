package tasks

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/rajivgeraev/plantswap-api/internal/config"
	"github.com/rajivgeraev/plantswap-api/internal/db"
	"github.com/rajivgeraev/plantswap-api/internal/services/settlement"
)

// Типы фоновых задач
const (
	TypeAuctionSettle = "auction:settle"
)

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// NewClient создает клиент для постановки задач в очередь
func NewClient(cfg *config.Config) *asynq.Client {
	return asynq.NewClient(redisOpt(cfg))
}

// NewScheduler создает планировщик, периодически ставящий задачу
// закрытия аукционов. Интервал задается конфигурацией.
func NewScheduler(cfg *config.Config) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOpt(cfg), &asynq.SchedulerOpts{})

	// Задача без полезной нагрузки: обработчик сам находит истекшие
	// аукционы
	task := asynq.NewTask(TypeAuctionSettle, nil)
	_, err := scheduler.Register(fmt.Sprintf("@every %s", cfg.SettlementInterval), task)
	if err != nil {
		return nil, err
	}

	return scheduler, nil
}

// TaskProcessor обрабатывает фоновые задачи
type TaskProcessor struct {
	cfg               *config.Config
	settlementService *settlement.SettlementService
}

// NewTaskProcessor создает новый экземпляр TaskProcessor
func NewTaskProcessor(cfg *config.Config, settlementService *settlement.SettlementService) *TaskProcessor {
	return &TaskProcessor{
		cfg:               cfg,
		settlementService: settlementService,
	}
}

// HandleAuctionSettleTask закрывает истекшие аукционы
func (p *TaskProcessor) HandleAuctionSettleTask(ctx context.Context, t *asynq.Task) error {
	batchCtx, cancel := db.GetBatchContext()
	defer cancel()

	_, _, err := p.settlementService.RunSettlement(batchCtx)
	return err
}

// SetupServer настраивает сервер фоновых задач и реестр обработчиков
func SetupServer(cfg *config.Config, processor *TaskProcessor) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: 2,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Ошибка фоновой задачи %s: %v", task.Type(), err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAuctionSettle, processor.HandleAuctionSettleTask)

	return srv, mux
}
