package main

import (
	"log"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/rajivgeraev/plantswap-api/internal/cache"
	"github.com/rajivgeraev/plantswap-api/internal/config"
	"github.com/rajivgeraev/plantswap-api/internal/db"
	"github.com/rajivgeraev/plantswap-api/internal/services/auth"
	"github.com/rajivgeraev/plantswap-api/internal/services/bid"
	"github.com/rajivgeraev/plantswap-api/internal/services/cloudinary"
	"github.com/rajivgeraev/plantswap-api/internal/services/deal"
	"github.com/rajivgeraev/plantswap-api/internal/services/listing"
	"github.com/rajivgeraev/plantswap-api/internal/services/review"
	"github.com/rajivgeraev/plantswap-api/internal/services/settlement"
	"github.com/rajivgeraev/plantswap-api/internal/services/thread"
	"github.com/rajivgeraev/plantswap-api/internal/tasks"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	// Инициализируем базу данных
	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
	}
	defer db.CloseDB()

	// Инициализируем кеш
	if err := cache.InitCache(cfg); err != nil {
		log.Printf("⚠️ Кеш недоступен, продолжаем без него: %v", err)
	}
	defer cache.CloseCache()

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "PlantSwap API",
		ErrorHandler: errorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	// Создаём сервисы
	authService := auth.NewAuthService(cfg)
	cloudinaryService := cloudinary.NewCloudinaryService(cfg)
	listingService := listing.NewListingService(cfg)
	threadService := thread.NewThreadService(cfg)
	bidService := bid.NewBidService(cfg)
	dealService := deal.NewDealService(cfg)
	reviewService := review.NewReviewService(cfg)
	settlementService := settlement.NewSettlementService(cfg)

	// Регистрируем маршруты
	authService.SetupRoutes(app)
	cloudinaryService.SetupRoutes(app)
	listingService.SetupRoutes(app)
	threadService.SetupRoutes(app)
	bidService.SetupRoutes(app)
	dealService.SetupRoutes(app)
	reviewService.SetupRoutes(app)
	settlementService.SetupRoutes(app)

	// Запускаем фоновое закрытие аукционов
	processor := tasks.NewTaskProcessor(cfg, settlementService)
	srv, mux := tasks.SetupServer(cfg, processor)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Printf("⚠️ Сервер фоновых задач остановлен: %v", err)
		}
	}()

	scheduler, err := tasks.NewScheduler(cfg)
	if err != nil {
		log.Fatalf("❌ Ошибка настройки планировщика: %v", err)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			log.Printf("⚠️ Планировщик остановлен: %v", err)
		}
	}()

	// Запускаем сервер
	log.Println("✅ PlantSwap API запущен на порту 8080")
	log.Fatal(app.Listen(":8080"))
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	// Проверяем, является ли ошибка из Fiber
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	// Отправляем ошибку в JSON
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
