package settlement

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/plantswap-api/internal/auction"
	"github.com/rajivgeraev/plantswap-api/internal/cache"
	"github.com/rajivgeraev/plantswap-api/internal/config"
	"github.com/rajivgeraev/plantswap-api/internal/db"
	"github.com/rajivgeraev/plantswap-api/internal/models"
	"github.com/rajivgeraev/plantswap-api/internal/utils"
)

// SettlementService закрывает истекшие аукционы: определяет победителя,
// создает тред и заказ или помечает аукцион несостоявшимся
type SettlementService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
}

// NewSettlementService создает новый экземпляр SettlementService
func NewSettlementService(cfg *config.Config) *SettlementService {
	return &SettlementService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
	}
}

// RunSettlement обрабатывает все истекшие активные аукционы. Каждое
// объявление закрывается в собственной транзакции: ошибка одного не
// блокирует остальные. Повторный запуск безопасен — объявление
// перечитывается под блокировкой, и уже закрытый аукцион пропускается.
func (s *SettlementService) RunSettlement(ctx context.Context) (finalized, expired int, err error) {
	now := time.Now()

	rows, err := db.Pool.Query(ctx, `
        SELECT id FROM listings
        WHERE sale_type = $1 AND status = $2 AND auction_ends_at <= $3
        ORDER BY auction_ends_at ASC
    `, models.SaleTypeAuction, models.ListingStatusActive, now)
	if err != nil {
		return 0, 0, err
	}

	var listingIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			log.Printf("Ошибка сканирования объявления: %v", err)
			continue
		}
		listingIDs = append(listingIDs, id)
	}
	rows.Close()

	for _, listingID := range listingIDs {
		outcome, err := s.settleListing(ctx, listingID, now)
		if err != nil {
			log.Printf("Ошибка закрытия аукциона %s: %v", listingID, err)
			continue
		}
		switch outcome {
		case outcomeFinalized:
			finalized++
		case outcomeExpired:
			expired++
		case outcomeSkipped:
			// Закрыт параллельным запуском, в счетчики не попадает
			continue
		}
		cache.InvalidateListingViews(ctx, listingID)
	}

	if finalized > 0 || expired > 0 {
		log.Printf("Закрытие аукционов: %d с победителем, %d без ставок", finalized, expired)
	}

	return finalized, expired, nil
}

// Исходы закрытия одного аукциона
const (
	outcomeSkipped = iota
	outcomeFinalized
	outcomeExpired
)

// settleListing закрывает один аукцион
func (s *SettlementService) settleListing(ctx context.Context, listingID uuid.UUID, now time.Time) (int, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return outcomeSkipped, err
	}
	defer tx.Rollback(ctx)

	// Перечитываем под блокировкой: параллельный запуск или ставка,
	// пришедшая между выборкой и блокировкой, меняют картину
	var listing models.Listing
	err = tx.QueryRow(ctx, `
        SELECT id, user_id, title, sale_type, status, start_price, min_increment, auction_ends_at
        FROM listings
        WHERE id = $1
        FOR UPDATE
    `, listingID).Scan(
		&listing.ID,
		&listing.UserID,
		&listing.Title,
		&listing.SaleType,
		&listing.Status,
		&listing.StartPrice,
		&listing.MinIncrement,
		&listing.AuctionEndsAt,
	)
	if err != nil {
		return outcomeSkipped, err
	}

	if !listing.IsActiveAuction() || listing.AuctionEndsAt == nil || listing.AuctionEndsAt.After(now) {
		// Уже закрыт другим запуском или продлен
		return outcomeSkipped, tx.Commit(ctx)
	}

	rows, err := tx.Query(ctx, `
        SELECT id, listing_id, bidder_id, amount, created_at
        FROM bids
        WHERE listing_id = $1
    `, listingID)
	if err != nil {
		return outcomeSkipped, err
	}

	var bids []models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.ListingID, &b.BidderID, &b.Amount, &b.CreatedAt); err != nil {
			rows.Close()
			return outcomeSkipped, err
		}
		bids = append(bids, b)
	}
	rows.Close()

	winner := auction.PickWinningBid(bids)
	if winner == nil {
		// Ставок не было — аукцион не состоялся
		_, err = tx.Exec(ctx, `
            UPDATE listings SET status = $1, updated_at = $2 WHERE id = $3
        `, models.ListingStatusExpired, now, listingID)
		if err != nil {
			return outcomeSkipped, err
		}
		return outcomeExpired, tx.Commit(ctx)
	}

	// Тред продавца с победителем; мог существовать и до аукциона
	low, high := models.CanonicalPair(listing.UserID, winner.BidderID)
	var threadID uuid.UUID
	err = tx.QueryRow(ctx, `
        INSERT INTO threads (id, context_type, context_id, user_low, user_high, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        ON CONFLICT (context_type, COALESCE(context_id, '00000000-0000-0000-0000-000000000000'::uuid), user_low, user_high)
        DO UPDATE SET updated_at = $6
        RETURNING id
    `, uuid.New(), models.ThreadContextListing, listingID, low, high, now).Scan(&threadID)
	if err != nil {
		return outcomeSkipped, err
	}

	// Один заказ на тред; если сделка уже шла, победа аукциона ее не
	// перетирает
	_, err = tx.Exec(ctx, `
        INSERT INTO orders (id, thread_id, listing_id, buyer_id, seller_id, status, accepted_price, is_swap, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $8)
        ON CONFLICT (thread_id) DO NOTHING
    `, uuid.New(), threadID, listingID, winner.BidderID, listing.UserID, models.OrderStatusPriceAccepted, winner.Amount, now)
	if err != nil {
		return outcomeSkipped, err
	}

	// Победа на аукционе — обоюдное согласие: обе отметки ставятся сразу
	_, err = tx.Exec(ctx, `
        INSERT INTO thread_deal_confirmations (thread_id, user_id, confirmed_at)
        VALUES ($1, $2, $4), ($1, $3, $4)
        ON CONFLICT (thread_id, user_id) DO NOTHING
    `, threadID, listing.UserID, winner.BidderID, now)
	if err != nil {
		return outcomeSkipped, err
	}

	_, err = tx.Exec(ctx, `
        UPDATE threads SET deal_confirmed_at = $1, updated_at = $1
        WHERE id = $2 AND deal_confirmed_at IS NULL
    `, now, threadID)
	if err != nil {
		return outcomeSkipped, err
	}

	_, err = tx.Exec(ctx, `
        UPDATE listings SET status = $1, updated_at = $2 WHERE id = $3
    `, models.ListingStatusSold, now, listingID)
	if err != nil {
		return outcomeSkipped, err
	}

	text := "Аукцион завершён. Победившая ставка: " + auction.FormatAmount(winner.Amount)
	_, err = tx.Exec(ctx, `
        INSERT INTO messages (id, thread_id, sender_id, type, text, metadata, is_read, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, false, $7)
    `, uuid.New(), threadID, listing.UserID, models.MessageTypeSystem, text, map[string]interface{}{
		"listing_id": listingID.String(),
		"amount":     winner.Amount,
	}, now)
	if err != nil {
		return outcomeSkipped, err
	}

	_, err = tx.Exec(ctx, `
        UPDATE threads SET last_message_text = $1, last_message_time = $2 WHERE id = $3
    `, text, now, threadID)
	if err != nil {
		return outcomeSkipped, err
	}

	if err = tx.Commit(ctx); err != nil {
		return outcomeSkipped, err
	}

	cache.InvalidateThreadViews(ctx, threadID, low, high)
	return outcomeFinalized, nil
}

// TriggerSettlement — ручной запуск закрытия аукционов
func (s *SettlementService) TriggerSettlement(c fiber.Ctx) error {
	ctx, cancel := db.GetBatchContext()
	defer cancel()

	finalized, expired, err := s.RunSettlement(ctx)
	if err != nil {
		log.Printf("Ошибка закрытия аукционов: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка закрытия аукционов"})
	}

	return c.JSON(fiber.Map{
		"finalized": finalized,
		"expired":   expired,
		"success":   true,
	})
}
