package bid

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rajivgeraev/plantswap-api/internal/auction"
	"github.com/rajivgeraev/plantswap-api/internal/cache"
	"github.com/rajivgeraev/plantswap-api/internal/config"
	"github.com/rajivgeraev/plantswap-api/internal/db"
	"github.com/rajivgeraev/plantswap-api/internal/models"
	"github.com/rajivgeraev/plantswap-api/internal/utils"
)

// BidService представляет сервис для работы со ставками на аукционах
type BidService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
}

// NewBidService создает новый экземпляр BidService
func NewBidService(cfg *config.Config) *BidService {
	return &BidService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
	}
}

// PlaceBid принимает ставку на аукционное объявление
func (s *BidService) PlaceBid(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	listingID := c.Params("id")

	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	listingUUID, err := uuid.Parse(listingID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID объявления"})
	}

	var requestData struct {
		Amount float64 `json:"amount"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if requestData.Amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Сумма ставки должна быть положительной"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	// Блокируем строку объявления: две конкурирующие ставки
	// сериализуются здесь, и вторая увидит первую при перечитывании
	// максимума
	var listing models.Listing
	err = tx.QueryRow(ctx, `
        SELECT id, user_id, sale_type, status, start_price, min_increment, auction_ends_at
        FROM listings
        WHERE id = $1
        FOR UPDATE
    `, listingUUID).Scan(
		&listing.ID,
		&listing.UserID,
		&listing.SaleType,
		&listing.Status,
		&listing.StartPrice,
		&listing.MinIncrement,
		&listing.AuctionEndsAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Объявление не найдено"})
		}
		log.Printf("Ошибка запроса объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения объявления"})
	}

	if !listing.IsActiveAuction() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Аукцион не принимает ставки"})
	}

	if listing.UserID == userUUID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Нельзя делать ставки на собственное объявление"})
	}

	if listing.StartPrice == nil || listing.MinIncrement == nil {
		log.Printf("Аукцион %s без стартовой цены или шага", listingUUID)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Некорректные параметры аукциона"})
	}

	// Текущий максимум читаем внутри транзакции, после захвата блокировки
	var topBid *float64
	var topAmount float64
	err = tx.QueryRow(ctx, `
        SELECT amount
        FROM bids
        WHERE listing_id = $1
        ORDER BY amount DESC, created_at ASC
        LIMIT 1
    `, listingUUID).Scan(&topAmount)
	if err != nil {
		if err != pgx.ErrNoRows {
			log.Printf("Ошибка запроса текущей ставки: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения ставок"})
		}
	} else {
		topBid = &topAmount
	}

	result := auction.ValidateBid(*listing.StartPrice, *listing.MinIncrement, topBid, requestData.Amount, listing.AuctionEndsAt, time.Now())
	if !result.Accepted {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":       result.Reason,
			"reject":      result.Reject,
			"minimum_bid": result.MinimumBid,
		})
	}

	newBid := models.Bid{
		ID:        uuid.New(),
		ListingID: listingUUID,
		BidderID:  userUUID,
		Amount:    requestData.Amount,
		CreatedAt: time.Now(),
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO bids (id, listing_id, bidder_id, amount, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `, newBid.ID, newBid.ListingID, newBid.BidderID, newBid.Amount, newBid.CreatedAt)
	if err != nil {
		log.Printf("Ошибка сохранения ставки: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения ставки"})
	}

	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	cache.InvalidateListingViews(ctx, listingUUID)

	// Минимум для следующей ставки считаем уже относительно новой
	nextMinimum := auction.ComputeMinimumBid(*listing.StartPrice, *listing.MinIncrement, &newBid.Amount)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"bid":              newBid,
		"next_minimum_bid": nextMinimum,
		"success":          true,
	})
}

// GetBids возвращает историю ставок объявления
func (s *BidService) GetBids(c fiber.Ctx) error {
	listingID := c.Params("id")

	listingUUID, err := uuid.Parse(listingID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID объявления"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	var listingExists bool
	err = db.Pool.QueryRow(ctx, `
        SELECT EXISTS(SELECT 1 FROM listings WHERE id = $1 AND sale_type = 'auction')
    `, listingUUID).Scan(&listingExists)
	if err != nil {
		log.Printf("Ошибка проверки объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка проверки объявления"})
	}
	if !listingExists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Аукцион не найден"})
	}

	rows, err := db.Pool.Query(ctx, `
        SELECT b.id, b.listing_id, b.bidder_id, b.amount, b.created_at,
               u.id, COALESCE(u.username, ''), COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), COALESCE(u.avatar_url, '')
        FROM bids b
        JOIN users u ON u.id = b.bidder_id
        WHERE b.listing_id = $1
        ORDER BY b.amount DESC, b.created_at ASC
    `, listingUUID)
	if err != nil {
		log.Printf("Ошибка запроса ставок: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения ставок"})
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		var b models.Bid
		var bidder models.User

		if err := rows.Scan(
			&b.ID,
			&b.ListingID,
			&b.BidderID,
			&b.Amount,
			&b.CreatedAt,
			&bidder.ID,
			&bidder.Username,
			&bidder.FirstName,
			&bidder.LastName,
			&bidder.AvatarURL,
		); err != nil {
			log.Printf("Ошибка сканирования ставки: %v", err)
			continue
		}

		b.Bidder = &bidder
		bids = append(bids, b)
	}

	return c.JSON(fiber.Map{
		"bids":  bids,
		"count": len(bids),
	})
}
