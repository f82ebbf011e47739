package listing

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rajivgeraev/plantswap-api/internal/cache"
	"github.com/rajivgeraev/plantswap-api/internal/config"
	"github.com/rajivgeraev/plantswap-api/internal/db"
	"github.com/rajivgeraev/plantswap-api/internal/models"
	"github.com/rajivgeraev/plantswap-api/internal/utils"
)

// RequestImage представляет структуру изображения в запросе создания объявления
type RequestImage struct {
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url"`
	PublicID   string `json:"public_id"`
	FileName   string `json:"file_name"`
	IsMain     bool   `json:"is_main"`
}

// ListingService представляет сервис для работы с объявлениями
type ListingService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
}

// NewListingService создает новый экземпляр ListingService
func NewListingService(cfg *config.Config) *ListingService {
	return &ListingService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
	}
}

// CreateListing обрабатывает создание нового объявления
func (s *ListingService) CreateListing(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	// Извлекаем данные из запроса
	var requestData struct {
		Title         string         `json:"title"`
		Description   string         `json:"description"`
		Categories    []string       `json:"categories"`
		SaleType      string         `json:"sale_type"`
		Status        string         `json:"status"`
		Price         *float64       `json:"price"`
		StartPrice    *float64       `json:"start_price"`
		MinIncrement  *float64       `json:"min_increment"`
		AuctionEndsAt *time.Time     `json:"auction_ends_at"`
		Images        []RequestImage `json:"images"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	// Валидация обязательных полей
	if requestData.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Название обязательно"})
	}

	if requestData.Status != models.ListingStatusActive && requestData.Status != models.ListingStatusDraft {
		requestData.Status = models.ListingStatusDraft
	}

	if requestData.Status == models.ListingStatusActive && len(requestData.Categories) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Выберите хотя бы одну категорию"})
	}

	if requestData.Status == models.ListingStatusActive && len(requestData.Images) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Добавьте хотя бы одно фото растения"})
	}

	// Валидация типа продажи. Инвариант: цена заполнена только при fixed,
	// аукционные поля — только при auction.
	switch requestData.SaleType {
	case models.SaleTypeFixed:
		if requestData.Price == nil || *requestData.Price <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Укажите цену объявления"})
		}
		requestData.StartPrice = nil
		requestData.MinIncrement = nil
		requestData.AuctionEndsAt = nil
	case models.SaleTypeAuction:
		if requestData.StartPrice == nil || *requestData.StartPrice <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Укажите стартовую цену аукциона"})
		}
		if requestData.MinIncrement == nil || *requestData.MinIncrement <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Укажите минимальный шаг ставки"})
		}
		if requestData.AuctionEndsAt == nil || !requestData.AuctionEndsAt.After(time.Now()) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Укажите время окончания аукциона в будущем"})
		}
		requestData.Price = nil
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Недопустимый тип продажи"})
	}

	listingID := uuid.New()

	ctx, cancel := db.GetContext()
	defer cancel()

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		log.Printf("Ошибка начала транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}
	defer tx.Rollback(ctx)

	categoriesJSON, err := json.Marshal(requestData.Categories)
	if err != nil {
		log.Printf("Ошибка сериализации категорий: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обработки категорий"})
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO listings (id, user_id, title, description, categories, sale_type, status,
		                      price, start_price, min_increment, auction_ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, listingID, userUUID, requestData.Title, requestData.Description, categoriesJSON,
		requestData.SaleType, requestData.Status,
		requestData.Price, requestData.StartPrice, requestData.MinIncrement, requestData.AuctionEndsAt)

	if err != nil {
		log.Printf("Ошибка создания объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения объявления"})
	}

	// Сохраняем фотографии
	for i, img := range requestData.Images {
		_, err = tx.Exec(ctx, `
			INSERT INTO listing_images (id, listing_id, url, preview_url, public_id, file_name, is_main, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.New(), listingID, img.URL, img.PreviewURL, img.PublicID, img.FileName, img.IsMain, i)

		if err != nil {
			log.Printf("Ошибка сохранения изображения: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения изображений"})
		}
	}

	if err = tx.Commit(ctx); err != nil {
		log.Printf("Ошибка фиксации транзакции: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка базы данных"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":    true,
		"listing_id": listingID,
	})
}

// GetListing возвращает одно объявление по ID
func (s *ListingService) GetListing(c fiber.Ctx) error {
	listingID := c.Params("id")

	listingUUID, err := uuid.Parse(listingID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID объявления"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	listing, err := loadListing(ctx, listingUUID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Объявление не найдено"})
		}
		log.Printf("Ошибка запроса объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения объявления"})
	}

	return c.JSON(fiber.Map{"listing": listing})
}

// GetMyListings возвращает список объявлений текущего пользователя
func (s *ListingService) GetMyListings(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	rows, err := db.Pool.Query(ctx, `
		SELECT id FROM listings
		WHERE user_id = $1 AND status != 'removed'
		ORDER BY created_at DESC
	`, userUUID)
	if err != nil {
		log.Printf("Ошибка запроса объявлений: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения объявлений"})
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			log.Printf("Ошибка сканирования строки: %v", err)
			continue
		}
		ids = append(ids, id)
	}
	rows.Close()

	var listings []models.Listing
	for _, id := range ids {
		listing, err := loadListing(ctx, id)
		if err != nil {
			log.Printf("Ошибка загрузки объявления %s: %v", id, err)
			continue
		}
		listings = append(listings, *listing)
	}

	return c.JSON(fiber.Map{
		"listings": listings,
		"count":    len(listings),
	})
}

// RemoveListing помечает объявление удалённым. Объявления никогда не
// удаляются физически, только меняют статус.
func (s *ListingService) RemoveListing(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	listingUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID объявления"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	var ownerID uuid.UUID
	var status string
	err = db.Pool.QueryRow(ctx, `
		SELECT user_id, status FROM listings WHERE id = $1
	`, listingUUID).Scan(&ownerID, &status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Объявление не найдено"})
		}
		log.Printf("Ошибка запроса объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения объявления"})
	}

	if ownerID != userUUID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Это не ваше объявление"})
	}

	if status == models.ListingStatusReserved || status == models.ListingStatusSold {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Нельзя снять объявление с активной сделкой"})
	}

	_, err = db.Pool.Exec(ctx, `
		UPDATE listings SET status = 'removed', updated_at = NOW() WHERE id = $1
	`, listingUUID)
	if err != nil {
		log.Printf("Ошибка обновления статуса объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка обновления объявления"})
	}

	cache.InvalidateListingViews(ctx, listingUUID)

	return c.JSON(fiber.Map{"success": true})
}

// loadListing загружает объявление с фотографиями
func loadListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	var categoriesData []byte

	err := db.Pool.QueryRow(ctx, `
		SELECT id, user_id, title, description, categories, sale_type, status,
		       price, start_price, min_increment, auction_ends_at, created_at, updated_at
		FROM listings
		WHERE id = $1
	`, listingID).Scan(
		&listing.ID,
		&listing.UserID,
		&listing.Title,
		&listing.Description,
		&categoriesData,
		&listing.SaleType,
		&listing.Status,
		&listing.Price,
		&listing.StartPrice,
		&listing.MinIncrement,
		&listing.AuctionEndsAt,
		&listing.CreatedAt,
		&listing.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(categoriesData, &listing.Categories); err != nil {
		log.Printf("Ошибка разбора категорий: %v", err)
		listing.Categories = []string{}
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, url, preview_url, is_main, position
		FROM listing_images
		WHERE listing_id = $1
		ORDER BY position ASC
	`, listingID)
	if err != nil {
		log.Printf("Ошибка получения изображений: %v", err)
		return &listing, nil
	}
	defer rows.Close()

	var images []models.ListingImage
	for rows.Next() {
		var image models.ListingImage
		if err := rows.Scan(&image.ID, &image.URL, &image.PreviewURL, &image.IsMain, &image.Position); err != nil {
			log.Printf("Ошибка сканирования изображения: %v", err)
			continue
		}
		image.ListingID = listingID
		images = append(images, image)
	}
	listing.Images = images

	return &listing, nil
}
