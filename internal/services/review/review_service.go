package review

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rajivgeraev/plantswap-api/internal/config"
	"github.com/rajivgeraev/plantswap-api/internal/db"
	"github.com/rajivgeraev/plantswap-api/internal/models"
	"github.com/rajivgeraev/plantswap-api/internal/review"
	"github.com/rajivgeraev/plantswap-api/internal/utils"
)

// ReviewService представляет сервис отзывов о продавцах
type ReviewService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
}

// NewReviewService создает новый экземпляр ReviewService
func NewReviewService(cfg *config.Config) *ReviewService {
	return &ReviewService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
	}
}

// evaluateEligibility загружает все входы проверки и прогоняет их через
// review.Evaluate
func evaluateEligibility(ctx context.Context, listingID, reviewerID uuid.UUID) (review.Result, uuid.UUID, int, string) {
	var sellerID uuid.UUID
	err := db.Pool.QueryRow(ctx, `
        SELECT user_id FROM listings WHERE id = $1
    `, listingID).Scan(&sellerID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return review.Result{}, uuid.Nil, fiber.StatusNotFound, "Объявление не найдено"
		}
		log.Printf("Ошибка запроса объявления: %v", err)
		return review.Result{}, uuid.Nil, fiber.StatusInternalServerError, "Ошибка получения объявления"
	}

	// Тред покупателя с продавцом по этому объявлению
	low, high := models.CanonicalPair(reviewerID, sellerID)

	var thread *models.Thread
	var t models.Thread
	err = db.Pool.QueryRow(ctx, `
        SELECT id, context_type, context_id, user_low, user_high, deal_confirmed_at, created_at, updated_at
        FROM threads
        WHERE context_type = $1 AND context_id = $2 AND user_low = $3 AND user_high = $4
    `, models.ThreadContextListing, listingID, low, high).Scan(
		&t.ID,
		&t.ContextType,
		&t.ContextID,
		&t.UserLow,
		&t.UserHigh,
		&t.DealConfirmedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err == nil {
		thread = &t
	} else if err != pgx.ErrNoRows {
		log.Printf("Ошибка запроса треда: %v", err)
		return review.Result{}, uuid.Nil, fiber.StatusInternalServerError, "Ошибка получения переписки"
	}

	var ord *models.Order
	if thread != nil {
		var o models.Order
		err = db.Pool.QueryRow(ctx, `
            SELECT id, thread_id, listing_id, buyer_id, seller_id, status, accepted_price, is_swap, created_at, updated_at
            FROM orders
            WHERE thread_id = $1
        `, thread.ID).Scan(
			&o.ID,
			&o.ThreadID,
			&o.ListingID,
			&o.BuyerID,
			&o.SellerID,
			&o.Status,
			&o.AcceptedPrice,
			&o.IsSwap,
			&o.CreatedAt,
			&o.UpdatedAt,
		)
		if err == nil {
			ord = &o
		} else if err != pgx.ErrNoRows {
			log.Printf("Ошибка запроса заказа: %v", err)
			return review.Result{}, uuid.Nil, fiber.StatusInternalServerError, "Ошибка получения заказа"
		}
	}

	var hasPriorReview bool
	err = db.Pool.QueryRow(ctx, `
        SELECT EXISTS(SELECT 1 FROM reviews WHERE reviewer_id = $1 AND listing_id = $2)
    `, reviewerID, listingID).Scan(&hasPriorReview)
	if err != nil {
		log.Printf("Ошибка проверки существующего отзыва: %v", err)
		return review.Result{}, uuid.Nil, fiber.StatusInternalServerError, "Ошибка проверки отзывов"
	}

	return review.Evaluate(thread, ord, listingID, reviewerID, sellerID, hasPriorReview), sellerID, 0, ""
}

// CheckEligibility сообщает, может ли пользователь оставить отзыв по
// объявлению
func (s *ReviewService) CheckEligibility(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	listingID := c.Params("id")

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	listingUUID, err := uuid.Parse(listingID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID объявления"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	result, _, status, errMsg := evaluateEligibility(ctx, listingUUID, userUUID)
	if status != 0 {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}

	return c.JSON(fiber.Map{
		"eligible": result.Eligible,
		"reason":   result.Reason,
	})
}

// CreateReview создает отзыв о продавце
func (s *ReviewService) CreateReview(c fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	listingID := c.Params("id")

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	listingUUID, err := uuid.Parse(listingID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID объявления"})
	}

	var requestData struct {
		Rating int    `json:"rating"`
		Text   string `json:"text"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if requestData.Rating < 1 || requestData.Rating > 5 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Оценка должна быть от 1 до 5"})
	}
	requestData.Text = strings.TrimSpace(requestData.Text)

	ctx, cancel := db.GetContext()
	defer cancel()

	// Право на отзыв проверяется непосредственно перед записью
	result, sellerID, status, errMsg := evaluateEligibility(ctx, listingUUID, userUUID)
	if status != 0 {
		return c.Status(status).JSON(fiber.Map{"error": errMsg})
	}
	if !result.Eligible {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": result.Reason})
	}

	newReview := models.Review{
		ID:         uuid.New(),
		ListingID:  listingUUID,
		ReviewerID: userUUID,
		SellerID:   sellerID,
		Rating:     requestData.Rating,
		Text:       requestData.Text,
		CreatedAt:  time.Now(),
	}

	_, err = db.Pool.Exec(ctx, `
        INSERT INTO reviews (id, listing_id, reviewer_id, seller_id, rating, text, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, newReview.ID, newReview.ListingID, newReview.ReviewerID, newReview.SellerID, newReview.Rating, newReview.Text, newReview.CreatedAt)
	if err != nil {
		// Гонка двух запросов упирается в уникальный индекс
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Вы уже оставили отзыв по этому объявлению"})
		}
		log.Printf("Ошибка сохранения отзыва: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка сохранения отзыва"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"review":  newReview,
		"success": true,
	})
}

// GetSellerReviews возвращает отзывы о продавце
func (s *ReviewService) GetSellerReviews(c fiber.Ctx) error {
	sellerID := c.Params("id")

	sellerUUID, err := uuid.Parse(sellerID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID продавца"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	rows, err := db.Pool.Query(ctx, `
        SELECT r.id, r.listing_id, r.reviewer_id, r.seller_id, r.rating, r.text, r.created_at,
               u.id, COALESCE(u.username, ''), COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), COALESCE(u.avatar_url, '')
        FROM reviews r
        JOIN users u ON u.id = r.reviewer_id
        WHERE r.seller_id = $1
        ORDER BY r.created_at DESC
    `, sellerUUID)
	if err != nil {
		log.Printf("Ошибка запроса отзывов: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения отзывов"})
	}
	defer rows.Close()

	var reviews []models.Review
	var ratingSum int
	for rows.Next() {
		var r models.Review
		var reviewer models.User

		if err := rows.Scan(
			&r.ID,
			&r.ListingID,
			&r.ReviewerID,
			&r.SellerID,
			&r.Rating,
			&r.Text,
			&r.CreatedAt,
			&reviewer.ID,
			&reviewer.Username,
			&reviewer.FirstName,
			&reviewer.LastName,
			&reviewer.AvatarURL,
		); err != nil {
			log.Printf("Ошибка сканирования отзыва: %v", err)
			continue
		}

		r.Reviewer = &reviewer
		reviews = append(reviews, r)
		ratingSum += r.Rating
	}

	var averageRating float64
	if len(reviews) > 0 {
		averageRating = float64(ratingSum) / float64(len(reviews))
	}

	return c.JSON(fiber.Map{
		"reviews":        reviews,
		"count":          len(reviews),
		"average_rating": averageRating,
	})
}
