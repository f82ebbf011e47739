package review

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/plantswap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API отзывов
func (s *ReviewService) SetupRoutes(app *fiber.App) {
	authMiddleware := middleware.AuthMiddleware(s.jwtService)

	listings := app.Group("/api/listings")

	// Проверка права и создание отзыва — только для авторизованных
	listings.Get("/:id/reviews/eligibility", s.CheckEligibility, authMiddleware)
	listings.Post("/:id/reviews", s.CreateReview, authMiddleware)

	// Публичные отзывы о продавце
	app.Get("/api/users/:id/reviews", s.GetSellerReviews)
}
