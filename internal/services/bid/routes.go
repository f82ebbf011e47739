package bid

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/plantswap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API ставок
func (s *BidService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/listings")

	// Публичная история ставок аукциона
	api.Get("/:id/bids", s.GetBids)

	// Размещение ставки требует авторизации
	api.Post("/:id/bids", s.PlaceBid, middleware.AuthMiddleware(s.jwtService))
}
