package deal

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/plantswap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API сделок
func (s *DealService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/deals")

	// Все операции сделки требуют авторизации
	api.Use(middleware.AuthMiddleware(s.jwtService))

	api.Get("/:threadID", s.GetOrder)
	api.Post("/:threadID/accept-price", s.AcceptPriceOffer)
	api.Post("/:threadID/accept-swap", s.AcceptSwapOffer)
	api.Post("/:threadID/address", s.SubmitShippingAddress)
	api.Post("/:threadID/ship", s.MarkShipped)
	api.Post("/:threadID/delivered", s.MarkDelivered)
	api.Post("/:threadID/cancel", s.CancelOrder)
	api.Post("/:threadID/confirm", s.ConfirmDeal)
}
