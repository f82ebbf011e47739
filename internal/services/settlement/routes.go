package settlement

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/plantswap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для ручного запуска закрытия аукционов
func (s *SettlementService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/settlement")

	api.Use(middleware.AuthMiddleware(s.jwtService))

	api.Post("/run", s.TriggerSettlement)
}
