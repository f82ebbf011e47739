package cloudinary

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/plantswap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для подписи загрузок
func (s *CloudinaryService) SetupRoutes(app *fiber.App) {
	// Middleware вешается на сам маршрут, а не на группу /api: в группе
	// живут и публичные ручки других сервисов
	app.Get("/api/upload/params", s.GenerateUploadParams, middleware.AuthMiddleware(s.jwtService))
}
