package thread

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/plantswap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для тредов
func (s *ThreadService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/threads")

	// Все маршруты тредов требуют авторизации
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Маршрут для получения всех тредов пользователя
	api.Get("/", s.GetThreads)

	// Маршрут для поиска или создания треда
	api.Post("/", s.CreateThread)

	// Маршрут для получения сообщений треда
	api.Get("/:id/messages", s.GetThreadMessages)

	// Маршрут для отправки сообщения
	api.Post("/:id/messages", s.SendMessage)
}
