package auth

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/plantswap-api/internal/db"
	"github.com/rajivgeraev/plantswap-api/internal/middleware"
)

// SetupRoutes регистрирует маршруты в Fiber
func (s *AuthService) SetupRoutes(app *fiber.App) {
	app.Post("/api/auth/telegram", s.TelegramAuthHandler)

	// Профиль текущего пользователя. Middleware вешается на сам маршрут:
	// группа /api содержит и публичные ручки других сервисов.
	app.Get("/api/profile", func(c fiber.Ctx) error {
		userID := c.Locals("userID").(string)

		userUUID, err := uuid.Parse(userID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
		}

		user, err := db.GetUserByID(userUUID)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Пользователь не найден"})
		}

		return c.JSON(fiber.Map{
			"user": fiber.Map{
				"id":         user.ID,
				"first_name": user.FirstName,
				"last_name":  user.LastName,
				"username":   user.Username,
				"avatar_url": user.AvatarURL,
			},
		})
	}, middleware.AuthMiddleware(s.jwtService))
}
