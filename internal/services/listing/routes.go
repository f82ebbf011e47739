package listing

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/plantswap-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API объявлений
func (s *ListingService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/listings")

	// Защищенные маршруты. Регистрируются до "/:id", чтобы "/my" не
	// перехватывался параметрическим маршрутом.
	authMiddleware := middleware.AuthMiddleware(s.jwtService)

	api.Post("/create", s.CreateListing, authMiddleware)
	api.Get("/my", s.GetMyListings, authMiddleware)

	// Публичный маршрут карточки объявления
	api.Get("/:id", s.GetListing)

	api.Delete("/:id", s.RemoveListing, authMiddleware)
}
