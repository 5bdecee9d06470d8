package http

import (
	"time"

	"github.com/escrow-rooms/backend/internal/config"
	"github.com/escrow-rooms/backend/internal/http/handlers"
	"github.com/escrow-rooms/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	roomHandler *handlers.RoomHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/wallet", authHandler.WalletAuth)

	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Rooms
	protected.Post("/rooms", roomHandler.CreateRoom)
	protected.Get("/rooms", roomHandler.ListRooms)
	protected.Post("/rooms/join", roomHandler.JoinRoom)
	protected.Get("/rooms/:id", roomHandler.GetRoom)
	protected.Get("/rooms/:id/participants", roomHandler.GetParticipants)
	protected.Post("/rooms/:id/role", roomHandler.SelectRole)
	protected.Post("/rooms/:id/amount", roomHandler.ProposeAmount)
	protected.Post("/rooms/:id/amount/confirm", roomHandler.ConfirmAmount)
	protected.Post("/rooms/:id/fee", roomHandler.SelectFeePayer)
	protected.Post("/rooms/:id/fee/confirm", roomHandler.ConfirmFee)
	protected.Post("/rooms/:id/release", roomHandler.ConfirmRelease)
	protected.Post("/rooms/:id/cancel", roomHandler.ConfirmCancel)
	protected.Post("/rooms/:id/disputes", roomHandler.CreateDispute)
	protected.Get("/rooms/:id/disputes", roomHandler.GetDisputes)
	protected.Get("/rooms/:id/events", roomHandler.GetRoomEvents)
	protected.Get("/rooms/:id/payment", roomHandler.GetPaymentInfo)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
