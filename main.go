package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"nardy-match-service/handlers"
	"nardy-match-service/models"
	"nardy-match-service/services"
	"nardy-match-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOrigins = "http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Service-Token",
		AllowCredentials: true,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}
	if err := db.AutoMigrate(&models.GameRecord{}); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	authServiceURL := os.Getenv("AUTH_SERVICE_URL")
	if authServiceURL == "" {
		log.Fatal("AUTH_SERVICE_URL environment variable not set")
	}
	profileServiceURL := os.Getenv("PROFILE_SERVICE_URL")
	if profileServiceURL == "" {
		log.Fatal("PROFILE_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("GAME_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("GAME_SERVICE_TOKEN environment variable not set")
	}

	authClient := services.NewAuthServiceClient(authServiceURL, serviceToken)
	profileClient := services.NewProfileServiceClient(profileServiceURL, serviceToken)

	roomStore := services.NewRoomStore(rdb)
	roomLocks := services.NewRoomLocker()
	matchmaking := services.NewMatchmakingService(rdb, profileClient)
	history := services.NewHistoryService(db)

	hub := handlers.NewHub()
	gateway := handlers.NewGameGateway(hub, roomStore, roomLocks, matchmaking, history, authClient)

	handlers.SetupGatewayRoutes(app, gateway)
	handlers.SetupPushRoutes(app, hub, roomStore)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	sweeper := workers.StartQueueSweeper(matchmaking)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Match service running on http://localhost:%s", port)
	log.Println("✅ Websocket gateway mounted at /ws")
	log.Println("✅ Matchmaking queue sweeper running (every 1m)")

	<-ctx.Done()
	log.Println("Shutting down server...")
	_ = sweeper.Shutdown()
	_ = app.Shutdown()
}
