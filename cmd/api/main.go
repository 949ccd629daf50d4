package main

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"

	"github.com/mmburu/mingle/auth"
	config "github.com/mmburu/mingle/configs"
	"github.com/mmburu/mingle/database"
	"github.com/mmburu/mingle/handlers"
	"github.com/mmburu/mingle/jobs"
	"github.com/mmburu/mingle/logger"
	"github.com/mmburu/mingle/media"
	"github.com/mmburu/mingle/routes"
	"github.com/mmburu/mingle/store"
	"github.com/mmburu/mingle/ws"
)

func main() {
	zlog, err := logger.New(logger.Config{Development: config.Config("APP_ENV") != "production"})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	database.ConnectDB()
	database.Migrate()

	messageStore := store.NewMessageStore(database.DB)
	postStore := store.NewPostStore(database.DB)

	uploader, err := media.NewCloudinaryUploader(config.Config("CLOUDINARY_URL"))
	if err != nil {
		zlog.Fatalf("Failed to initialize Cloudinary: %v", err)
	}

	verifier := auth.NewVerifier(config.Config("JWT_SECRET"))
	hub := ws.NewHub(zlog)
	router := ws.NewRouter(hub, messageStore, postStore, verifier, zlog)
	messageHandler := handlers.NewMessageHandler(messageStore, postStore, uploader, router, hub, zlog)

	c := cron.New()
	c.AddFunc("@midnight", func() { jobs.PurgeDeletedMessages(messageStore) })
	c.Start()

	app := fiber.New(fiber.Config{
		AppName:       "Mingle",
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			zlog.Errorw("request failed", "error", err, "path", c.Path(), "method", c.Method())
			return c.Status(code).JSON(fiber.Map{
				"status":  "error",
				"code":    code,
				"message": err.Error(),
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods:  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders: "Content-Length, Authorization",
		MaxAge:        86400,
	}))
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "success",
			"message": "Welcome to Mingle API",
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	routes.AuthRoutes(app)
	routes.MessageRoutes(app, messageHandler, router)

	port := config.Config("PORT")
	if port == "" {
		port = "8080"
	}
	zlog.Infof("Server is running on port %s", port)
	if err := app.Listen(":" + port); err != nil {
		zlog.Fatalf("Server failed to start: %v", err)
	}
}
