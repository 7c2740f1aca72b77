package server

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/makeasinger/playground/internal/config"
	"github.com/makeasinger/playground/internal/handler"
	"github.com/makeasinger/playground/internal/middleware"
	"github.com/makeasinger/playground/pkg/response"
)

type RouterConfig struct {
	Config *config.Config

	HealthHandler   *handler.HealthHandler
	AuthHandler     *handler.AuthHandler
	JobHandler      *handler.JobHandler
	LibraryHandler  *handler.LibraryHandler
	LyricsHandler   *handler.LyricsHandler
	AccountHandler  *handler.AccountHandler
	RealtimeHandler *handler.RealtimeHandler

	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter

	// RequestLog enables the Fiber access log.
	RequestLog bool
}

func NewRouter(cfg RouterConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    4 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	if cfg.RequestLog {
		logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
		if strings.EqualFold(cfg.Config.Server.LogLevel, "debug") {
			logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams}\n"
		}
		app.Use(fiberLogger.New(fiberLogger.Config{
			Format: logFormat,
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Public
	app.Get("/", cfg.HealthHandler.Root)
	app.Get("/health", cfg.HealthHandler.Health)
	app.Post("/api/login", cfg.AuthHandler.Login)
	app.Post("/api/callback", cfg.JobHandler.Callback)

	// Realtime, token in the query string
	app.Use("/ws", cfg.RealtimeHandler.RequireUpgrade)
	app.Get("/ws", cfg.AuthMiddleware.AuthenticateQuery(), cfg.RealtimeHandler.Serve())

	// Protected
	api := app.Group("/api", cfg.AuthMiddleware.Authenticate())

	// Jobs
	jobs := api.Group("/jobs")
	jobs.Post("/", cfg.RateLimiter.JobsLimit(cfg.Config.RateLimit.JobsPerHour), cfg.JobHandler.Submit)
	jobs.Get("/:jobId/status", cfg.JobHandler.Status)

	// Songs
	songs := api.Group("/songs")
	songs.Get("/", cfg.LibraryHandler.ListSongs)
	songs.Delete("/:id", cfg.LibraryHandler.DeleteSong)
	songs.Put("/:id/favorite", cfg.LibraryHandler.SetFavorite)
	songs.Put("/:id/move", cfg.LibraryHandler.Move)
	songs.Get("/:id/stream", cfg.LibraryHandler.Stream)

	// Images
	images := api.Group("/images")
	images.Get("/", cfg.LibraryHandler.ListImages)
	images.Delete("/:id", cfg.LibraryHandler.DeleteImage)

	// Projects
	projects := api.Group("/projects")
	projects.Get("/", cfg.LibraryHandler.ListProjects)
	projects.Post("/", cfg.LibraryHandler.CreateProject)
	projects.Delete("/:id", cfg.LibraryHandler.DeleteProject)

	// Lyrics and account
	api.Post("/lyrics", cfg.RateLimiter.LyricsLimit(cfg.Config.RateLimit.LyricsPerMin), cfg.LyricsHandler.Get)
	api.Get("/credits", cfg.AccountHandler.Credits)
	api.Post("/style/boost", cfg.AccountHandler.BoostStyle)

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusUnauthorized:
		errCode = response.CodeUnauthorized
	case fiber.StatusBadRequest, fiber.StatusUpgradeRequired, fiber.StatusRequestEntityTooLarge:
		errCode = response.CodeValidationError
	}
	return response.Error(c, code, errCode, message, nil)
}
