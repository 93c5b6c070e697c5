package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/config"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/queue"
	mid "github.com/OFFIS-RIT/kiwi-textbook/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/server/routes"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/storage"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the HTTP API around app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	apiRoutes := e.Group("/api", mid.AuthMiddleware)
	apiRoutes.POST("/query", routes.QueryHandler)
	apiRoutes.POST("/ingest", routes.IngestHandler)
}

// Init wires the server from cfg and serves until SIGINT or SIGTERM.
func Init(cfg *config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aiClient, err := cfg.NewAIClient()
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}

	graphStore, err := cfg.NewStore(ctx)
	if err != nil {
		logger.Fatal("Failed to open graph store", "err", err)
	}
	defer graphStore.Close(context.Background())

	objects, err := storage.NewObjectStore(ctx, cfg.S3)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}

	app := &mid.App{
		Answerer: cfg.NewAnswerer(aiClient, graphStore, objects),
		APIKey:   cfg.APIKey,
	}

	conn, err := queue.Init(cfg.Rabbit)
	if err != nil {
		logger.Warn("Ingestion disabled, queue unavailable", "err", err)
	} else {
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
		}
		app.Ingest = queue.NewPublisher(ch, queue.IngestQueue)
	}

	e := New(app)

	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
