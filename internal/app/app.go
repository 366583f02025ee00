package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"neurogallery/internal/classifier"
	"neurogallery/internal/classifier/ollama"
	"neurogallery/internal/classifier/onnx"
	"neurogallery/internal/config"
	"neurogallery/internal/handlers"
	"neurogallery/internal/logger"
	"neurogallery/internal/registry"
	"neurogallery/internal/services"
	"neurogallery/internal/storage"
	"neurogallery/internal/storage/disk"
	"neurogallery/internal/storage/gcs"
	"neurogallery/internal/views"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func Run() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.ServiceName)
	ctx := context.Background()

	store, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	cls, err := newClassifier(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize classifier: %v", err)
	}
	if cls != nil {
		defer cls.Close()
	}

	feed := handlers.NewFeedManager()
	gallery := services.NewGalleryService(store, registry.New(), services.GalleryOptions{
		Classifier:      cls,
		ClassifyTimeout: cfg.ClassifyTimeout,
		Thumbnails: services.ThumbnailOptions{
			Width:   cfg.ThumbWidth,
			Height:  cfg.ThumbHeight,
			Quality: cfg.ThumbQuality,
		},
		Publisher: feed,
	})

	app := New(cfg, gallery, store, feed)

	logger.Info(ctx, "server starting", logger.Fields{
		"addr":        cfg.Addr(),
		"storage":     cfg.Storage,
		"classifier":  cfg.Classifier,
		"server_side": cfg.ServerSide(),
	})
	go func() {
		if err := app.Listen(cfg.Addr()); err != nil {
			log.Panic(err)
		}
	}()

	// Graceful Shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c
	logger.Info(ctx, "gracefully shutting down")
	_ = app.Shutdown()
	logger.Info(ctx, "server shutdown complete")
}

// New builds the fiber application with all routes.
func New(cfg *config.Config, gallery *services.GalleryService, store storage.Store, feed *handlers.FeedManager) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               cfg.ServiceName,
		BodyLimit:             cfg.MaxUploadBytes,
		Views:                 views.New(),
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New())

	// Gallery page
	app.Get("/", handlers.IndexHandler(gallery))
	app.Post("/", handlers.SubmitHandler(gallery))
	app.Get("/uploads/:key", handlers.UploadsHandler(store))

	// JSON API
	api := app.Group("/api")
	api.Get("/photos", handlers.ListPhotosHandler(gallery))
	api.Post("/photos", handlers.CreatePhotoHandler(gallery))

	// Health Check
	app.Get("/health", handlers.HealthHandler(gallery, feed))

	// Live feed
	app.Use("/ws", handlers.WSUpgradeMiddleware)
	app.Get("/ws", handlers.WebSocketHandler(feed))

	return app
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage {
	case config.StorageGCS:
		return gcs.New(ctx, cfg.GCSBucket, cfg.GCSPrefix, cfg.GCSEndpoint)
	default:
		return disk.New(cfg.UploadDir)
	}
}

// newClassifier returns nil for browser-side classification.
// newClassifier returns nil when classification happens in the browser.
func newClassifier(cfg *config.Config) (classifier.Classifier, error) {
	if !cfg.ServerSide() {
		return nil, nil
	}
	switch cfg.Classifier {
	case config.ClassifierONNX:
		c, err := onnx.New(cfg.ModelPath, cfg.MetadataPath, cfg.OnnxRuntimeLib)
		if err != nil {
			return nil, err
		}
		logger.Info(context.Background(), "model loaded", logger.Fields{
			"model":   cfg.ModelPath,
			"classes": len(c.Metadata.Classes),
		})
		return c, nil
	case config.ClassifierOllama:
		c, err := ollama.NewClient(cfg.OllamaURL, cfg.OllamaModel)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown classifier %q", cfg.Classifier)
	}
}

// errorHandler answers JSON under /api and plain text elsewhere.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	msg := err.Error()
	if code == fiber.StatusInternalServerError && e == nil {
		msg = "internal server error"
	}

	if strings.HasPrefix(c.Path(), "/api") {
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(code).SendString(msg)
}
