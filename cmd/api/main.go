package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/analytical-agent/backend/internal/agent"
	"github.com/analytical-agent/backend/internal/api/handlers"
	"github.com/analytical-agent/backend/internal/cache/redis"
	"github.com/analytical-agent/backend/internal/document"
	"github.com/analytical-agent/backend/internal/ingestion"
	"github.com/analytical-agent/backend/internal/llm"
	"github.com/analytical-agent/backend/internal/metrics"
	"github.com/analytical-agent/backend/internal/middleware/ratelimit"
	"github.com/analytical-agent/backend/internal/middleware/security"
	"github.com/analytical-agent/backend/internal/query"
	"github.com/analytical-agent/backend/internal/retrieval"
	"github.com/analytical-agent/backend/internal/storage/sqlite"
	"github.com/analytical-agent/backend/internal/tabular"
	"github.com/analytical-agent/backend/internal/vector"
	"github.com/analytical-agent/backend/pkg/config"
	appLogger "github.com/analytical-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting analytical agent API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var llmOpts []llm.Option
	if redisClient != nil {
		llmOpts = append(llmOpts, llm.WithEmbeddingCache(redisClient))
	}
	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		llmOpts...,
	)

	indexManager, err := vector.NewManager(cfg.Vector.DataDir)
	if err != nil {
		appLogger.Fatal("Failed to create vector index manager", zap.Error(err))
	}

	tableStore := tabular.NewStore()
	docStore := document.NewStore()

	processor := ingestion.NewProcessor(tableStore, docStore, indexManager, llmClient, sqliteClient, cfg.Vector.Dimension)
	engine := query.NewEngine(tableStore)
	orchestrator := retrieval.NewOrchestrator(llmClient, indexManager)
	queryAgent := agent.New(llmClient, engine, tableStore, docStore, orchestrator, indexManager, redisClient, sqliteClient)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	})
	defer rateLimiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: true,
	}))
	app.Use(rateLimiter.Middleware())

	ingestHandler := handlers.NewIngestHandler(processor)
	queryHandler := handlers.NewQueryHandler(queryAgent, sqliteClient)
	searchHandler := handlers.NewSearchHandler(orchestrator)
	sourceHandler := handlers.NewSourceHandler(queryAgent, processor)

	api := app.Group("/api/v1")

	api.Post("/ingest", ingestHandler.UploadFiles)
	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/query/history", queryHandler.GetQueryHistory)
	api.Post("/search", searchHandler.HandleSearch)
	api.Get("/status", sourceHandler.GetStatus)
	api.Delete("/sources/:id", sourceHandler.DeleteSource)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
