package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/invoicewise/invoicewise/internal/adapter/ai"
	"github.com/invoicewise/invoicewise/internal/adapter/store"
	"github.com/invoicewise/invoicewise/internal/handler"
	"github.com/invoicewise/invoicewise/internal/mcp"
	"github.com/invoicewise/invoicewise/internal/middleware"
	"github.com/invoicewise/invoicewise/internal/service"
	"github.com/invoicewise/invoicewise/pkg/config"

	_ "github.com/lib/pq"
)

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()

	slog.Info("🚀 Starting InvoiceWise",
		"port", cfg.Port,
		"ollama_embed", cfg.OllamaEmbedURL,
		"ollama_chat", cfg.OllamaChatURL,
		"metric", string(cfg.Search.Metric),
		"mcp_enabled", cfg.MCPEnabled,
	)

	// ── Database ─────────────────────────────────────────────────────────
	pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	vectorStore := store.NewVectorStore(pgStore, cfg.EmbeddingDimension)

	// ── Adapters ─────────────────────────────────────────────────────────
	primaryAI := ai.NewOllamaProvider(
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaEmbedURL,
			Model:   cfg.OllamaEmbedModel,
			Token:   cfg.OllamaEmbedToken,
		},
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaChatURL,
			Model:   cfg.OllamaChatModel,
			Token:   cfg.OllamaChatToken,
		},
	)
	fallbackAI := ai.NewOllamaProvider(
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaEmbedURL,
			Model:   cfg.OllamaFallbackEmbedModel,
			Token:   cfg.OllamaEmbedToken,
		},
		ai.OllamaEndpointConfig{},
	)

	// ── Services ─────────────────────────────────────────────────────────
	embedder := service.NewEmbeddingService(
		primaryAI, fallbackAI,
		cfg.EmbeddingDimension,
		time.Duration(cfg.EmbedTimeoutMs)*time.Millisecond,
	)

	schemaCtx, err := service.LoadSchemaContext(cfg.SchemaContextPath)
	if err != nil {
		slog.Error("failed to load schema context", "error", err)
		os.Exit(1)
	}

	synthesizer := service.NewSQLSynthesizer(primaryAI, embedder, schemaCtx, cfg.Search)
	executor := store.NewExecutor(pgStore, time.Duration(cfg.QueryTimeoutMs)*time.Millisecond)
	resolver := service.NewResolver(synthesizer, executor, vectorStore, embedder, cfg.Search)

	classifier := service.NewIntentClassifier(primaryAI)
	extractor := service.NewExtractor(primaryAI)
	invoiceService := service.NewInvoiceService(pgStore, vectorStore, embedder)

	// ── Embedding backfill job ──────────────────────────────────────────
	if cfg.BackfillEnabled {
		backfill := service.NewBackfillJob(pgStore, vectorStore, embedder, cfg.BackfillBatch)
		if err := backfill.Start(cfg.BackfillSchedule); err != nil {
			slog.Error("failed to start backfill job", "error", err)
			os.Exit(1)
		}
		defer backfill.Stop()
	}

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))

	// Audit middleware (logs all requests)
	app.Use(middleware.AuditMiddleware(pgStore))

	// ── Public Routes ────────────────────────────────────────────────────
	jwtConfig := middleware.JWTConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		ExpiresIn: time.Duration(cfg.JWTExpiration) * time.Hour,
	}

	authHandler := handler.NewAuthHandler(pgStore, jwtConfig)
	authHandler.Register(app)

	messageHandler := handler.NewMessageHandler(pgStore, classifier, resolver, extractor, invoiceService, primaryAI)
	messageHandler.Register(app)

	// Health check
	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"app":     cfg.AppName,
			"version": "1.0.0",
		})
	})

	// ── Protected Routes ─────────────────────────────────────────────────
	api := app.Group("/api/v1", middleware.JWTMiddleware(jwtConfig))

	authHandler.RegisterProtected(api)

	queryHandler := handler.NewQueryHandler(resolver)
	queryHandler.Register(api)

	invoiceHandler := handler.NewInvoiceHandler(invoiceService, extractor)
	invoiceHandler.Register(api)

	auditHandler := handler.NewAuditHandler(pgStore)
	auditHandler.Register(api)

	// ── MCP Server (separate port) ───────────────────────────────────────
	if cfg.MCPEnabled {
		mcpServer := mcp.NewServer(resolver, vectorStore, embedder, cfg.Search, cfg.MCPPort)
		go func() {
			if err := mcpServer.Start(); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	// ── Start ────────────────────────────────────────────────────────────
	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
