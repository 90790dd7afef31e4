package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/voiceforge/api/internal/client"
	"github.com/voiceforge/api/internal/config"
	"github.com/voiceforge/api/internal/handler"
	"github.com/voiceforge/api/internal/middleware"
	"github.com/voiceforge/api/internal/service"
	"github.com/voiceforge/api/internal/store"
	"github.com/voiceforge/api/internal/synth"
	"github.com/voiceforge/api/internal/worker"
	ws "github.com/voiceforge/api/internal/websocket"
)

// @title          VoiceForge API
// @version        1.0
// @description    Backend API for VoiceForge — voice cloning and speech generation.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize storage: R2 when configured, local filesystem otherwise
	var storage client.StorageClient
	if cfg.Storage.R2AccessKeyID != "" && cfg.Storage.R2SecretAccessKey != "" {
		r2, err := client.NewR2Client(&cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to initialize R2 storage: %v", err)
		}
		storage = r2
		log.Println("Using R2 object storage")
	} else {
		local, err := client.NewLocalStorage(cfg.Storage.Dir)
		if err != nil {
			log.Fatalf("Failed to initialize local storage: %v", err)
		}
		storage = local
		log.Printf("Using local storage at %s", cfg.Storage.Dir)
	}

	// Initialize synthesis backends and pick the active one
	replicateClient := client.NewReplicateClient(&cfg.Replicate)
	stubSynth := synth.NewStubSynthesizer(storage)
	var remoteSynth synth.Synthesizer
	if replicateClient.IsConfigured() {
		remoteSynth = synth.NewReplicateSynthesizer(replicateClient, storage)
	}
	synthesizer := synth.Select(ctx, remoteSynth, stubSynth)

	// Fallback policy: retry a failed remote synthesis once on the stub
	var fallbackSynth synth.Synthesizer
	if cfg.Generation.FallbackToStub && remoteSynth != nil && synthesizer == remoteSynth {
		fallbackSynth = stubSynth
	}

	// Initialize stores
	generationStore := store.NewGenerationStore(redisClient)
	sampleStore := store.NewSampleStore(redisClient)

	// Initialize services
	synthTimeout := time.Duration(cfg.Generation.TimeoutSeconds) * time.Second
	generationService := service.NewGenerationService(
		generationStore, sampleStore, storage, asynqClient, synthesizer, synthTimeout)
	sampleService := service.NewSampleService(sampleStore, storage, cfg.Generation.MaxSampleBytes)

	// Initialize handlers
	generationHandler := handler.NewGenerationHandler(generationService, validate)
	sampleHandler := handler.NewSampleHandler(sampleService, validate, cfg.Generation.MaxSampleBytes)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.Generation.MaxSampleBytes),
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		redisOK := redisClient.Ping(c.Context()).Err() == nil
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":    redisOK,
				"provider": synthesizer.Name(),
				"storage":  storage != nil,
				"auth":     cfg.JWT.Secret != "",
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	// Generation routes
	generations := api.Group("/generations")
	generations.Post("/", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), generationHandler.Create)
	generations.Get("/", generationHandler.List)
	generations.Get("/:id", generationHandler.Get)
	generations.Get("/:id/status", generationHandler.Status)
	generations.Get("/:id/download", generationHandler.Download)
	generations.Post("/:id/retry", generationHandler.Retry)
	generations.Delete("/:id", generationHandler.Delete)

	// Sample routes
	samples := api.Group("/samples")
	samples.Post("/", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), sampleHandler.Upload)
	samples.Get("/", sampleHandler.List)
	samples.Get("/:id", sampleHandler.Get)
	samples.Delete("/:id", sampleHandler.Delete)

	// WebSocket routes. Browsers cannot set headers on upgrade requests, so
	// the token arrives as a query parameter.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		claims, err := authMiddleware.ValidateToken(c.Query("token"))
		if err != nil {
			return fiber.ErrUnauthorized
		}
		c.Locals("userId", claims.UserID)
		return c.Next()
	})

	app.Get("/ws/generations/:id", websocket.New(func(c *websocket.Conn) {
		id := c.Params("id")
		userID, _ := c.Locals("userId").(string)
		gen, err := generationStore.GetGeneration(context.Background(), id)
		if err != nil || gen.OwnerID != userID {
			c.Close()
			return
		}
		hub.HandleConnection(c, ws.GenerationTopic(id))
	}))

	app.Get("/ws/users/:id", websocket.New(func(c *websocket.Conn) {
		id := c.Params("id")
		userID, _ := c.Locals("userId").(string)
		if id != userID {
			c.Close()
			return
		}
		hub.HandleConnection(c, ws.UserTopic(id))
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, generationStore, sampleStore, synthesizer, fallbackSynth, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	generations *store.GenerationStore,
	samples *store.SampleStore,
	synthesizer synth.Synthesizer,
	fallback synth.Synthesizer,
	hub *ws.Hub,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Generation.Concurrency,
			Queues: map[string]int{
				service.QueueCritical: 6,
				service.QueueDefault:  3,
			},
			LogLevel: asynqLogLevel,
		},
	)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	workerID := hostname + "-" + uuid.NewString()[:8]

	timeout := time.Duration(cfg.Generation.TimeoutSeconds) * time.Second
	generationWorker := worker.NewGenerationWorker(
		workerID, generations, samples, synthesizer, fallback, hub, timeout)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGeneration, generationWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
