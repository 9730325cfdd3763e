// Package server assembles the Fiber application: middleware, integrations
// built from configuration, and every route.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pal-backend/internal/config"
	"pal-backend/internal/content"
	"pal-backend/internal/crypto"
	"pal-backend/internal/database"
	"pal-backend/internal/gmb"
	"pal-backend/internal/magiclink"
	"pal-backend/internal/metrics"
	"pal-backend/internal/ratelimit"
	"pal-backend/internal/sms"
	"pal-backend/internal/speech"
	"pal-backend/internal/storage"
)

const (
	loginWindow     = time.Minute
	magicLinkLimit  = 5
	magicLinkWindow = 10 * time.Minute
	magicLinkSweep  = time.Minute
)

// Deps are the integrations routes are wired to. Build fills them from
// configuration; tests construct them directly.
type Deps struct {
	Store      storage.ObjectStore
	LocalRoot  string // served under /uploads when Store is local
	Limiter    ratelimit.Limiter
	MagicLinks magiclink.Store
	SMS        *sms.Service
	Content    *content.Service
	Speech     speech.Synthesizer
	GMB        *gmb.Service
}

type Server struct {
	App     *fiber.App
	cfg     *config.Config
	log     *zap.Logger
	closers []func()
}

// Build creates every integration from cfg and returns a ready server.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	var (
		deps    Deps
		closers []func()
	)

	if cfg.SupabaseEnabled() {
		store, err := storage.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.Key, cfg.Supabase.Bucket)
		if err != nil {
			return nil, err
		}
		deps.Store = store
		log.Info("photo storage: supabase", zap.String("bucket", cfg.Supabase.Bucket))
	} else {
		local := storage.NewLocalStore(cfg.PhotoStoragePath, cfg.PublicBaseURL)
		deps.Store = local
		deps.LocalRoot = local.Root()
		log.Info("photo storage: local directory", zap.String("path", local.Root()))
	}

	if cfg.RedisEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		deps.Limiter = ratelimit.NewRedis(rdb, log)
		deps.MagicLinks = magiclink.NewRedisStore(rdb)
		closers = append(closers, func() { _ = rdb.Close() })
		log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	} else {
		deps.Limiter = ratelimit.NewMemory()
		mem := magiclink.NewMemoryStore(magicLinkSweep)
		deps.MagicLinks = mem
		closers = append(closers, deps.Limiter.Close, mem.Close)
		log.Warn("redis not configured, magic links and rate limits are process-local")
	}

	var sender sms.Sender
	if cfg.TwilioEnabled() {
		sender = sms.NewTwilioSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber)
	} else {
		log.Warn("twilio not configured, sms disabled")
	}
	deps.SMS = sms.NewService(sender, log)

	var gen content.Generator
	if cfg.GeminiEnabled() {
		g, err := content.NewGeminiGenerator(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return nil, err
		}
		gen = g
	} else {
		log.Warn("gemini not configured, content generation disabled")
	}
	deps.Content = content.NewService(gen, log)

	if cfg.ElevenLabsEnabled() {
		deps.Speech = speech.NewClient(cfg.ElevenLabs.BaseURL, cfg.ElevenLabs.APIKey, cfg.ElevenLabs.VoiceID)
	}

	cipher, err := crypto.NewCipher(cfg.TokenEncryptionKey)
	if err != nil {
		return nil, err
	}
	deps.GMB = gmb.NewService(cfg, cipher, log)

	s := New(cfg, log, deps)
	s.closers = closers
	return s, nil
}

// New builds the Fiber app around already constructed dependencies.
func New(cfg *config.Config, log *zap.Logger, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "pal-backend",
		BodyLimit:    int(cfg.PhotoMaxBytes) + 1<<20,
		ErrorHandler: errorHandler(log),
	})

	origins := strings.Split(cfg.CORSOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowCredentials: !strings.Contains(cfg.CORSOrigins, "*"),
	}))
	app.Use(requestLogger(log))
	app.Use(metrics.Middleware())

	app.Get("/metrics", metrics.Handler())
	app.Get("/healthz", healthHandler())
	if deps.LocalRoot != "" {
		app.Static("/uploads", deps.LocalRoot)
	}

	registerRoutes(app, cfg, deps)

	return &Server{App: app, cfg: cfg, log: log}
}

func (s *Server) Listen() error {
	addr := ":" + s.cfg.HTTPPort
	s.log.Info("listening", zap.String("addr", addr))
	return s.App.Listen(addr)
}

// Shutdown stops accepting requests, waits for in-flight ones, then releases
// integrations.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.App.ShutdownWithContext(ctx)
	for _, c := range s.closers {
		c()
	}
	return err
}

func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		log.Error("unhandled error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Unexpected server error"})
	}
}

func requestLogger(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
		}
		if status >= fiber.StatusInternalServerError {
			log.Warn("request", fields...)
		} else {
			log.Debug("request", fields...)
		}
		return err
	}
}

func healthHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sqlDB, err := database.DB.DB()
		if err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "Database unavailable")
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "Database unavailable")
		}
		return c.JSON(fiber.Map{"status": "ok"})
	}
}
