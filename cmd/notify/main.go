package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-notify/internal/auth"
	"go-notify/internal/config"
	"go-notify/internal/db"
	"go-notify/internal/metrics"
	myMiddleware "go-notify/internal/middleware"
	"go-notify/internal/notify"
	"go-notify/internal/presence"
)

//go:embed index.html
var indexHTML []byte

func main() {
	// 1. Config & Flags
	cfgPath := flag.String("c", "", "config file (default: $NOTIFY_CONFIG, /etc/config/notify.yml, ./notify.yml)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		newLogger(false).Fatal("❌ load config failed", zap.Error(err))
	}

	log := newLogger(cfg.Log.Development)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	// 2. Optional dev schema (Platform Layer)
	if cfg.DB.Migrate {
		database, err := db.NewDatabase(cfg.Server.DBURL)
		if err != nil {
			log.Fatal("❌ Failed to connect to DB", zap.Error(err))
		}
		if err := database.AutoMigrate(ctx); err != nil {
			log.Fatal("❌ Migration failed", zap.Error(err))
		}
		database.Close()
		log.Info("✅ Notify triggers installed")
	}

	// 3. Identity Gate
	verifier, err := auth.NewVerifier(cfg.Auth.PK)
	if err != nil {
		log.Fatal("❌ Invalid auth.pk", zap.Error(err))
	}
	authMiddleware := myMiddleware.NewAuthMiddleware(verifier, log)

	// 4. Presence (optional, Redis)
	var tracker notify.Presence
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("❌ Failed to connect to Redis", zap.Error(err))
		}
		log.Info("✅ Connected to Redis", zap.String("addr", cfg.Redis.Addr))
		tracker = presence.NewTracker(redisClient)
	}

	// 5. Hub + Listener
	hub := notify.NewHub(cfg.Stream.Capacity)
	listener, err := notify.NewListener(log, hub, notify.PgDialer(cfg.Server.DBURL), notify.ListenerConfig{
		Channels:   notify.Channels,
		MinBackoff: cfg.Listener.MinBackoff,
		MaxBackoff: cfg.Listener.MaxBackoff,
	})
	if err != nil {
		log.Fatal("❌ Listener setup failed", zap.Error(err))
	}
	go func() {
		if err := listener.Run(ctx); err != nil {
			log.Error("listener stopped", zap.Error(err))
		}
	}()

	handler := notify.NewHandler(log, hub, tracker, cfg.Stream.KeepAlive)

	// 6. Define Routes
	r := chi.NewRouter()
	r.Use(myMiddleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(indexHTML)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/events", handler.ServeSSE)
		r.Get("/ws", handler.ServeWS)
		if tracker != nil {
			r.Get("/api/presence/{userID}", handler.ServePresence)
		}
	})

	// No WriteTimeout: event streams are long-lived.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("🚀 Notify server starting", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}

func newLogger(development bool) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if development {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return log
}
