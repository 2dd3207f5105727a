package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	"github.com/budvest/portfolio-engine/internal/directory"
	"github.com/budvest/portfolio-engine/internal/interpret"
	"github.com/budvest/portfolio-engine/internal/metrics"
	"github.com/budvest/portfolio-engine/internal/portfolio"
	"github.com/budvest/portfolio-engine/internal/quote"
	"github.com/budvest/portfolio-engine/internal/reconcile"
	"github.com/budvest/portfolio-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Stock directory ---
	dir := directory.Default()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quote source ---
	var quotes quote.Source
	if fmpKey := os.Getenv("FMP_API_KEY"); fmpKey != "" {
		quotes = quote.NewCache(quote.NewFMPClient(fmpKey, os.Getenv("FMP_BASE_URL")), time.Minute)
		slog.Info("FMP quote source enabled")
	} else {
		slog.Warn("FMP_API_KEY not set, using static directory prices")
		quotes = quote.NewStaticSource(dir)
	}

	// --- Command interpreter ---
	rules := interpret.NewRuleStrategy(dir)
	var interp *interpret.Interpreter
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg := openai.DefaultConfig(apiKey)
		if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
			cfg.BaseURL = base
		}
		modelName := os.Getenv("OPENAI_MODEL")
		if modelName == "" {
			modelName = openai.GPT4oMini
		}
		llm := interpret.NewLLMStrategy(openai.NewClientWithConfig(cfg), modelName, dir)
		interp = interpret.New(llm, rules)
		slog.Info("LLM interpretation enabled", "model", modelName)
	} else {
		slog.Warn("OPENAI_API_KEY not set, using rule-based interpretation only")
		interp = interpret.New(rules, rules)
	}

	// --- Reconciler ---
	rec := reconcile.New(dir, quotes)

	// --- WebSocket hub ---
	wsHub := portfolio.NewWSHub()
	go wsHub.Run()

	// --- Portfolio service ---
	svc := portfolio.NewService(dir, interp, rec, st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"portfolio-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for portfolio change events.
		r.Get("/ws", wsHub.HandleWS)

		// Command interpretation.
		r.Post("/commands/parse", svc.ParseCommand)
		r.Post("/commands/parse-batch", svc.ParseBatchCommand)

		// Command application.
		r.Post("/commands/apply", svc.ApplyCommand)
		r.Post("/commands/apply-batch", svc.ApplyBatchCommand)

		// Portfolio snapshots.
		r.Get("/portfolio/{userID}", svc.GetPortfolio)
		r.Put("/portfolio/{userID}", svc.PutPortfolio)
		r.Delete("/portfolio/{userID}", svc.DeletePortfolio)

		// Stock catalog.
		r.Get("/stocks", svc.ListStocks)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("portfolio-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down portfolio-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("portfolio-engine stopped")
}
