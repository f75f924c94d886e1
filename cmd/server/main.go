package main

import (
	"context"
	"errors"
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
	"github.com/shopspring/decimal"

	"github.com/cryptosim/sim-engine/internal/config"
	"github.com/cryptosim/sim-engine/internal/ledger"
	"github.com/cryptosim/sim-engine/internal/market"
	"github.com/cryptosim/sim-engine/internal/metrics"
	"github.com/cryptosim/sim-engine/internal/store"
	"github.com/cryptosim/sim-engine/internal/stream"
	"github.com/cryptosim/sim-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	switch {
	case cfg.Postgres.URL != "":
		pool, err := pgxpool.New(context.Background(), cfg.Postgres.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

	case cfg.Redis.Addr != "":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewRedisStore(rdb)
		slog.Info("connected to Redis")

	default:
		slog.Warn("no store configured, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Restore or create the ledger ---
	var ldg *ledger.Ledger
	state, err := st.LoadState(context.Background())
	switch {
	case err == nil:
		ldg = ledger.Restore(state)
		slog.Info("portfolio restored",
			"cash", state.CashBalance.String(),
			"holdings", len(state.Holdings),
			"transactions", len(state.Transactions),
		)
	case errors.Is(err, store.ErrNotFound):
		ldg = ledger.New(decimal.NewFromFloat(cfg.App.StartingCash))
		slog.Info("starting fresh portfolio", "cash", cfg.App.StartingCash)
	default:
		slog.Error("failed to load portfolio state", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Service ---
	marketClient := market.NewClient(cfg.Market.URL)
	svc := trade.NewService(ldg, st, marketClient, wsHub)

	// --- Asset universe: live snapshot or synthetic fallback ---
	snapCtx, cancelSnap := context.WithTimeout(context.Background(), 15*time.Second)
	snap, err := marketClient.TopAssets(snapCtx, cfg.Market.TopAssets)
	cancelSnap()
	if err != nil {
		slog.Warn("market snapshot unavailable, using synthetic dataset", "err", err)
		snap = market.SyntheticSnapshot()
	}
	svc.SetUniverse(snap)

	// --- Price stream ---
	mgr := stream.NewManager(cfg.Stream.URL, stream.WithBackoff(cfg.Stream.Backoff))
	mgr.Subscribe(svc.HandleTick)
	mgr.Init(svc.Assets())
	defer mgr.Close()

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
		fmt.Fprintf(w, `{"status":"ok","service":"sim-engine","stream":"%s"}`, mgr.State())
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time tick broadcasts.
		r.Get("/ws", wsHub.HandleWS)

		// Trading.
		r.Post("/buy", svc.Buy)
		r.Post("/sell", svc.Sell)

		// Portfolio queries.
		r.Get("/portfolio", svc.Portfolio)
		r.Get("/transactions", svc.Transactions)
		r.Get("/prices", svc.Prices)

		// Market data passthrough for presentation.
		r.Get("/market", svc.Market)
		r.Get("/market/{assetID}/history", svc.MarketHistory)

		// Display preferences.
		r.Get("/preferences", svc.GetPreferences)
		r.Put("/preferences", svc.PutPreferences)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("sim-engine listening", "port", cfg.App.Port, "synthetic_data", snap.Synthetic)
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

	slog.Info("shutting down sim-engine...")
	mgr.Close()
	if err := st.SaveState(ctx, ldg.Snapshot()); err != nil {
		slog.Error("final save failed", "err", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("sim-engine stopped")
}
