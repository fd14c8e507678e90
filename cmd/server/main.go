package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sudo-init-do/taskmarket/internal/bidding"
	"github.com/sudo-init-do/taskmarket/internal/clock"
	"github.com/sudo-init-do/taskmarket/internal/config"
	"github.com/sudo-init-do/taskmarket/internal/db"
	"github.com/sudo-init-do/taskmarket/internal/escrow"
	"github.com/sudo-init-do/taskmarket/internal/events"
	"github.com/sudo-init-do/taskmarket/internal/feed"
	"github.com/sudo-init-do/taskmarket/internal/matching"
	mware "github.com/sudo-init-do/taskmarket/internal/middleware"
	"github.com/sudo-init-do/taskmarket/internal/relay"
	"github.com/sudo-init-do/taskmarket/internal/store"
	"github.com/sudo-init-do/taskmarket/internal/store/memstore"
	"github.com/sudo-init-do/taskmarket/internal/store/pebblestore"
	"github.com/sudo-init-do/taskmarket/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := feed.NewHub()
	sinks := events.Fanout{hub}
	if len(cfg.KafkaBrokers) > 0 {
		r := relay.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer r.Close()
		sinks = append(sinks, r)
		log.Printf("[relay] publishing to %s on %v", cfg.KafkaTopic, cfg.KafkaBrokers)
	}

	st, ready, err := openStore(ctx, cfg, sinks)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	ledger := escrow.NewService(st, cfg.Params.EscrowLimits())
	platforms := bidding.NewService(st, cfg.Params.BiddingLimits())
	engine := matching.NewEngine(st, escrow.Port{}, cfg.Params.MarketParams())
	wallets := wallet.NewService(st)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(50)))

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "service": "taskmarket"})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		if err := ready(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "store unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready", "driver": cfg.StoreDriver})
	})

	auth := mware.JWTMiddleware([]byte(cfg.JWTSecret))

	escrow.NewHandler(ledger).Register(e.Group("/escrow"), auth)
	bidding.NewHandler(platforms).Register(e.Group("/bidding"), auth)
	matching.NewHandler(engine).Register(e.Group("/markets"), auth)
	feed.NewHandler(st, hub).Register(e.Group("/events"))

	wh := wallet.NewHandler(wallets)
	e.GET("/wallet/balance", wh.Balance, auth)

	admin := e.Group("/admin")
	admin.Use(auth)
	admin.Use(mware.AdminGuard)
	admin.POST("/wallets/:account/fund", wh.AdminFund)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// openStore builds the configured backend and a readiness probe for it.
func openStore(ctx context.Context, cfg config.Config, sink events.Sink) (store.Store, func(context.Context) error, error) {
	alwaysReady := func(context.Context) error { return nil }
	switch cfg.StoreDriver {
	case config.DriverPebble:
		st, err := pebblestore.Open(cfg.PebbleDir, pebblestore.WithClock(clock.System()), pebblestore.WithSink(sink))
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[store] pebble at %s", cfg.PebbleDir)
		return st, alwaysReady, nil
	case config.DriverPostgres:
		pool, err := db.Connect(ctx, cfg.DB.DSN())
		if err != nil {
			return nil, nil, err
		}
		return db.NewStore(pool, clock.System(), sink), pool.Ping, nil
	default:
		log.Printf("[store] in-memory; state is lost on exit")
		return memstore.New(memstore.WithClock(clock.System()), memstore.WithSink(sink)), alwaysReady, nil
	}
}
