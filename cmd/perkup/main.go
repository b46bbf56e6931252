package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"

	"github.com/dukerupert/perkup/internal/config"
	"github.com/dukerupert/perkup/internal/database"
	"github.com/dukerupert/perkup/internal/logging"
	"github.com/dukerupert/perkup/internal/scheduler"
	"github.com/dukerupert/perkup/internal/server"
	"github.com/dukerupert/perkup/internal/signin"
)

const (
	startupExpiryDelay = 5 * time.Second
	rateLimitSweep     = 5 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "perkup: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("PERKUP_CONFIG_DIR"))
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	clk := clock.WallClock
	srv := server.New(db, server.Options{
		Location:       cfg.Location,
		SessionTTL:     cfg.SessionTTL,
		BcryptCost:     cfg.BcryptCost,
		SecureCookies:  cfg.SecureCookies,
		OriginPatterns: cfg.AllowedOrigins,
	}, clk, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sign-in needs a config for the current week even before the first
	// weekly run.
	if _, err := srv.SignIns().CurrentConfig(ctx); errors.Is(err, signin.ErrNoConfig) {
		if _, err := srv.SignIns().BuildWeekConfig(ctx, clk.Now()); err != nil {
			return fmt.Errorf("seed sign-in config: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("load sign-in config: %w", err)
	}

	if cfg.EnableScheduler {
		sched := scheduler.New(cfg.Location, logger.With("component", "scheduler"))
		if err := scheduler.Register(sched, srv.Jobs(cfg.CouponRetention)); err != nil {
			return fmt.Errorf("register jobs: %w", err)
		}
		sched.Start()
		sched.RunAfter(scheduler.JobCouponExpiry, startupExpiryDelay)
		defer sched.Stop()
	}

	go func() {
		ticker := time.NewTicker(rateLimitSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := srv.RateLimiter().Sweep(); n > 0 {
					logger.Debug("rate limiter swept", "keys", n)
				}
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("perkup listening", "addr", httpServer.Addr, "timezone", cfg.Timezone)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
