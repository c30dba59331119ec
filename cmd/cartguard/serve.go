package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/config"
	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/limitstore"
)

// runServeCmd implements `cartguard serve`.
func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		addr       = cmd.String("addr", ":"+cfg.Port, "listen address")
		prefix     = cmd.String("prefix", limitstore.DefaultPrefix, "mount point of the lookup routes")
		sqlitePath = cmd.String("sqlite", "", "persist limits in this SQLite file (ignored when LIMITS_DATABASE_URL is set)")
		rps        = cmd.Float64("rps", 20, "per-IP requests per second")
		burst      = cmd.Int("burst", 40, "per-IP burst")
	)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	setupLogging(stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ls, kind, closeStore, err := openLimitStore(ctx, cfg, *sqlitePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeStore()

	rl := limitstore.NewRateLimiter(*rps, *burst)
	go rl.Run(ctx)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           limitstore.NewServer(ls, limitstore.WithRateLimiter(rl), limitstore.WithPrefix(*prefix)).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	_, _ = fmt.Fprintf(stdout, "%scartguard%s limit store (%s) listening on %s%s\n", ColorBold+ColorBlue, ColorReset, kind, *addr, *prefix)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
			return 1
		}
	}
	return 0
}
