// Command contentcache serves the published content cache over HTTP.
//
// Configuration comes from the environment, optionally seeded from a .env
// file; see pkg/config for the variable names. The process keeps the cache in
// step with the store's change log until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-content-cache/internal/httpapi"
	"github.com/goliatone/go-content-cache/internal/logging"
	"github.com/goliatone/go-content-cache/pkg/config"
	"github.com/goliatone/go-content-cache/pkg/di"
)

const shutdownTimeout = 5 * time.Second

func main() {
	envFile := flag.String("env", ".env", "dotenv file to read before the environment")
	flag.Parse()

	if err := run(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, "contentcache:", err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	logs, err := logging.New().
		FromWriter(os.Stdout).
		FromPath(cfg.LogFile).
		Level(cfg.LogLevel).
		Console(cfg.LogConsole).
		Make()
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn().Err(err).Msg("close container")
		}
	}()

	if err := container.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.New(container.Facade(), logging.Component(logger, "http")).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Str("provider", string(container.Repo().Provider())).Msg("serving content cache")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info().Msg("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
