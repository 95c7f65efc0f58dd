package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/totegamma/domainbay/internal/infra/realtime"
	"github.com/totegamma/domainbay/internal/infra/telemetry"
	"github.com/totegamma/domainbay/internal/interface/rest"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Server.EnableTrace {
			shutdown, err := telemetry.SetupTraceProvider(ctx, cfg.Server.TraceEndpoint, "domainbay", version)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					slog.Warn("trace shutdown failed", slog.String("error", err.Error()), slog.String("module", "main"))
				}
			}()
		}

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var publisher rest.EventPublisher
		if !a.runtime.IsProduction() && a.redis != nil {
			publisher = realtime.NewPublisher(a.redis)
		}

		handler := rest.NewHandler(a.runtime, a.market, a.watchlist, a.sync, a.recorder, publisher)

		e := echo.New()
		e.HideBanner = true
		if cfg.Server.EnableTrace {
			e.Use(otelecho.Middleware("domainbay"))
		}
		e.Use(middleware.Logger())
		e.Use(middleware.Recover())
		e.Use(middleware.CORS())
		handler.RegisterRoutes(e)

		errCh := make(chan error, 1)
		go func() {
			slog.Info("listening", slog.String("addr", cfg.Server.Listen), slog.String("module", "main"))
			errCh <- e.Start(cfg.Server.Listen)
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			slog.Info("shutting down", slog.String("module", "main"))
		}

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	},
}
