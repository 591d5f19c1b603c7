package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wizdom13/ytdlnis/internal/config"
	"github.com/wizdom13/ytdlnis/internal/dispatch"
	"github.com/wizdom13/ytdlnis/internal/storage"
	"github.com/wizdom13/ytdlnis/internal/store"
	"github.com/wizdom13/ytdlnis/internal/token"
)

// Run starts the HTTP API tier and blocks until SIGINT/SIGTERM or ctx
// cancellation, then drains in-flight requests.
func Run(ctx context.Context, cfg *config.Config) error {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	rdb, err := store.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect state store: %w", err)
	}
	defer rdb.Close()
	st := store.New(rdb, cfg.JobTTL())

	provider, err := storage.FromConfig(cfg.Storage)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true

	SetupRouter(e, RouterConfig{
		Store:      st,
		Dispatcher: dispatch.New(st, cfg.Jobs.AllowedDomains, cfg.IdempotencyWindow()),
		Signer:     token.NewSigner(cfg.Token.Secret, cfg.TokenTTL()),
		Storage:    provider,
		APIKey:     cfg.Auth.APIKey,
		Limiter:    store.NewRateLimiter(st, cfg.Limits.RatePerWindow, cfg.RateWindow()),
		BaseURL:    cfg.Server.PublicBaseURL,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Str("addr", addr).Str("storage", provider.Name()).Msg("API tier started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	return nil
}
