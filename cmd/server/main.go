package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Roulette/internal/adapters/http"
	sig "github.com/dkeye/Roulette/internal/adapters/signal"
	"github.com/dkeye/Roulette/internal/app"
	"github.com/dkeye/Roulette/internal/app/broker"
	"github.com/dkeye/Roulette/internal/app/metrics"
	"github.com/dkeye/Roulette/internal/app/presence"
	"github.com/dkeye/Roulette/internal/auth"
	"github.com/dkeye/Roulette/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	policy, err := broker.ParsePolicy(cfg.PairingPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("pairing policy")
	}
	tokens, err := auth.NewTokens(auth.Config{TTL: cfg.TokenTTL, SecretKeyHex: cfg.TokenKey})
	if err != nil {
		log.Fatal().Err(err).Msg("token config")
	}
	if cfg.TokenKey == "" {
		log.Warn().Msg("token_key not set, tokens will not survive a restart")
	}

	m := metrics.New()
	reg := app.NewRegistry()
	b := broker.New(reg, broker.Options{Policy: policy, Stats: m})

	ctl := sig.NewSignalWSController(sig.Deps{
		Broker:   b,
		Registry: reg,
		Presence: presence.NewCounter(reg, m),
		Tokens:   tokens,
		Limiter:  sig.NewRateLimiter(cfg.FindMatchLimit, cfg.FindMatchWindow),
	}, sig.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		WriteWait:  cfg.WriteWait,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Signal:       ctl,
		Tokens:       tokens,
		TokenLimiter: sig.NewRateLimiter(cfg.TokenLimit, cfg.TokenWindow),
		Metrics:      m.Handler(),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("policy", policy.Name()).Msg("Roulette server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
