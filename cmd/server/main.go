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

	router "github.com/dkeye/Calls/internal/adapters/http"
	"github.com/dkeye/Calls/internal/adapters/rtc"
	"github.com/dkeye/Calls/internal/app"
	"github.com/dkeye/Calls/internal/app/orch"
	"github.com/dkeye/Calls/internal/config"
	"github.com/dkeye/Calls/internal/metrics"
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
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	m := metrics.New()
	o := &orch.Orchestrator{
		Registry:      app.NewRegistry(),
		Peers:         app.NewPeerRegistry(rtc.NewEngine(cfg.WebRTC.ICEServers)),
		Policy:        app.LogOnlyPolicy{},
		Errors:        orch.LogErrors{},
		Metrics:       m,
		AnnounceLeave: cfg.Signal.AnnounceLeave,
	}
	if cfg.Signal.KickSlow {
		o.Policy = app.KickSlowPolicy{}
	}
	if cfg.Signal.ErrorFrames {
		o.Errors = orch.ReplyErrors{Metrics: m}
	}
	if cfg.Signal.PeersReplyTo == config.PeersReplyToSender {
		o.PeersReplyTo = orch.ReplyToSender
	}

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Calls signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
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
