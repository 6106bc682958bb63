package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gasroute/internal/api"
	"gasroute/internal/buildinfo"
	"gasroute/internal/config"
	"gasroute/internal/metrics"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "gasroute").Logger()
	if os.Getenv("LOG_PRETTY") != "" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	srv, err := api.NewServer(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init server")
	}

	mux := http.NewServeMux()

	// Schedules
	mux.HandleFunc("/v1/schedules/generate", srv.GenerateHandler)
	mux.HandleFunc("/v1/schedules", srv.SchedulesHandler)
	mux.HandleFunc("/v1/schedules/", srv.ScheduleByIDHandler) // includes /events/stream

	// Run event stream (WebSocket)
	mux.HandleFunc("/v1/runs/ws", srv.RunEventsWSHandler)

	// Configuration
	mux.HandleFunc("/v1/scheduler/config", srv.SchedulerConfigHandler)

	// Webhook subscriptions
	mux.HandleFunc("/v1/subscriptions", srv.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", srv.SubscriptionByIDHandler)

	// Admin
	mux.HandleFunc("/v1/admin/plan-metrics", srv.PlanMetricsHandler)

	// Docs
	mux.HandleFunc("/openapi.yaml", srv.OpenAPIHandler)
	mux.HandleFunc("/docs", srv.DocsHandler)

	// Health and metrics
	mux.HandleFunc("/healthz", srv.HealthHandler)
	mux.HandleFunc("/readyz", srv.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	worker := srv.NewWebhookWorker()
	worker.Start()

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Instrument(log, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("version", buildinfo.Version).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	close(worker.Stop)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
