package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/runtheworld/internal/api"
	"example.com/runtheworld/internal/config"
	"example.com/runtheworld/internal/engine"
	"example.com/runtheworld/internal/geocode"
	"example.com/runtheworld/internal/logging"
	"example.com/runtheworld/internal/outbox"
	persistence "example.com/runtheworld/internal/persistence/postgres"
	"example.com/runtheworld/internal/retry"
	"example.com/runtheworld/internal/stats"
	"example.com/runtheworld/internal/strava"
	httptransport "example.com/runtheworld/internal/transport/http"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	tokens := persistence.NewTokenRepository(pool)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, cfg.SyncEventsTopic)
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize, logger)
	go dispatcher.Start(ctx)

	provider := strava.New(strava.Config{
		APIBaseURL:   cfg.StravaAPIBaseURL,
		OAuthBaseURL: cfg.StravaOAuthBaseURL,
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		MinInterval:  cfg.StravaMinInterval,
	}, tokens, logger)

	geocodeLimiter := geocode.NewLimiter(cfg.GeocodeMinInterval)
	geocoder := geocode.New(cfg.NominatimBaseURL, geocodeLimiter, logger)

	aggregator := stats.NewAggregator(repo, repo, logger)
	recorder := outbox.NewRecorder(pool)
	policy := retry.New(cfg.RetryMaxAttempts, logger)

	syncEngine := engine.New(repo, repo, provider, geocoder, aggregator, recorder,
		policy, policy, engine.Config{
			PageSize:  cfg.SyncPageSize,
			PageDelay: cfg.SyncPageDelay,
		}, logger)

	handler := api.NewHandler(ctx, repo, repo, repo, syncEngine, provider, aggregator, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for local dev
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger; tags every request with an id for correlation
	requestLog := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)
			logger.Debug().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("request")
			next.ServeHTTP(w, r)
		})
	}

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, requestLog(cors(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress).Msg("sync service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-shutdownCh
	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
	}

	dispatcher.Wait()

	// Interrupted runs stay SYNCING; mark them FAILED so they are visibly
	// resumable after restart.
	failed, err := repo.FailStuckSyncs(shutdownCtx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not fail stuck syncs")
	} else if failed > 0 {
		logger.Info().Int64("count", failed).Msg("marked interrupted syncs as failed")
	}
}
