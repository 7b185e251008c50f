// Command syncctl is an operator tool for inspecting and repairing sync
// state directly against the database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/runtheworld/internal/config"
	"example.com/runtheworld/internal/logging"
	persistence "example.com/runtheworld/internal/persistence/postgres"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: syncctl <command> [args]

commands:
  status <athlete-id>   show the athlete's sync state
  fix-stuck             mark every athlete stuck in SYNCING as FAILED
  clear <athlete-id>    delete the athlete's activities and stats, reset progress
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg := config.Load()
	logger := logging.Console(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)

	switch os.Args[1] {
	case "status":
		if len(os.Args) != 3 {
			usage()
		}
		athlete, err := repo.GetAthlete(ctx, os.Args[2])
		if err != nil {
			logger.Fatal().Err(err).Msg("load athlete")
		}
		if athlete == nil {
			logger.Fatal().Str("athlete_id", os.Args[2]).Msg("athlete not found")
		}
		count, err := repo.CountActivities(ctx, athlete.ID)
		if err != nil {
			logger.Fatal().Err(err).Msg("count activities")
		}
		event := logger.Info().
			Str("athlete_id", athlete.ID).
			Str("sync_status", string(athlete.SyncStatus)).
			Int("sync_progress", athlete.SyncProgress).
			Int("activities", count)
		if athlete.SyncTotal != nil {
			event = event.Int("sync_total", *athlete.SyncTotal)
		}
		if athlete.LastSyncAt != nil {
			event = event.Time("last_sync_at", *athlete.LastSyncAt)
		}
		event.Msg("sync state")

	case "fix-stuck":
		failed, err := repo.FailStuckSyncs(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("fail stuck syncs")
		}
		logger.Info().Int64("count", failed).Msg("marked stuck syncs as failed")

	case "clear":
		if len(os.Args) != 3 {
			usage()
		}
		athleteID := os.Args[2]
		if err := repo.DeleteAllActivities(ctx, athleteID); err != nil {
			logger.Fatal().Err(err).Msg("delete activities")
		}
		if err := repo.DeleteStats(ctx, athleteID); err != nil {
			logger.Fatal().Err(err).Msg("delete stats")
		}
		if err := repo.ResetSyncState(ctx, athleteID); err != nil {
			logger.Fatal().Err(err).Msg("reset sync state")
		}
		logger.Info().Str("athlete_id", athleteID).Msg("cleared sync data")

	default:
		usage()
	}
}
