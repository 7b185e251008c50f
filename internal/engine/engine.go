// Package engine orchestrates the activity sync pipeline: paging through the
// provider, enriching location data, batching writes and keeping the derived
// location stats current.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"example.com/runtheworld/internal/domain"
	"example.com/runtheworld/internal/geocode"
	"example.com/runtheworld/internal/observability"
	"example.com/runtheworld/internal/outbox"
	"example.com/runtheworld/internal/retry"
	"example.com/runtheworld/internal/strava"
)

// Defaults for the page loop. Tests shrink these through Config.
const (
	DefaultPageSize      = 200
	DefaultProgressEvery = 10
	DefaultFlushEvery    = 20
	DefaultPageDelay     = time.Second
)

// Provider is the slice of the activity API the engine consumes.
type Provider interface {
	ListActivities(ctx context.Context, athleteID string, page, perPage int) ([]strava.ActivitySummary, error)
	GetActivity(ctx context.Context, athleteID string, activityID int64) (*strava.ActivityDetail, error)
	GetAthleteStats(ctx context.Context, athleteID string) (*strava.AthleteStats, error)
}

// Geocoder resolves a coordinate pair to an administrative area.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) geocode.Location
}

// Aggregator recomputes the athlete's location stats.
type Aggregator interface {
	Recompute(ctx context.Context, athleteID string) error
}

// EventRecorder appends sync lifecycle events for asynchronous delivery.
type EventRecorder interface {
	Record(ctx context.Context, event outbox.Event) error
}

// Config tunes the page loop. Zero fields fall back to the defaults.
type Config struct {
	PageSize      int
	ProgressEvery int
	FlushEvery    int
	PageDelay     time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = DefaultProgressEvery
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = DefaultFlushEvery
	}
	if c.PageDelay <= 0 {
		c.PageDelay = DefaultPageDelay
	}
	return c
}

// Engine runs one athlete's sync at a time, sequentially within a run.
type Engine struct {
	athletes    domain.AthleteStore
	activities  domain.ActivityStore
	provider    Provider
	geocoder    Geocoder
	aggregator  Aggregator
	events      EventRecorder
	listRetry   retry.Policy
	detailRetry retry.Policy
	cfg         Config
	leases      *leaseSet
	logger      zerolog.Logger
}

// New constructs an Engine.
func New(
	athletes domain.AthleteStore,
	activities domain.ActivityStore,
	provider Provider,
	geocoder Geocoder,
	aggregator Aggregator,
	events EventRecorder,
	listRetry retry.Policy,
	detailRetry retry.Policy,
	cfg Config,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		athletes:    athletes,
		activities:  activities,
		provider:    provider,
		geocoder:    geocoder,
		aggregator:  aggregator,
		events:      events,
		listRetry:   listRetry,
		detailRetry: detailRetry,
		cfg:         cfg.withDefaults(),
		leases:      newLeaseSet(),
		logger:      logger.With().Str("component", "engine").Logger(),
	}
}

// errAthleteDeleted signals mid-run account deletion inside the page loop.
// Sync maps it to a silent exit.
var errAthleteDeleted = errors.New("athlete deleted mid-run")

// Sync runs one full sync for the athlete. It returns ErrSyncInProgress when
// a run already holds the athlete's lease, nil when the run completed or the
// athlete was deleted mid-run, and the causing error otherwise. Cancelling
// ctx stops the run between pages without writing a terminal status.
func (e *Engine) Sync(ctx context.Context, athleteID string) error {
	if err := e.leases.acquire(athleteID); err != nil {
		return err
	}
	defer e.leases.release(athleteID)

	athlete, err := e.athletes.GetAthlete(ctx, athleteID)
	if err != nil {
		return fmt.Errorf("load athlete: %w", err)
	}
	if athlete == nil {
		return domain.ErrAthleteNotFound
	}

	logger := e.logger.With().Str("athlete_id", athleteID).Logger()

	startedAt := time.Now().UTC()
	if err := e.athletes.MarkSyncStarted(ctx, athleteID, startedAt); err != nil {
		return fmt.Errorf("mark sync started: %w", err)
	}
	e.recordEvent(ctx, outbox.Event{
		Type:       outbox.EventSyncStarted,
		AthleteID:  athleteID,
		Processed:  athlete.SyncProgress,
		OccurredAt: startedAt,
	})

	logger.Info().Int("resume_from", athlete.SyncProgress).Msg("sync started")

	processed, err := e.run(ctx, logger, athleteID, athlete.SyncProgress)
	switch {
	case err == nil:
		completedAt := time.Now().UTC()
		if err := e.athletes.MarkSyncCompleted(ctx, athleteID, completedAt); err != nil {
			if errors.Is(err, domain.ErrAthleteNotFound) {
				// Deleted in the window between the last page and here.
				logger.Info().Msg("athlete deleted mid-run, stopping")
				return nil
			}
			return fmt.Errorf("mark sync completed: %w", err)
		}
		e.recordEvent(ctx, outbox.Event{
			Type:       outbox.EventSyncCompleted,
			AthleteID:  athleteID,
			Processed:  processed,
			OccurredAt: completedAt,
		})
		logger.Info().Int("processed", processed).Msg("sync completed")
		return nil

	case errors.Is(err, errAthleteDeleted), errors.Is(err, domain.ErrAthleteNotFound):
		// The account vanished mid-run. Nothing left to update.
		logger.Info().Msg("athlete deleted mid-run, stopping")
		return nil

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Shutdown owns the status transition for interrupted runs.
		logger.Info().Int("processed", processed).Msg("sync cancelled")
		return err

	default:
		if _, throttled := domain.IsThrottled(err); throttled {
			observability.RecordThrottle()
		}
		// Best effort: the athlete may have been deleted concurrently.
		if markErr := e.athletes.MarkSyncFailed(ctx, athleteID); markErr != nil {
			logger.Warn().Err(markErr).Msg("could not mark sync failed")
		}
		e.recordEvent(ctx, outbox.Event{
			Type:       outbox.EventSyncFailed,
			AthleteID:  athleteID,
			Processed:  processed,
			OccurredAt: time.Now().UTC(),
			Reason:     err.Error(),
		})
		logger.Error().Err(err).Int("processed", processed).Msg("sync failed")
		return err
	}
}

// run executes the page loop and returns the number of activities processed
// across the whole run, on top of the resume baseline.
func (e *Engine) run(ctx context.Context, logger zerolog.Logger, athleteID string, baseline int) (int, error) {
	e.persistExpectedTotal(ctx, logger, athleteID)

	totalProcessed := 0
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return totalProcessed, err
		}

		exists, err := e.athletes.AthleteExists(ctx, athleteID)
		if err != nil {
			return totalProcessed, fmt.Errorf("athlete existence check: %w", err)
		}
		if !exists {
			return totalProcessed, errAthleteDeleted
		}

		var summaries []strava.ActivitySummary
		err = e.listRetry.Do(ctx, func() error {
			var listErr error
			summaries, listErr = e.provider.ListActivities(ctx, athleteID, page, e.cfg.PageSize)
			return listErr
		})
		if err != nil {
			return totalProcessed, fmt.Errorf("list page %d: %w", page, err)
		}
		observability.RecordPageFetched()

		if len(summaries) == 0 {
			break
		}

		processed, err := e.processPage(ctx, logger, athleteID, baseline+totalProcessed, summaries)
		totalProcessed += processed
		if err != nil {
			return totalProcessed, err
		}

		if err := e.athletes.UpdateSyncProgress(ctx, athleteID, domain.SyncProgressUpdate{
			Progress:       baseline + totalProcessed,
			LastActivityAt: time.Now().UTC(),
		}); err != nil {
			return totalProcessed, fmt.Errorf("persist progress: %w", err)
		}

		logger.Debug().Int("page", page).Int("processed", processed).Msg("page done")

		if e.cfg.PageDelay > 0 {
			select {
			case <-time.After(e.cfg.PageDelay):
			case <-ctx.Done():
				return totalProcessed, ctx.Err()
			}
		}
	}

	if err := e.aggregator.Recompute(ctx, athleteID); err != nil {
		return totalProcessed, fmt.Errorf("final stats recompute: %w", err)
	}
	return totalProcessed, nil
}

// processPage enriches one page's worth of activities. The returned count is
// the number of activities processed this page, even when err is non-nil.
func (e *Engine) processPage(ctx context.Context, logger zerolog.Logger, athleteID string, baseline int, summaries []strava.ActivitySummary) (int, error) {
	located := summaries[:0:0]
	ids := make([]string, 0, len(summaries))
	for _, summary := range summaries {
		if !summary.HasCoordinates() {
			continue
		}
		located = append(located, summary)
		ids = append(ids, strconv.FormatInt(summary.ID, 10))
	}

	resolved, err := e.activities.ResolvedActivityIDs(ctx, athleteID, ids)
	if err != nil {
		return 0, fmt.Errorf("resolved ids lookup: %w", err)
	}

	var batch []domain.Activity
	processed := 0
	for _, summary := range located {
		externalID := strconv.FormatInt(summary.ID, 10)
		if resolved[externalID] {
			continue
		}

		activity, err := e.enrich(ctx, athleteID, summary)
		if err != nil {
			if _, throttled := domain.IsThrottled(err); throttled || ctx.Err() != nil {
				// Flush what we have so partial progress survives the abort.
				if flushErr := e.flush(ctx, athleteID, batch); flushErr != nil {
					logger.Warn().Err(flushErr).Msg("flush before abort failed")
				}
				return processed, err
			}
			logger.Warn().Err(err).Str("activity_id", externalID).Msg("skipping activity")
			continue
		}

		batch = append(batch, *activity)
		processed++

		if processed%e.cfg.ProgressEvery == 0 {
			if err := e.athletes.UpdateSyncProgress(ctx, athleteID, domain.SyncProgressUpdate{
				Progress:       baseline + processed,
				LastActivityAt: time.Now().UTC(),
			}); err != nil {
				return processed, fmt.Errorf("persist progress: %w", err)
			}
		}

		if len(batch) >= e.cfg.FlushEvery {
			if err := e.flush(ctx, athleteID, batch); err != nil {
				return processed, err
			}
			batch = nil
		}
	}

	if err := e.flush(ctx, athleteID, batch); err != nil {
		return processed, err
	}
	observability.RecordActivitiesProcessed(processed)
	return processed, nil
}

// enrich fetches an activity's detail and fills in missing location data
// through reverse geocoding.
func (e *Engine) enrich(ctx context.Context, athleteID string, summary strava.ActivitySummary) (*domain.Activity, error) {
	var detail *strava.ActivityDetail
	err := e.detailRetry.Do(ctx, func() error {
		var fetchErr error
		detail, fetchErr = e.provider.GetActivity(ctx, athleteID, summary.ID)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	country := detail.LocationCountry
	city := detail.LocationCity
	state := detail.LocationState

	if country == "" && detail.HasCoordinates() {
		location := e.geocoder.Reverse(ctx, detail.StartLatLng[0], detail.StartLatLng[1])
		observability.RecordGeocodeLookup(!location.Empty())
		country = location.Country
		if city == "" {
			city = location.City
		}
		if state == "" {
			state = location.State
		}
	}
	if country == "" {
		country = domain.UnknownCountry
	}

	activity := domain.Activity{
		AthleteID:  athleteID,
		ActivityID: strconv.FormatInt(detail.ID, 10),
		Name:       detail.Name,
		SportType:  detail.SportType,
		Distance:   detail.Distance,
		MovingTime: detail.MovingTime,
		StartDate:  detail.StartDate,
		Country:    country,
	}
	if city != "" {
		activity.City = &city
	}
	if state != "" {
		activity.State = &state
	}
	return &activity, nil
}

// flush replaces any provisional rows for the batch, inserts it and brings
// the location stats up to date. A nil batch is a no-op.
func (e *Engine) flush(ctx context.Context, athleteID string, batch []domain.Activity) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()

	ids := make([]string, 0, len(batch))
	for _, activity := range batch {
		ids = append(ids, activity.ActivityID)
	}

	if err := e.activities.DeleteActivitiesByID(ctx, athleteID, ids); err != nil {
		return fmt.Errorf("delete provisional rows: %w", err)
	}
	if _, err := e.activities.InsertActivities(ctx, batch); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	if err := e.aggregator.Recompute(ctx, athleteID); err != nil {
		return fmt.Errorf("stats recompute: %w", err)
	}

	observability.ObserveBatchFlush(time.Since(start))
	observability.RecordActivityPersisted(time.Now().UTC())
	return nil
}

// persistExpectedTotal stores the provider's lifetime activity count for the
// progress bar. Failures here never fail the run.
func (e *Engine) persistExpectedTotal(ctx context.Context, logger zerolog.Logger, athleteID string) {
	stats, err := e.provider.GetAthleteStats(ctx, athleteID)
	if err != nil {
		logger.Warn().Err(err).Msg("could not fetch expected activity total")
		return
	}
	if err := e.athletes.SetSyncTotal(ctx, athleteID, stats.TotalActivities()); err != nil {
		logger.Warn().Err(err).Msg("could not persist expected activity total")
	}
}

// recordEvent appends a lifecycle event. Event delivery is observability,
// not correctness, so failures only log.
func (e *Engine) recordEvent(ctx context.Context, event outbox.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Record(ctx, event); err != nil {
		e.logger.Warn().Err(err).Str("event_type", event.Type).Msg("could not record sync event")
	}
}
