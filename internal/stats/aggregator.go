// Package stats derives the per-location aggregate from stored activities.
package stats

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"example.com/runtheworld/internal/domain"
)

// Aggregator recomputes location stats from scratch. Full recompute keeps the
// aggregate trivially consistent with the activity table at the cost of
// rereading it, which is acceptable at per-athlete activity volumes.
type Aggregator struct {
	activities domain.ActivityStore
	stats      domain.LocationStatStore
	logger     zerolog.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(activities domain.ActivityStore, stats domain.LocationStatStore, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		activities: activities,
		stats:      stats,
		logger:     logger.With().Str("component", "stats").Logger(),
	}
}

type placeKey struct {
	country string
	city    string
}

// Recompute rebuilds the athlete's location stats from their stored
// activities and atomically replaces the previous set.
func (a *Aggregator) Recompute(ctx context.Context, athleteID string) error {
	activities, err := a.activities.ListActivities(ctx, athleteID)
	if err != nil {
		return fmt.Errorf("list activities: %w", err)
	}

	grouped := make(map[placeKey]*domain.LocationStat)
	var order []placeKey
	for _, act := range activities {
		key := placeKey{country: act.Country}
		if act.City != nil {
			key.city = *act.City
		}

		stat, ok := grouped[key]
		if !ok {
			stat = &domain.LocationStat{
				AthleteID:     athleteID,
				Country:       act.Country,
				City:          act.City,
				FirstActivity: act.StartDate,
				LastActivity:  act.StartDate,
			}
			grouped[key] = stat
			order = append(order, key)
		}

		stat.ActivityCount++
		stat.TotalDistance += act.Distance
		stat.TotalTime += act.MovingTime
		if act.StartDate.Before(stat.FirstActivity) {
			stat.FirstActivity = act.StartDate
		}
		if act.StartDate.After(stat.LastActivity) {
			stat.LastActivity = act.StartDate
		}
	}

	rows := make([]domain.LocationStat, 0, len(order))
	for _, key := range order {
		rows = append(rows, *grouped[key])
	}

	if err := a.stats.ReplaceStats(ctx, athleteID, rows); err != nil {
		return fmt.Errorf("replace stats: %w", err)
	}

	a.logger.Debug().
		Str("athlete_id", athleteID).
		Int("activities", len(activities)).
		Int("locations", len(rows)).
		Msg("recomputed location stats")
	return nil
}
