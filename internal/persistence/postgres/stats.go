package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"example.com/runtheworld/internal/domain"
)

// ReplaceStats swaps the athlete's location stat set inside one transaction
// so readers never observe a partially written aggregate.
func (r *Repository) ReplaceStats(ctx context.Context, athleteID string, stats []domain.LocationStat) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM location_stats WHERE athlete_id = $1`, athleteID); err != nil {
		return err
	}

	const stmt = `INSERT INTO location_stats
            (athlete_id, country, city, activity_count, total_distance, total_time, first_activity, last_activity)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	for _, stat := range stats {
		if _, err := tx.Exec(ctx, stmt,
			athleteID, stat.Country, stat.City, stat.ActivityCount,
			stat.TotalDistance, stat.TotalTime,
			stat.FirstActivity.UTC(), stat.LastActivity.UTC()); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ListStats returns the athlete's location stats ordered by activity count,
// the order the dashboard renders them in.
func (r *Repository) ListStats(ctx context.Context, athleteID string) ([]domain.LocationStat, error) {
	const query = `SELECT athlete_id, country, city, activity_count, total_distance, total_time, first_activity, last_activity
        FROM location_stats WHERE athlete_id = $1
        ORDER BY activity_count DESC, country, city`

	rows, err := r.pool.Query(ctx, query, athleteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.LocationStat
	for rows.Next() {
		var stat domain.LocationStat
		if err := rows.Scan(&stat.AthleteID, &stat.Country, &stat.City, &stat.ActivityCount,
			&stat.TotalDistance, &stat.TotalTime, &stat.FirstActivity, &stat.LastActivity); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// DeleteStats removes every stat row for the athlete.
func (r *Repository) DeleteStats(ctx context.Context, athleteID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM location_stats WHERE athlete_id = $1`, athleteID)
	return err
}
