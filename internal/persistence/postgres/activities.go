package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"example.com/runtheworld/internal/domain"
)

// InsertActivities inserts activities, silently skipping rows whose
// (athlete_id, activity_id) pair already exists.
func (r *Repository) InsertActivities(ctx context.Context, activities []domain.Activity) (int64, error) {
	if len(activities) == 0 {
		return 0, nil
	}

	const stmt = `INSERT INTO activities
            (athlete_id, activity_id, name, sport_type, distance, moving_time, start_date, country, city, state)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (athlete_id, activity_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, a := range activities {
		batch.Queue(stmt,
			a.AthleteID, a.ActivityID, a.Name, a.SportType, a.Distance,
			a.MovingTime, a.StartDate.UTC(), a.Country, a.City, a.State)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range activities {
		tag, err := results.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// DeleteActivitiesByID removes the athlete's rows matching the given ids.
func (r *Repository) DeleteActivitiesByID(ctx context.Context, athleteID string, activityIDs []string) error {
	if len(activityIDs) == 0 {
		return nil
	}

	const stmt = `DELETE FROM activities WHERE athlete_id = $1 AND activity_id = ANY($2)`
	_, err := r.pool.Exec(ctx, stmt, athleteID, activityIDs)
	return err
}

// ResolvedActivityIDs returns which of the given ids already carry a real
// (non-Unknown) country, so enrichment can skip them on resume.
func (r *Repository) ResolvedActivityIDs(ctx context.Context, athleteID string, activityIDs []string) (map[string]bool, error) {
	resolved := make(map[string]bool, len(activityIDs))
	if len(activityIDs) == 0 {
		return resolved, nil
	}

	const query = `SELECT activity_id FROM activities
        WHERE athlete_id = $1 AND activity_id = ANY($2) AND country <> $3`

	rows, err := r.pool.Query(ctx, query, athleteID, activityIDs, domain.UnknownCountry)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		resolved[id] = true
	}
	return resolved, rows.Err()
}

// CountActivities returns the athlete's stored activity count.
func (r *Repository) CountActivities(ctx context.Context, athleteID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activities WHERE athlete_id = $1`, athleteID).Scan(&count)
	return count, err
}

// ListActivities returns every activity stored for the athlete, ordered by
// start date for deterministic aggregation.
func (r *Repository) ListActivities(ctx context.Context, athleteID string) ([]domain.Activity, error) {
	const query = `SELECT athlete_id, activity_id, name, sport_type, distance, moving_time, start_date, country, city, state
        FROM activities WHERE athlete_id = $1
        ORDER BY start_date, activity_id`

	rows, err := r.pool.Query(ctx, query, athleteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.AthleteID, &a.ActivityID, &a.Name, &a.SportType, &a.Distance,
			&a.MovingTime, &a.StartDate, &a.Country, &a.City, &a.State); err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// DeleteAllActivities removes every activity stored for the athlete.
func (r *Repository) DeleteAllActivities(ctx context.Context, athleteID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM activities WHERE athlete_id = $1`, athleteID)
	return err
}
