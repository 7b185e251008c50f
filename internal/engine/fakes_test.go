package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"example.com/runtheworld/internal/domain"
	"example.com/runtheworld/internal/geocode"
	"example.com/runtheworld/internal/outbox"
	"example.com/runtheworld/internal/strava"
)

type memoryAthleteStore struct {
	mu       sync.Mutex
	athletes map[string]*domain.Athlete
	statuses []domain.SyncStatus
}

func newMemoryAthleteStore(ids ...string) *memoryAthleteStore {
	store := &memoryAthleteStore{athletes: make(map[string]*domain.Athlete)}
	for _, id := range ids {
		store.athletes[id] = &domain.Athlete{ID: id, SyncStatus: domain.SyncStatusNotStarted}
	}
	return store
}

func (s *memoryAthleteStore) CreateAthlete(ctx context.Context, athlete domain.Athlete) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.athletes[athlete.ID] = &athlete
	return nil
}

func (s *memoryAthleteStore) GetAthlete(ctx context.Context, athleteID string) (*domain.Athlete, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	athlete, ok := s.athletes[athleteID]
	if !ok {
		return nil, nil
	}
	copied := *athlete
	return &copied, nil
}

func (s *memoryAthleteStore) AthleteExists(ctx context.Context, athleteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.athletes[athleteID]
	return ok, nil
}

func (s *memoryAthleteStore) mutate(athleteID string, fn func(*domain.Athlete)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	athlete, ok := s.athletes[athleteID]
	if !ok {
		return domain.ErrAthleteNotFound
	}
	fn(athlete)
	return nil
}

func (s *memoryAthleteStore) MarkSyncStarted(ctx context.Context, athleteID string, startedAt time.Time) error {
	return s.mutate(athleteID, func(a *domain.Athlete) {
		a.SyncStatus = domain.SyncStatusSyncing
		a.SyncStartedAt = &startedAt
		s.statuses = append(s.statuses, domain.SyncStatusSyncing)
	})
}

func (s *memoryAthleteStore) SetSyncTotal(ctx context.Context, athleteID string, total int) error {
	return s.mutate(athleteID, func(a *domain.Athlete) {
		a.SyncTotal = &total
	})
}

func (s *memoryAthleteStore) UpdateSyncProgress(ctx context.Context, athleteID string, update domain.SyncProgressUpdate) error {
	return s.mutate(athleteID, func(a *domain.Athlete) {
		a.SyncProgress = update.Progress
		at := update.LastActivityAt
		a.SyncLastActivityAt = &at
	})
}

func (s *memoryAthleteStore) MarkSyncCompleted(ctx context.Context, athleteID string, completedAt time.Time) error {
	return s.mutate(athleteID, func(a *domain.Athlete) {
		a.SyncStatus = domain.SyncStatusCompleted
		a.LastSyncAt = &completedAt
		s.statuses = append(s.statuses, domain.SyncStatusCompleted)
	})
}

func (s *memoryAthleteStore) MarkSyncFailed(ctx context.Context, athleteID string) error {
	return s.mutate(athleteID, func(a *domain.Athlete) {
		a.SyncStatus = domain.SyncStatusFailed
		s.statuses = append(s.statuses, domain.SyncStatusFailed)
	})
}

func (s *memoryAthleteStore) ResetSyncState(ctx context.Context, athleteID string) error {
	return s.mutate(athleteID, func(a *domain.Athlete) {
		a.SyncStatus = domain.SyncStatusNotStarted
		a.SyncProgress = 0
		a.SyncTotal = nil
		a.SyncStartedAt = nil
		a.SyncLastActivityAt = nil
	})
}

func (s *memoryAthleteStore) FailStuckSyncs(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failed int64
	for _, athlete := range s.athletes {
		if athlete.SyncStatus == domain.SyncStatusSyncing {
			athlete.SyncStatus = domain.SyncStatusFailed
			failed++
		}
	}
	return failed, nil
}

func (s *memoryAthleteStore) DeleteAthlete(ctx context.Context, athleteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.athletes[athleteID]; !ok {
		return domain.ErrAthleteNotFound
	}
	delete(s.athletes, athleteID)
	return nil
}

func (s *memoryAthleteStore) status(athleteID string) domain.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if athlete, ok := s.athletes[athleteID]; ok {
		return athlete.SyncStatus
	}
	return ""
}

func (s *memoryAthleteStore) progress(athleteID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if athlete, ok := s.athletes[athleteID]; ok {
		return athlete.SyncProgress
	}
	return -1
}

type memoryActivityStore struct {
	mu         sync.Mutex
	rows       map[string]domain.Activity // keyed by activity id, single athlete
	deletedIDs [][]string
	inserts    int
}

func newMemoryActivityStore() *memoryActivityStore {
	return &memoryActivityStore{rows: make(map[string]domain.Activity)}
}

func (s *memoryActivityStore) InsertActivities(ctx context.Context, activities []domain.Activity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
	for _, activity := range activities {
		if _, exists := s.rows[activity.ActivityID]; exists {
			continue
		}
		s.rows[activity.ActivityID] = activity
		inserted++
	}
	s.inserts++
	return inserted, nil
}

func (s *memoryActivityStore) DeleteActivitiesByID(ctx context.Context, athleteID string, activityIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedIDs = append(s.deletedIDs, activityIDs)
	for _, id := range activityIDs {
		delete(s.rows, id)
	}
	return nil
}

func (s *memoryActivityStore) ResolvedActivityIDs(ctx context.Context, athleteID string, activityIDs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resolved := make(map[string]bool)
	for _, id := range activityIDs {
		if row, ok := s.rows[id]; ok && !row.Provisional() {
			resolved[id] = true
		}
	}
	return resolved, nil
}

func (s *memoryActivityStore) CountActivities(ctx context.Context, athleteID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows), nil
}

func (s *memoryActivityStore) ListActivities(ctx context.Context, athleteID string) ([]domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activities := make([]domain.Activity, 0, len(s.rows))
	for _, activity := range s.rows {
		activities = append(activities, activity)
	}
	return activities, nil
}

func (s *memoryActivityStore) DeleteAllActivities(ctx context.Context, athleteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]domain.Activity)
	return nil
}

func (s *memoryActivityStore) get(activityID string) (domain.Activity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[activityID]
	return row, ok
}

type memoryStatStore struct {
	mu       sync.Mutex
	replaced [][]domain.LocationStat
}

func (s *memoryStatStore) ReplaceStats(ctx context.Context, athleteID string, stats []domain.LocationStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaced = append(s.replaced, stats)
	return nil
}

func (s *memoryStatStore) ListStats(ctx context.Context, athleteID string) ([]domain.LocationStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replaced) == 0 {
		return nil, nil
	}
	return s.replaced[len(s.replaced)-1], nil
}

func (s *memoryStatStore) DeleteStats(ctx context.Context, athleteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaced = append(s.replaced, nil)
	return nil
}

func (s *memoryStatStore) latest() []domain.LocationStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replaced) == 0 {
		return nil
	}
	return s.replaced[len(s.replaced)-1]
}

// fakeProvider serves canned pages and details.
type fakeProvider struct {
	mu          sync.Mutex
	pages       [][]strava.ActivitySummary
	details     map[int64]*strava.ActivityDetail
	detailErrs  map[int64]error
	statsErr    error
	total       int
	detailCalls []int64
	onPage      func(page int)
}

func (p *fakeProvider) ListActivities(ctx context.Context, athleteID string, page, perPage int) ([]strava.ActivitySummary, error) {
	p.mu.Lock()
	hook := p.onPage
	p.mu.Unlock()
	if hook != nil {
		hook(page)
	}
	if page > len(p.pages) {
		return nil, nil
	}
	return p.pages[page-1], nil
}

func (p *fakeProvider) GetActivity(ctx context.Context, athleteID string, activityID int64) (*strava.ActivityDetail, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detailCalls = append(p.detailCalls, activityID)
	if err, ok := p.detailErrs[activityID]; ok {
		return nil, err
	}
	detail, ok := p.details[activityID]
	if !ok {
		return nil, fmt.Errorf("no detail for activity %d", activityID)
	}
	return detail, nil
}

func (p *fakeProvider) GetAthleteStats(ctx context.Context, athleteID string) (*strava.AthleteStats, error) {
	if p.statsErr != nil {
		return nil, p.statsErr
	}
	return &strava.AthleteStats{
		AllRunTotals: strava.ActivityTotals{Count: p.total},
	}, nil
}

func (p *fakeProvider) detailCallsFor(activityID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, id := range p.detailCalls {
		if id == activityID {
			count++
		}
	}
	return count
}

type fakeGeocoder struct {
	mu        sync.Mutex
	locations map[string]geocode.Location
	calls     int
}

func coordKey(lat, lng float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lng)
}

func (g *fakeGeocoder) Reverse(ctx context.Context, lat, lng float64) geocode.Location {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.locations[coordKey(lat, lng)]
}

type capturingRecorder struct {
	mu     sync.Mutex
	events []outbox.Event
}

func (r *capturingRecorder) Record(ctx context.Context, event outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *capturingRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.Type)
	}
	return types
}
