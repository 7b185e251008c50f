package strava

import "time"

// ActivitySummary is one entry from the paginated activity listing.
type ActivitySummary struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	SportType       string    `json:"type"`
	Distance        float64   `json:"distance"`
	MovingTime      int       `json:"moving_time"`
	StartDate       time.Time `json:"start_date"`
	StartLatLng     []float64 `json:"start_latlng"`
	LocationCountry string    `json:"location_country"`
	LocationCity    string    `json:"location_city"`
	LocationState   string    `json:"location_state"`
}

// HasCoordinates reports whether the provider supplied a start coordinate.
func (a ActivitySummary) HasCoordinates() bool {
	return len(a.StartLatLng) == 2
}

// ActivityDetail is the full per-activity payload.
type ActivityDetail struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	SportType       string    `json:"type"`
	Distance        float64   `json:"distance"`
	MovingTime      int       `json:"moving_time"`
	StartDate       time.Time `json:"start_date"`
	StartLatLng     []float64 `json:"start_latlng"`
	LocationCountry string    `json:"location_country"`
	LocationCity    string    `json:"location_city"`
	LocationState   string    `json:"location_state"`
}

// HasCoordinates reports whether the provider supplied a start coordinate.
func (a ActivityDetail) HasCoordinates() bool {
	return len(a.StartLatLng) == 2
}

// ActivityTotals is a per-sport lifetime rollup.
type ActivityTotals struct {
	Count int `json:"count"`
}

// AthleteStats is the athlete lifetime statistics payload, used for the
// best-effort expected-total counter.
type AthleteStats struct {
	AllRideTotals ActivityTotals `json:"all_ride_totals"`
	AllRunTotals  ActivityTotals `json:"all_run_totals"`
	AllSwimTotals ActivityTotals `json:"all_swim_totals"`
}

// TotalActivities sums the lifetime counts across sports.
func (s AthleteStats) TotalActivities() int {
	return s.AllRideTotals.Count + s.AllRunTotals.Count + s.AllSwimTotals.Count
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}
