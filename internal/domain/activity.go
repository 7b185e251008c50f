package domain

import "time"

// UnknownCountry marks an activity whose location could not be resolved.
// Rows carrying it are provisional and are replaced once real location data
// becomes available on a later run.
const UnknownCountry = "Unknown"

// Activity is one ingested activity belonging to one athlete. At most one row
// exists per (AthleteID, ActivityID); ActivityID is the provider's identifier.
type Activity struct {
	AthleteID  string
	ActivityID string
	Name       string
	SportType  string
	Distance   float64 // meters
	MovingTime int     // seconds
	StartDate  time.Time
	Country    string
	City       *string
	State      *string
}

// Provisional reports whether this row is still awaiting location resolution.
func (a Activity) Provisional() bool {
	return a.Country == UnknownCountry
}

// LocationStat is one aggregate row per (athlete, country, city). It is
// derived entirely from Activity rows and fully recomputed, never patched.
type LocationStat struct {
	AthleteID     string
	Country       string
	City          *string
	ActivityCount int
	TotalDistance float64
	TotalTime     int
	FirstActivity time.Time
	LastActivity  time.Time
}

// Tokens are the provider credentials for one athlete.
type Tokens struct {
	AthleteID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       string
}
