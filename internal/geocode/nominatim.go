// Package geocode reverse-geocodes coordinates through a Nominatim-style
// endpoint. Lookups are best-effort: any failure degrades to an empty
// Location instead of an error, so missing enrichment never fails a sync.
package geocode

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const userAgent = "RunTheWorld/1.0 (activity location tracker)"

// Location is the resolved administrative area for a coordinate pair.
// Empty fields mean the resolver had no data.
type Location struct {
	Country string
	State   string
	City    string
}

// Empty reports whether the lookup produced no usable data.
func (l Location) Empty() bool {
	return l.Country == "" && l.State == "" && l.City == ""
}

type nominatimResponse struct {
	Address struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		State        string `json:"state"`
		Country      string `json:"country"`
	} `json:"address"`
}

// NewLimiter builds the shared rate limiter for geocoding calls. Nominatim's
// usage policy allows at most one request per second; every client in the
// process must share one limiter so the limit holds across concurrent syncs.
// A non-positive interval disables throttling (test mode).
func NewLimiter(minInterval time.Duration) *rate.Limiter {
	if minInterval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(minInterval), 1)
}

// Client queries the reverse geocoding endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// New builds a Client. The limiter should come from NewLimiter and be shared
// process-wide.
func New(baseURL string, limiter *rate.Limiter, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		limiter:    limiter,
		logger:     logger.With().Str("component", "geocode").Logger(),
	}
}

// Reverse resolves a coordinate pair to country/state/city. Callers block
// until the shared rate limiter grants a slot. Transport failures and missing
// address data return an empty Location.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) Location {
	if err := c.limiter.Wait(ctx); err != nil {
		return Location{}
	}

	url := fmt.Sprintf("%s/reverse?format=json&lat=%f&lon=%f&zoom=10&addressdetails=1", c.baseURL, lat, lng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to build reverse geocode request")
		return Location{}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("reverse geocode request failed")
		return Location{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Float64("lat", lat).Float64("lng", lng).Msg("reverse geocode returned non-OK status")
		return Location{}
	}

	var payload nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Warn().Err(err).Msg("failed to decode reverse geocode response")
		return Location{}
	}

	loc := Location{
		Country: payload.Address.Country,
		State:   payload.Address.State,
		City:    cityFrom(payload),
	}
	if loc.Empty() {
		c.logger.Warn().Float64("lat", lat).Float64("lng", lng).Msg("no address data for coordinates")
	}
	return loc
}

// cityFrom picks the most specific populated-place name available.
func cityFrom(payload nominatimResponse) string {
	addr := payload.Address
	for _, candidate := range []string{addr.City, addr.Town, addr.Village, addr.Municipality} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
