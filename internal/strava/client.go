// Package strava wraps the activity provider's HTTP API. Calls refresh
// expired credentials transparently and map rate-limit responses to the
// typed throttling error the retry policy branches on.
package strava

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"example.com/runtheworld/internal/domain"
)

// refreshWindow is how close to expiry a token may be before calls refresh it.
const refreshWindow = time.Minute

// Config carries the provider endpoints and OAuth application credentials.
type Config struct {
	APIBaseURL   string
	OAuthBaseURL string
	ClientID     string
	ClientSecret string
	// MinInterval spaces outgoing API calls as a courtesy to the provider.
	// Zero disables the spacing (test mode).
	MinInterval time.Duration
}

// Client is the rate-limited provider API client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     domain.TokenStore
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// New builds a Client backed by the given token store.
func New(cfg Config, tokens domain.TokenStore, logger zerolog.Logger) *Client {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.With().Str("component", "strava").Logger(),
	}
}

// ListActivities fetches one page of the athlete's activity listing.
func (c *Client) ListActivities(ctx context.Context, athleteID string, page, perPage int) ([]ActivitySummary, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	var activities []ActivitySummary
	if err := c.get(ctx, athleteID, "/athlete/activities?"+query.Encode(), &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// GetActivity fetches the full detail for one activity.
func (c *Client) GetActivity(ctx context.Context, athleteID string, activityID int64) (*ActivityDetail, error) {
	var detail ActivityDetail
	if err := c.get(ctx, athleteID, fmt.Sprintf("/activities/%d", activityID), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetAthleteStats fetches the athlete's lifetime statistics.
func (c *Client) GetAthleteStats(ctx context.Context, athleteID string) (*AthleteStats, error) {
	var stats AthleteStats
	if err := c.get(ctx, athleteID, fmt.Sprintf("/athletes/%s/stats", athleteID), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Deauthorize revokes the athlete's access token with the provider. Stored
// credentials are left for the caller to delete.
func (c *Client) Deauthorize(ctx context.Context, athleteID string) error {
	accessToken, err := c.accessToken(ctx, athleteID)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.OAuthBaseURL+"/oauth/deauthorize", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: "deauthorize", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.TransportError{Op: "deauthorize", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

// get performs an authenticated GET against the API base and decodes the
// JSON body into out.
func (c *Client) get(ctx context.Context, athleteID, path string, out any) error {
	accessToken, err := c.accessToken(ctx, athleteID)
	if err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+path, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.ThrottledError{RetryAfter: retryAfterFrom(resp)}
	case resp.StatusCode != http.StatusOK:
		return &domain.TransportError{Op: "GET " + path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.TransportError{Op: "GET " + path, Err: err}
	}
	return nil
}

// accessToken loads the athlete's credentials, refreshing them through the
// OAuth endpoint when they are at or past expiry.
func (c *Client) accessToken(ctx context.Context, athleteID string) (string, error) {
	stored, err := c.tokens.Get(ctx, athleteID)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", fmt.Errorf("no credentials stored for athlete %s", athleteID)
	}

	if time.Until(stored.ExpiresAt) > refreshWindow {
		return stored.AccessToken, nil
	}

	refreshed, err := c.refresh(ctx, stored)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

func (c *Client) refresh(ctx context.Context, stored *domain.Tokens) (*domain.Tokens, error) {
	c.logger.Debug().Str("athlete", stored.AthleteID).Msg("refreshing expired access token")

	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", stored.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.OAuthBaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: "token refresh", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &domain.ThrottledError{RetryAfter: retryAfterFrom(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.TransportError{Op: "token refresh", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &domain.TransportError{Op: "token refresh", Err: err}
	}

	refreshed := domain.Tokens{
		AthleteID:    stored.AthleteID,
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    time.Unix(payload.ExpiresAt, 0).UTC(),
		Scopes:       stored.Scopes,
	}
	if err := c.tokens.Save(ctx, refreshed); err != nil {
		return nil, fmt.Errorf("persisting refreshed tokens: %w", err)
	}
	return &refreshed, nil
}

func retryAfterFrom(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
