// Package api exposes the HTTP surface for triggering and observing syncs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"example.com/runtheworld/internal/domain"
)

// SyncStarter runs one athlete's sync to completion.
type SyncStarter interface {
	Sync(ctx context.Context, athleteID string) error
}

// Deauthorizer revokes the athlete's provider access.
type Deauthorizer interface {
	Deauthorize(ctx context.Context, athleteID string) error
}

// Recomputer rebuilds the athlete's location stats from stored activities.
type Recomputer interface {
	Recompute(ctx context.Context, athleteID string) error
}

// Handler coordinates HTTP requests with the sync engine and stores.
type Handler struct {
	athletes   domain.AthleteStore
	activities domain.ActivityStore
	stats      domain.LocationStatStore
	syncer     SyncStarter
	provider   Deauthorizer
	aggregator Recomputer
	// baseCtx outlives individual requests; background runs derive from it
	// so they stop on process shutdown, not when the trigger request ends.
	baseCtx context.Context
	logger  zerolog.Logger
}

// NewHandler builds a Handler.
func NewHandler(
	baseCtx context.Context,
	athletes domain.AthleteStore,
	activities domain.ActivityStore,
	stats domain.LocationStatStore,
	syncer SyncStarter,
	provider Deauthorizer,
	aggregator Recomputer,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		athletes:   athletes,
		activities: activities,
		stats:      stats,
		syncer:     syncer,
		provider:   provider,
		aggregator: aggregator,
		baseCtx:    baseCtx,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/athletes/", h.athleteRoutes)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) athleteRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/athletes/")
	parts := strings.SplitN(rest, "/", 2)
	athleteID := parts[0]
	if athleteID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing athlete id")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		h.disconnect(w, r, athleteID)
	case action == "sync" && r.Method == http.MethodPost:
		h.startSync(w, r, athleteID, false)
	case action == "sync" && r.Method == http.MethodGet:
		h.syncStatus(w, r, athleteID)
	case action == "resync" && r.Method == http.MethodPost:
		h.startSync(w, r, athleteID, true)
	case action == "stats" && r.Method == http.MethodGet:
		h.locationStats(w, r, athleteID)
	case action == "stats/refresh" && r.Method == http.MethodPost:
		h.refreshStats(w, r, athleteID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// startSync kicks off a background run. With clear set it first wipes the
// athlete's activities and stats so the run starts from nothing.
func (h *Handler) startSync(w http.ResponseWriter, r *http.Request, athleteID string, clear bool) {
	athlete, err := h.athletes.GetAthlete(r.Context(), athleteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if athlete == nil {
		writeError(w, http.StatusNotFound, "not_found", "athlete not found")
		return
	}
	if athlete.SyncStatus == domain.SyncStatusSyncing {
		writeError(w, http.StatusConflict, "sync_in_progress", "a sync is already running for this athlete")
		return
	}

	if clear {
		if err := h.activities.DeleteAllActivities(r.Context(), athleteID); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		if err := h.stats.DeleteStats(r.Context(), athleteID); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		if err := h.athletes.ResetSyncState(r.Context(), athleteID); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
	}

	go func() {
		if err := h.syncer.Sync(h.baseCtx, athleteID); err != nil {
			if errors.Is(err, domain.ErrSyncInProgress) {
				h.logger.Warn().Str("athlete_id", athleteID).Msg("sync trigger lost the lease race")
				return
			}
			h.logger.Error().Err(err).Str("athlete_id", athleteID).Msg("background sync ended with error")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"athlete_id": athleteID,
		"status":     string(domain.SyncStatusSyncing),
	})
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request, athleteID string) {
	athlete, err := h.athletes.GetAthlete(r.Context(), athleteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if athlete == nil {
		writeError(w, http.StatusNotFound, "not_found", "athlete not found")
		return
	}

	count, err := h.activities.CountActivities(r.Context(), athleteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SyncStatusView{
		AthleteID:          athlete.ID,
		SyncStatus:         string(athlete.SyncStatus),
		SyncProgress:       athlete.SyncProgress,
		SyncTotal:          athlete.SyncTotal,
		SyncStartedAt:      athlete.SyncStartedAt,
		SyncLastActivityAt: athlete.SyncLastActivityAt,
		LastSyncAt:         athlete.LastSyncAt,
		ActivityCount:      count,
	})
}

func (h *Handler) locationStats(w http.ResponseWriter, r *http.Request, athleteID string) {
	exists, err := h.athletes.AthleteExists(r.Context(), athleteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "not_found", "athlete not found")
		return
	}

	h.writeLocationStats(w, r, athleteID)
}

// refreshStats recomputes the athlete's location stats on demand, outside a
// sync run. The dashboard exposes this as a manual refresh.
func (h *Handler) refreshStats(w http.ResponseWriter, r *http.Request, athleteID string) {
	exists, err := h.athletes.AthleteExists(r.Context(), athleteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "not_found", "athlete not found")
		return
	}

	if err := h.aggregator.Recompute(r.Context(), athleteID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	h.writeLocationStats(w, r, athleteID)
}

func (h *Handler) writeLocationStats(w http.ResponseWriter, r *http.Request, athleteID string) {
	stats, err := h.stats.ListStats(r.Context(), athleteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]LocationStatView, 0, len(stats))
	for _, stat := range stats {
		items = append(items, LocationStatView{
			Country:       stat.Country,
			City:          stat.City,
			ActivityCount: stat.ActivityCount,
			TotalDistance: stat.TotalDistance,
			TotalTime:     stat.TotalTime,
			FirstActivity: stat.FirstActivity,
			LastActivity:  stat.LastActivity,
		})
	}
	writeJSON(w, http.StatusOK, LocationStatsResponse{Items: items})
}

// disconnect revokes provider access and removes every trace of the athlete.
func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request, athleteID string) {
	if err := h.provider.Deauthorize(r.Context(), athleteID); err != nil {
		// Revocation is best effort; local deletion proceeds regardless.
		h.logger.Warn().Err(err).Str("athlete_id", athleteID).Msg("provider deauthorize failed")
	}

	if err := h.athletes.DeleteAthlete(r.Context(), athleteID); err != nil {
		if errors.Is(err, domain.ErrAthleteNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "athlete not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncStatusView is the observability surface the dashboard polls.
type SyncStatusView struct {
	AthleteID          string     `json:"athlete_id"`
	SyncStatus         string     `json:"sync_status"`
	SyncProgress       int        `json:"sync_progress"`
	SyncTotal          *int       `json:"sync_total,omitempty"`
	SyncStartedAt      *time.Time `json:"sync_started_at,omitempty"`
	SyncLastActivityAt *time.Time `json:"sync_last_activity_at,omitempty"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
	ActivityCount      int        `json:"activity_count"`
}

// LocationStatView is one aggregate row as rendered by the dashboard.
type LocationStatView struct {
	Country       string    `json:"country"`
	City          *string   `json:"city,omitempty"`
	ActivityCount int       `json:"activity_count"`
	TotalDistance float64   `json:"total_distance"`
	TotalTime     int       `json:"total_time"`
	FirstActivity time.Time `json:"first_activity"`
	LastActivity  time.Time `json:"last_activity"`
}

// LocationStatsResponse packages the stats listing.
type LocationStatsResponse struct {
	Items []LocationStatView `json:"items"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
