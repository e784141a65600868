package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"quizbot-service/internal/domain"
)

// Catalog is the read side of the question bank.
type Catalog interface {
	Topics() []string
	DelayFor(topic string) time.Duration
}

// StatsSource provides the aggregated score snapshot.
type StatsSource interface {
	Snapshot(ctx context.Context) (domain.StatsSnapshot, error)
}

// ActiveLister lists users with a session in progress.
type ActiveLister interface {
	Active() []string
}

type APIConfig struct {
	Catalog Catalog
	Stats   StatsSource
	Players ActiveLister
	// Reload refreshes the catalog from its configured source. Nil disables /admin/reload.
	Reload func(ctx context.Context) error
	Logger *slog.Logger
}

// API serves the JSON reporting and admin endpoints.
type API struct {
	catalog Catalog
	stats   StatsSource
	players ActiveLister
	reload  func(ctx context.Context) error
	log     *slog.Logger
}

func NewAPI(c APIConfig) *API {
	a := &API{
		catalog: c.Catalog,
		stats:   c.Stats,
		players: c.Players,
		reload:  c.Reload,
		log:     c.Logger,
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	return a
}

// Register mounts the API on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("GET /topics", a.handleTopics)
	if a.reload != nil {
		mux.HandleFunc("POST /admin/reload", a.handleReload)
	}
}

type statsResponse struct {
	domain.StatsSnapshot
	ActiveSessions int `json:"activeSessions"`
}

type topicInfo struct {
	Topic        string `json:"topic"`
	DelaySeconds int    `json:"delaySeconds"`
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := a.stats.Snapshot(r.Context())
	if err != nil {
		a.log.ErrorContext(r.Context(), "api: stats snapshot failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorPayload{Message: "stats unavailable"})
		return
	}
	resp := statsResponse{StatsSnapshot: snap}
	if a.players != nil {
		resp.ActiveSessions = len(a.players.Active())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.topics())
}

func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := a.reload(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrMalformedQuestionSet) {
			status = http.StatusUnprocessableEntity
		}
		a.log.WarnContext(r.Context(), "api: reload rejected", "error", err)
		writeJSON(w, status, errorPayload{Message: err.Error()})
		return
	}
	a.log.InfoContext(r.Context(), "api: question bank reloaded", "topics", len(a.catalog.Topics()))
	writeJSON(w, http.StatusOK, a.topics())
}

func (a *API) topics() []topicInfo {
	names := a.catalog.Topics()
	out := make([]topicInfo, 0, len(names))
	for _, t := range names {
		out = append(out, topicInfo{Topic: t, DelaySeconds: int(a.catalog.DelayFor(t) / time.Second)})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
