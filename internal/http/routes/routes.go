// Package routes wires the HTTP surface over the offline-first core:
// session save, pending-queue inspection, and sync triggers.
package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/roadbook/roadbook/internal/jobs"
	"github.com/roadbook/roadbook/pending"
	"github.com/roadbook/roadbook/session"
	"github.com/roadbook/roadbook/syncer"
	"github.com/roadbook/roadbook/weather"
)

// ServerOptions carries the dependencies the router needs.
type ServerOptions struct {
	Saver      *syncer.Saver
	Reconciler *syncer.Reconciler
	Queue      *pending.Queue
	Mirror     *pending.Mirror
	Weather    *weather.CachedClient
	RedisAddr  string // for enqueueing sync tasks; empty disables asynq
	Log        zerolog.Logger
}

// Server is the HTTP route handler set.
type Server struct {
	ServerOptions
	Router chi.Router
}

// New builds the router.
func New(opts ServerOptions) *Server {
	s := &Server{ServerOptions: opts}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Post("/sessions", s.handleSaveSession)
	r.Get("/pending", s.handleListPending)
	r.Delete("/pending/{id}", s.handleRemovePending)
	r.Post("/sync", s.handleTriggerSync)
	r.Get("/sync/status", s.handleSyncStatus)
	r.Get("/sync/errors", s.handleSyncErrors)
	r.Get("/weather", s.handleWeather)

	s.Router = r
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type saveSessionRequest struct {
	ElapsedSeconds int                `json:"elapsed_seconds"`
	Path           []session.GeoPoint `json:"path"`
	Vehicle        string             `json:"vehicle,omitempty"`
	LocationFixAt  int64              `json:"location_fix_at,omitempty"`
}

// handleSaveSession is the save entry point: it always answers 200
// with an id, falling back to the pending queue when offline.
func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	var req saveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id := s.Saver.Save(r.Context(), syncer.SaveInput{
		ElapsedSeconds: req.ElapsedSeconds,
		Path:           req.Path,
		Vehicle:        req.Vehicle,
		LocationFixAt:  req.LocationFixAt,
	})
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleListPending(w http.ResponseWriter, _ *http.Request) {
	items := s.Mirror.PendingItems()
	if items == nil {
		items = []pending.Record{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleRemovePending(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	err := s.Queue.Dequeue(r.Context(), id, force)
	switch {
	case errors.Is(err, pending.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, pending.ErrPlaceholderProtected):
		http.Error(w, "placeholder records require force=true", http.StatusConflict)
	case err != nil:
		s.Log.Error().Err(err).Str("id", id).Msg("dequeue failed")
		http.Error(w, "could not remove record", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleTriggerSync is the manual trigger. With redis configured it
// enqueues the worker task; otherwise it runs a pass inline.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.RedisAddr != "" {
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: s.RedisAddr})
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				s.Log.Warn().Err(closeErr).Msg("close asynq client")
			}
		}()
		payload, _ := json.Marshal(jobs.SyncPendingPayload{Reason: "manual"})
		_, err := client.Enqueue(asynq.NewTask(jobs.TaskSyncPending, payload), asynq.Queue("sync"))
		if err == nil {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
			return
		}
		s.Log.Warn().Err(err).Msg("enqueue sync task failed, running pass inline")
	}

	res := s.Reconciler.RunPass(r.Context())
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"syncing": s.Reconciler.Syncing()}
	if ts, ok := s.Reconciler.LastSync(r.Context()); ok {
		status["last_sync"] = ts
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSyncErrors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Mirror.SyncErrors())
}

// handleWeather exposes the read-through cached lookup.
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		http.Error(w, "lat and lon query parameters required", http.StatusBadRequest)
		return
	}
	asOf, _ := strconv.ParseInt(r.URL.Query().Get("as_of"), 10, 64)

	sample := s.Weather.Sample(r.Context(), lat, lon, asOf)
	if sample == nil {
		// A miss is a valid outcome, not a server error.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
