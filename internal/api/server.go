// Package api serves the read-only reporting API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tymiles003/FlowTrack/internal/ipaddr"
	"github.com/tymiles003/FlowTrack/internal/logging"
	"github.com/tymiles003/FlowTrack/internal/model"
	"github.com/tymiles003/FlowTrack/internal/query"
	"github.com/tymiles003/FlowTrack/internal/snapshot"
)

const defaultTopLimit = 10

// SnapshotSource exposes the most recent talker snapshot.
type SnapshotSource interface {
	Latest() ([]model.RecentTalker, *snapshot.SummaryData, error)
}

// Handler holds the dependencies for API handlers.
type Handler struct {
	querier   query.Querier
	snapshots SnapshotSource
	log       *logging.Logger
}

// NewRouter wires every route. snapshots may be nil.
func NewRouter(q query.Querier, snapshots SnapshotSource, log *logging.Logger) *mux.Router {
	h := &Handler{querier: q, snapshots: snapshots, log: log}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/talkers", h.talkersHandler).Methods(http.MethodGet)
	v1.HandleFunc("/talkers/top", h.topTalkersHandler).Methods(http.MethodGet)
	v1.HandleFunc("/flows", h.flowsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/resolve/{target}", h.resolveHandler).Methods(http.MethodGet)
	if snapshots != nil {
		v1.HandleFunc("/snapshots/latest", h.latestSnapshotHandler).Methods(http.MethodGet)
	}
	return r
}

// Server is the HTTP server of the reporting API.
type Server struct {
	srv *http.Server
	log *logging.Logger
}

// NewServer creates a server on addr.
func NewServer(addr string, handler http.Handler, log *logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// ListenAndServe blocks until the server is shut down or fails.
func (s *Server) ListenAndServe() error {
	s.log.Infow("API server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("could not listen on %s: %w", s.srv.Addr, err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("API server shutting down...")
	return s.srv.Shutdown(ctx)
}

func (h *Handler) talkersHandler(w http.ResponseWriter, r *http.Request) {
	views, err := h.querier.Talkers(r.Context(), wantResolve(r))
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) topTalkersHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultTopLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.fail(w, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer, got %q", v))
			return
		}
		limit = n
	}

	views, err := h.querier.TopTalkers(r.Context(), limit, wantResolve(r))
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) flowsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	end := time.Now()
	start := end.Add(-time.Hour)

	var err error
	if v := q.Get("start"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			h.fail(w, http.StatusBadRequest, fmt.Errorf("invalid start: %w", err))
			return
		}
	}
	if v := q.Get("end"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			h.fail(w, http.StatusBadRequest, fmt.Errorf("invalid end: %w", err))
			return
		}
	}
	if end.Before(start) {
		h.fail(w, http.StatusBadRequest, fmt.Errorf("end is before start"))
		return
	}

	views, err := h.querier.Flows(r.Context(), start, end, wantResolve(r))
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) resolveHandler(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["target"]
	answer, err := h.querier.Resolve(r.Context(), target)
	if err != nil {
		var ferr *ipaddr.FormatError
		if errors.As(err, &ferr) {
			h.fail(w, http.StatusBadRequest, err)
			return
		}
		h.fail(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"target": target, "answer": answer})
}

func (h *Handler) latestSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	talkers, summary, err := h.snapshots.Latest()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.fail(w, http.StatusNotFound, fmt.Errorf("no snapshot written yet"))
			return
		}
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	rows := make([]query.TalkerView, 0, len(talkers))
	for i, t := range talkers {
		rows = append(rows, query.TalkerView{
			Rank:       i + 1,
			ID:         t.ID,
			InternalIP: ipaddr.ToText(t.InternalIP),
			ExternalIP: ipaddr.ToText(t.ExternalIP),
			Score:      t.Score,
			LastUpdate: t.LastUpdate,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Summary *snapshot.SummaryData `json:"summary"`
		Talkers []query.TalkerView    `json:"talkers"`
	}{summary, rows})
}

func (h *Handler) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.log.Errorw("API request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func wantResolve(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("resolve"))
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
