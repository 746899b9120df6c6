package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"secmap/internal/domain"
	"secmap/internal/ports"
	rebuildsvc "secmap/internal/services/rebuild"
	"secmap/internal/workers/rebuildrunner"
)

// Server exposes the rebuild trigger and the as-of report reads.
type Server struct {
	rebuilder ports.Rebuilder
	urlSnaps  ports.UrlSnapshotRepository
	orgSnaps  ports.OrganizationSnapshotRepository
	jobs      ports.JobRepository
	processor rebuildrunner.Processor
	clock     clockwork.Clock
	log       *zap.Logger
}

func New(rebuilder ports.Rebuilder, urlSnaps ports.UrlSnapshotRepository, orgSnaps ports.OrganizationSnapshotRepository, jobs ports.JobRepository, processor rebuildrunner.Processor, clock clockwork.Clock, log *zap.Logger) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{rebuilder: rebuilder, urlSnaps: urlSnaps, orgSnaps: orgSnaps, jobs: jobs, processor: processor, clock: clock, log: log}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.getHealthz)
	r.Post("/rebuild", s.postRebuild)
	r.Get("/organizations/{id}/report", s.getOrganizationReport)
	r.Get("/urls/{id}/report", s.getUrlReport)
	return r
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rebuildRequest struct {
	OrganizationID int64  `json:"organization_id,omitempty"`
	Url            string `json:"url,omitempty"`
}

type rebuildResponse struct {
	JobIDs []string `json:"job_ids"`
}

// postRebuild enqueues a rebuild for one organization or for every
// organization owning the given URL. With ?wait=true the organization
// variant runs inline before responding.
func (s *Server) postRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	switch {
	case req.OrganizationID != 0:
		if r.URL.Query().Get("wait") == "true" {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
			defer cancel()
			if err := rebuildrunner.ProcessInline(ctx, s.jobs, s.processor, req.OrganizationID); err != nil {
				s.log.Error("inline rebuild failed", zap.Int64("organization", req.OrganizationID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
			return
		}
		id, err := s.rebuilder.EnqueueOrganization(r.Context(), req.OrganizationID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, rebuildResponse{JobIDs: []string{id}})
	case req.Url != "":
		ids, err := s.rebuilder.EnqueueHostname(r.Context(), req.Url)
		if err != nil {
			if errors.Is(err, rebuildsvc.ErrUnknownUrl) {
				writeError(w, http.StatusNotFound, "unknown url")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, rebuildResponse{JobIDs: ids})
	default:
		writeError(w, http.StatusBadRequest, "organization_id or url required")
	}
}

type organizationReport struct {
	OrganizationID int64                          `json:"organization_id"`
	When           time.Time                      `json:"when"`
	Rating         int                            `json:"rating"`
	Calculation    domain.OrganizationCalculation `json:"calculation"`
}

func (s *Server) getOrganizationReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	at, ok := s.atParam(w, r)
	if !ok {
		return
	}
	snap, found, err := s.orgSnaps.LatestBefore(r.Context(), id, at)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no report at this moment")
		return
	}
	writeJSON(w, http.StatusOK, organizationReport{
		OrganizationID: snap.OrganizationID,
		When:           snap.When,
		Rating:         snap.Rating,
		Calculation:    snap.Calculation,
	})
}

type urlReport struct {
	UrlID       int64                 `json:"url_id"`
	When        time.Time             `json:"when"`
	Terminal    bool                  `json:"terminal"`
	Calculation domain.UrlCalculation `json:"calculation"`
}

func (s *Server) getUrlReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	at, ok := s.atParam(w, r)
	if !ok {
		return
	}
	snap, found, err := s.urlSnaps.LatestBefore(r.Context(), id, at)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no report at this moment")
		return
	}
	writeJSON(w, http.StatusOK, urlReport{
		UrlID:       snap.UrlID,
		When:        snap.When,
		Terminal:    snap.Terminal,
		Calculation: snap.Calculation,
	})
}

// atParam parses the optional ?at= RFC 3339 instant, defaulting to now.
func (s *Server) atParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return s.clock.Now().UTC(), true
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid at parameter, want RFC 3339")
		return time.Time{}, false
	}
	return at.UTC(), true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
