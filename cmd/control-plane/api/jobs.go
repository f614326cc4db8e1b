package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/qarax/qarax/lib/cpstore"
	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/logger"
	mw "github.com/qarax/qarax/lib/middleware"
)

// ListJobs lists every job.
func (s *ApiService) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Store.ListJobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(jobs, func(j *cpstore.Job, _ int) Job { return jobToWire(j) }))
}

// GetJob returns one job.
func (s *ApiService) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mw.GetResolvedID(r.Context(), "job")
	if id == "" {
		id = chiURLParam(r, "id")
	}
	j, err := s.Store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToWire(j))
}

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Trust boundary is the private network; no origin policy at this tier.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchJob streams job status transitions over a websocket until the job
// reaches a terminal status, supplementing the polling GET. One frame per
// observed change, JSON-encoded in the same shape as GET /jobs/{id}.
func (s *ApiService) WatchJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := mw.GetResolvedID(r.Context(), "job")
	if id == "" {
		id = chiURLParam(r, "id")
	}

	if _, err := s.Store.GetJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	conn, err := watchUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: surface client close so the poll loop exits.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastStatus cpstore.JobStatus
	lastProgress := -1
	for {
		j, err := s.Store.GetJob(r.Context(), id)
		if err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				log.ErrorContext(r.Context(), "job watch read failed", "job_id", id, "error", err)
			}
			return
		}
		if j.Status != lastStatus || j.Progress != lastProgress {
			lastStatus, lastProgress = j.Status, j.Progress
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(jobToWire(j)); err != nil {
				return
			}
		}
		if j.Status == cpstore.JobSucceeded || j.Status == cpstore.JobFailed {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(j.Status)))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

func chiURLParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
