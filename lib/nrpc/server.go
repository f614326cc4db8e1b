package nrpc

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/qarax/qarax/lib/vmconfig"
	"github.com/qarax/qarax/lib/vmmanager"
)

// Server is the NRPC HTTP surface: a thin 1:1 mapping onto VM-M operations
//, with CT translation run on CreateVM's body before VM-M ever
// sees it.
type Server struct {
	mgr vmmanager.Manager
}

// NewServer constructs an NRPC server over the given VM-M.
func NewServer(mgr vmmanager.Manager) *Server {
	return &Server{mgr: mgr}
}

// Routes mounts the NRPC surface onto r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/vms", s.createVM)
	r.Get("/vms", s.listVMs)
	r.Get("/vms/{id}", s.getVMInfo)
	r.Post("/vms/{id}/start", s.startVM)
	r.Post("/vms/{id}/stop", s.stopVM)
	r.Post("/vms/{id}/pause", s.pauseVM)
	r.Post("/vms/{id}/resume", s.resumeVM)
	r.Delete("/vms/{id}", s.deleteVM)
	r.Post("/vms/{id}/net", s.addNet)
	r.Delete("/vms/{id}/net/{device_id}", s.removeNet)
	r.Post("/vms/{id}/disk", s.addDisk)
	r.Delete("/vms/{id}/disk/{disk_id}", s.removeDisk)
}

func (s *Server) createVM(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		id = r.URL.Query().Get("id")
	}

	var body struct {
		ID string `json:"id"`
		VmConfig
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, badJSON(err))
		return
	}
	if body.ID != "" {
		id = body.ID
	}
	if id == "" {
		writeError(w, missingField("id"))
		return
	}

	cfg, err := vmconfig.Translate(body.VmConfig.toInput())
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := s.mgr.Create(r.Context(), id, cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, vmInfoFromSnapshot(snap))
}

func (s *Server) listVMs(w http.ResponseWriter, r *http.Request) {
	snaps := s.mgr.List(r.Context())
	ids := make([]string, len(snaps))
	for i, snap := range snaps {
		ids[i] = snap.ID
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) getVMInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.mgr.Info(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vmInfoFromSnapshot(snap))
}

func (s *Server) startVM(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.mgr.Start(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vmInfoFromSnapshot(snap))
}

func (s *Server) stopVM(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.mgr.Stop(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vmInfoFromSnapshot(snap))
}

func (s *Server) pauseVM(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.mgr.Pause(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vmInfoFromSnapshot(snap))
}

func (s *Server) resumeVM(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.mgr.Resume(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vmInfoFromSnapshot(snap))
}

func (s *Server) deleteVM(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) addNet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var cfg NetConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, badJSON(err))
		return
	}
	if err := s.mgr.AddNet(r.Context(), id, cfg.toHypervisorConfig()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) removeNet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deviceID := chi.URLParam(r, "device_id")
	if err := s.mgr.RemoveNet(r.Context(), id, deviceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) addDisk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var cfg DiskConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, badJSON(err))
		return
	}
	if err := s.mgr.AddDisk(r.Context(), id, cfg.toHypervisorConfig()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) removeDisk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	diskID := chi.URLParam(r, "disk_id")
	if err := s.mgr.RemoveDisk(r.Context(), id, diskID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
