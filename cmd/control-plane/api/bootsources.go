package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/qarax/qarax/lib/cpstore"
	"github.com/qarax/qarax/lib/errs"
	mw "github.com/qarax/qarax/lib/middleware"
)

// ListBootSources lists every boot source.
func (s *ApiService) ListBootSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.Store.ListBootSources(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(sources, func(b *cpstore.BootSource, _ int) BootSource { return bootSourceToWire(b) }))
}

type createBootSourceRequest struct {
	ID          string `json:"id"`
	KernelRef   string `json:"kernel_ref"`
	InitrdRef   string `json:"initrd_ref"`
	FirmwareRef string `json:"firmware_ref"`
	KernelArgs  string `json:"kernel_args"`
}

// CreateBootSource registers a boot payload. Every object reference is
// checked against the store so a VM citing this boot source can always
// resolve its paths.
func (s *ApiService) CreateBootSource(w http.ResponseWriter, r *http.Request) {
	var req createBootSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "malformed json body", err))
		return
	}
	if req.KernelRef == "" {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "kernel_ref is required", nil))
		return
	}
	for _, ref := range []string{req.KernelRef, req.InitrdRef, req.FirmwareRef} {
		if ref == "" {
			continue
		}
		if _, err := s.Store.GetStorageObject(r.Context(), ref); err != nil {
			writeError(w, errs.Wrap(errs.ErrReferentialIntegrity, "storage object "+ref+" not found", err))
			return
		}
	}

	b := &cpstore.BootSource{
		ID:          req.ID,
		KernelRef:   req.KernelRef,
		InitrdRef:   req.InitrdRef,
		FirmwareRef: req.FirmwareRef,
		KernelArgs:  req.KernelArgs,
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if err := s.Store.CreateBootSource(r.Context(), b); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.Store.GetBootSource(r.Context(), b.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bootSourceToWire(created))
}

// GetBootSource returns one boot source.
func (s *ApiService) GetBootSource(w http.ResponseWriter, r *http.Request) {
	id := mw.GetResolvedID(r.Context(), "boot_source")
	b, err := s.Store.GetBootSource(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bootSourceToWire(b))
}

// DeleteBootSource removes a boot source; the boot_source_id foreign key
// turns deletion of a still-cited source into a referential-integrity
// error (422).
func (s *ApiService) DeleteBootSource(w http.ResponseWriter, r *http.Request) {
	id := mw.GetResolvedID(r.Context(), "boot_source")
	if err := s.Store.DeleteBootSource(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
