package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/qarax/qarax/lib/cpstore"
	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/logger"
	mw "github.com/qarax/qarax/lib/middleware"
)

// ListTransfers lists every transfer.
func (s *ApiService) ListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := s.Store.ListTransfers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(transfers, func(t *cpstore.Transfer, _ int) Transfer { return transferToWire(t) }))
}

type createTransferRequest struct {
	PoolID     string `json:"pool_id"`
	SourceURI  string `json:"source_uri"`
	Name       string `json:"name"`
	ObjectType string `json:"object_type"`
}

// CreateTransfer accepts an async copy into a storage pool and returns
// 202; the runner produces a StorageObject on success.
func (s *ApiService) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "malformed json body", err))
		return
	}
	if req.PoolID == "" || req.SourceURI == "" || req.Name == "" {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "pool_id, source_uri and name are required", nil))
		return
	}
	objectType := req.ObjectType
	if objectType == "" {
		objectType = "disk"
	}
	if !storageObjectTypes[objectType] || objectType == "snapshot" {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "unsupported transfer object type "+objectType, nil))
		return
	}
	if _, err := s.Store.GetStoragePool(r.Context(), req.PoolID); err != nil {
		writeError(w, errs.Wrap(errs.ErrReferentialIntegrity, "storage pool "+req.PoolID+" not found", err))
		return
	}

	t := &cpstore.Transfer{
		ID:        uuid.NewString(),
		PoolID:    req.PoolID,
		SourceURI: req.SourceURI,
		Status:    cpstore.TransferPending,
	}
	if err := s.Store.CreateTransfer(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}

	bg := logger.AddToContext(context.WithoutCancel(r.Context()), logger.FromContext(r.Context()))
	go s.Transfers.Run(bg, t.ID, req.Name, objectType)

	created, err := s.Store.GetTransfer(r.Context(), t.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, transferToWire(created))
}

// GetTransfer returns one transfer. Transfers are addressed by exact ID
// rather than the resolver middleware since they carry no name.
func (s *ApiService) GetTransfer(w http.ResponseWriter, r *http.Request) {
	id := transferID(r)
	t, err := s.Store.GetTransfer(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transferToWire(t))
}

func transferID(r *http.Request) string {
	if id := mw.GetResolvedID(r.Context(), "transfer"); id != "" {
		return id
	}
	return chiURLParam(r, "id")
}
