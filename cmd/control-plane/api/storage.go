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

// ListStoragePools lists every pool.
func (s *ApiService) ListStoragePools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.Store.ListStoragePools(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(pools, func(p *cpstore.StoragePool, _ int) StoragePool { return storagePoolToWire(p) }))
}

type createStoragePoolRequest struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Config   map[string]string `json:"config"`
	Capacity *ByteQuantity     `json:"capacity"`
}

// CreateStoragePool registers a pool. Local and NFS pools both need a path
// in their config; capacity is optional and bounds allocation when set.
func (s *ApiService) CreateStoragePool(w http.ResponseWriter, r *http.Request) {
	var req createStoragePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "malformed json body", err))
		return
	}
	if req.Type != "local" && req.Type != "nfs" {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "pool type must be local or nfs", nil))
		return
	}
	if req.Config["path"] == "" {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "pool config requires a path", nil))
		return
	}

	p := &cpstore.StoragePool{
		ID:     req.ID,
		Type:   req.Type,
		Config: req.Config,
		Status: cpstore.PoolActive,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if req.Capacity != nil {
		capacity := int64(*req.Capacity)
		if capacity <= 0 {
			writeError(w, errs.Wrap(errs.ErrInvalidConfig, "capacity must be > 0", nil))
			return
		}
		p.Capacity = &capacity
	}

	if err := s.Store.CreateStoragePool(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.Store.GetStoragePool(r.Context(), p.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, storagePoolToWire(created))
}

// GetStoragePool returns one pool.
func (s *ApiService) GetStoragePool(w http.ResponseWriter, r *http.Request) {
	id := mw.GetResolvedID(r.Context(), "storage_pool")
	p, err := s.Store.GetStoragePool(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, storagePoolToWire(p))
}

// DeleteStoragePool removes a pool; objects still in it turn the delete
// into a referential-integrity error (422) via the pool_id foreign key.
func (s *ApiService) DeleteStoragePool(w http.ResponseWriter, r *http.Request) {
	id := mw.GetResolvedID(r.Context(), "storage_pool")
	if err := s.Store.DeleteStoragePool(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ListStorageObjects lists objects, optionally scoped to one pool.
func (s *ApiService) ListStorageObjects(w http.ResponseWriter, r *http.Request) {
	objects, err := s.Store.ListStorageObjects(r.Context(), r.URL.Query().Get("pool_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(objects, func(o *cpstore.StorageObject, _ int) StorageObject { return storageObjectToWire(o) }))
}

type createStorageObjectRequest struct {
	ID        string            `json:"id"`
	PoolID    string            `json:"pool_id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	SizeBytes ByteQuantity      `json:"size_bytes"`
	Config    map[string]string `json:"config"`
	ParentID  *string           `json:"parent_id"`
}

var storageObjectTypes = map[string]bool{
	"disk": true, "kernel": true, "initrd": true, "iso": true, "snapshot": true,
}

// CreateStorageObject registers an object in a pool, reserving its size
// against the pool's capacity.
func (s *ApiService) CreateStorageObject(w http.ResponseWriter, r *http.Request) {
	var req createStorageObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "malformed json body", err))
		return
	}
	if req.PoolID == "" || req.Name == "" {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "pool_id and name are required", nil))
		return
	}
	if !storageObjectTypes[req.Type] {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "unknown storage object type "+req.Type, nil))
		return
	}

	o := &cpstore.StorageObject{
		ID:        req.ID,
		PoolID:    req.PoolID,
		Name:      req.Name,
		Type:      req.Type,
		SizeBytes: int64(req.SizeBytes),
		Config:    req.Config,
		ParentID:  req.ParentID,
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	if err := s.Store.CreateStorageObject(r.Context(), o); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.Store.GetStorageObject(r.Context(), o.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, storageObjectToWire(created))
}

// GetStorageObject returns one object.
func (s *ApiService) GetStorageObject(w http.ResponseWriter, r *http.Request) {
	id := mw.GetResolvedID(r.Context(), "storage_object")
	o, err := s.Store.GetStorageObject(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, storageObjectToWire(o))
}

// DeleteStorageObject removes an object and releases its reserved capacity.
func (s *ApiService) DeleteStorageObject(w http.ResponseWriter, r *http.Request) {
	id := mw.GetResolvedID(r.Context(), "storage_object")
	if err := s.Store.DeleteStorageObject(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
