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

// ListHosts lists every host.
func (s *ApiService) ListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.Store.ListHosts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(hosts, func(h *cpstore.Host, _ int) Host { return hostToWire(h) }))
}

type createHostRequest struct {
	ID             string            `json:"id"`
	Address        string            `json:"address"`
	RPCPort        int               `json:"rpc_port"`
	CredentialsRef string            `json:"credentials_ref"`
	Metadata       map[string]string `json:"metadata"`
}

// CreateHost registers a new host in status down. Provisioning it to up is
// a separate deploy call.
func (s *ApiService) CreateHost(w http.ResponseWriter, r *http.Request) {
	var req createHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "malformed json body", err))
		return
	}
	if req.Address == "" {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "address is required", nil))
		return
	}

	h := &cpstore.Host{
		ID:             req.ID,
		Address:        req.Address,
		RPCPort:        req.RPCPort,
		CredentialsRef: req.CredentialsRef,
		Metadata:       req.Metadata,
		Status:         cpstore.HostDown,
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.RPCPort == 0 {
		h.RPCPort = s.Config.DefaultNodePort
	}

	if err := s.Store.CreateHost(r.Context(), h); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.Store.GetHost(r.Context(), h.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, hostToWire(created))
}

// GetHost returns one host; resolution happened in middleware.
func (s *ApiService) GetHost(w http.ResponseWriter, r *http.Request) {
	h := mw.GetResolvedHost[cpstore.Host](r.Context())
	if h == nil {
		writeError(w, errs.Wrap(errs.ErrInternal, "resource not resolved", nil))
		return
	}
	writeJSON(w, http.StatusOK, hostToWire(h))
}

type patchHostRequest struct {
	Status            *string           `json:"status"`
	HypervisorVersion *string           `json:"hypervisor_version"`
	KernelVersion     *string           `json:"kernel_version"`
	Metadata          map[string]string `json:"metadata"`
}

// PatchHost applies an operator override. A status override bypasses the
// provisioner state machine entirely, at the operator's own risk.
func (s *ApiService) PatchHost(w http.ResponseWriter, r *http.Request) {
	h := mw.GetResolvedHost[cpstore.Host](r.Context())
	if h == nil {
		writeError(w, errs.Wrap(errs.ErrInternal, "resource not resolved", nil))
		return
	}

	var req patchHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "malformed json body", err))
		return
	}

	if req.Status != nil {
		status := cpstore.HostStatus(*req.Status)
		switch status {
		case cpstore.HostDown, cpstore.HostInstalling, cpstore.HostUp, cpstore.HostInstallationFailed:
		default:
			writeError(w, errs.Wrap(errs.ErrInvalidConfig, "unknown host status "+*req.Status, nil))
			return
		}
		logger.FromContext(r.Context()).Warn("operator status override", "host_id", h.ID, "from", h.Status, "to", status)
		if err := s.Store.UpdateHostStatus(r.Context(), h.ID, status, ""); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.HypervisorVersion != nil || req.KernelVersion != nil || req.Metadata != nil {
		if err := s.Store.UpdateHostMetadata(r.Context(), h.ID, req.HypervisorVersion, req.KernelVersion, req.Metadata); err != nil {
			writeError(w, err)
			return
		}
	}

	updated, err := s.Store.GetHost(r.Context(), h.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hostToWire(updated))
}

// DeleteHost removes a host. A host with scheduled VMs is rejected with 409
// unless force=true, in which case its VMs are abandoned (host_id nulled,
// status unknown) and left for the operator to delete or reschedule.
func (s *ApiService) DeleteHost(w http.ResponseWriter, r *http.Request) {
	h := mw.GetResolvedHost[cpstore.Host](r.Context())
	if h == nil {
		writeError(w, errs.Wrap(errs.ErrInternal, "resource not resolved", nil))
		return
	}

	vms, err := s.Store.ListVMs(r.Context(), h.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(vms) > 0 {
		if r.URL.Query().Get("force") != "true" {
			writeError(w, errs.Wrap(errs.ErrStoreConflict, "host has scheduled vms; delete them or pass force=true", nil))
			return
		}
		if err := s.Store.AbandonVMsForHost(r.Context(), h.ID); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.Store.DeleteHost(r.Context(), h.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type deployHostRequest struct {
	ImageRef string `json:"image_ref"`
	Reboot   bool   `json:"reboot"`
}

// DeployHost starts the host provisioning sequence asynchronously and
// returns 202 with the tracking job. Eligibility is checked
// before accepting so an ineligible host gets 409 instead of a doomed job.
func (s *ApiService) DeployHost(w http.ResponseWriter, r *http.Request) {
	h := mw.GetResolvedHost[cpstore.Host](r.Context())
	if h == nil {
		writeError(w, errs.Wrap(errs.ErrInternal, "resource not resolved", nil))
		return
	}

	var req deployHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "malformed json body", err))
		return
	}
	if req.ImageRef == "" {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "image_ref is required", nil))
		return
	}
	if h.Status != cpstore.HostDown && h.Status != cpstore.HostInstallationFailed {
		writeError(w, errs.Wrap(errs.ErrState, "host "+h.ID+" is not eligible for deploy from status "+string(h.Status), nil))
		return
	}

	job := &cpstore.Job{
		ID:          uuid.NewString(),
		Type:        "host_deploy",
		Status:      cpstore.JobRunning,
		ResourceRef: h.ID,
	}
	if err := s.Store.CreateJob(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}

	hostID, imageRef, reboot := h.ID, req.ImageRef, req.Reboot
	bg := logger.AddToContext(context.WithoutCancel(r.Context()), logger.FromContext(r.Context()))
	go func() {
		if err := s.Deployer.Deploy(bg, hostID, imageRef, reboot); err != nil {
			_ = s.Store.CompleteJob(bg, job.ID, cpstore.JobFailed, "", err.Error())
			return
		}
		_ = s.Store.CompleteJob(bg, job.ID, cpstore.JobSucceeded, "host "+hostID+" up", "")
	}()

	created, err := s.Store.GetJob(r.Context(), job.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobToWire(created))
}
