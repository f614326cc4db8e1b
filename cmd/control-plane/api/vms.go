package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/distribution/reference"
	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/qarax/qarax/lib/cpstore"
	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/logger"
	mw "github.com/qarax/qarax/lib/middleware"
	"github.com/qarax/qarax/lib/vmconfig"
)

type createVmRequest struct {
	Name              string           `json:"name"`
	Hypervisor        string           `json:"hypervisor"`
	BootVCPUs         int              `json:"boot_vcpus"`
	MaxVCPUs          int              `json:"max_vcpus"`
	Topology          *topologyRequest `json:"topology"`
	Hyperv            bool             `json:"hyperv"`
	MemorySize        ByteQuantity     `json:"memory_size"`
	MemoryHotplugSize ByteQuantity     `json:"memory_hotplug_size"`
	Hugepages         bool             `json:"hugepages"`
	MemoryShared      bool             `json:"memory_shared"`
	Mergeable         bool             `json:"mergeable"`
	Prefault          bool             `json:"prefault"`
	THP               bool             `json:"thp"`
	BootSourceID      string           `json:"boot_source_id"`
	Image             string           `json:"image"`
	Disks             []VmDisk         `json:"disks"`
	Networks          []VmNetwork      `json:"networks"`
	Consoles          []VmConsole      `json:"consoles"`
	RNG               *VmRng           `json:"rng"`
	Filesystems       []VmFilesystem   `json:"filesystems"`
	RateLimitGroups   []RateLimitGroup `json:"rate_limit_groups"`
}

type topologyRequest struct {
	ThreadsPerCore int `json:"threads_per_core"`
	CoresPerDie    int `json:"cores_per_die"`
	DiesPerPackage int `json:"dies_per_package"`
	Packages       int `json:"packages"`
}

// CreateVm validates the declarative config, resolves storage references to
// host paths, and hands placement plus dispatch to the scheduler (spec
// §4.6). Validation failures never reach the store.
func (s *ApiService) CreateVm(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req createVmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "malformed json body", err))
		return
	}
	if req.Name == "" {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "name is required", nil))
		return
	}
	if err := validateImageRefs(req); err != nil {
		writeError(w, err)
		return
	}

	flavor, err := flavorFromRequest(req.Hypervisor)
	if err != nil {
		writeError(w, err)
		return
	}

	in, bootSourceID, err := s.buildInput(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	in.Flavor = flavor

	vm, err := s.Scheduler.CreateVM(r.Context(), in, req.Name, flavor, bootSourceID)
	if err != nil {
		log.ErrorContext(r.Context(), "create vm failed", "name", req.Name, "error", err)
		writeError(w, err)
		return
	}
	if req.Image != "" {
		_ = s.Store.UpdateVMImageRef(r.Context(), vm.ID, req.Image)
		vm.ImageRef = req.Image
	}
	writeJSON(w, http.StatusCreated, vmToWire(vm))
}

// flavorFromRequest accepts both wire spellings of the hypervisor
// flavor, defaulting to Cloud Hypervisor.
func flavorFromRequest(v string) (hypervisor.Type, error) {
	switch v {
	case "", "cloud_hv", "cloud-hypervisor":
		return hypervisor.TypeCloudHypervisor, nil
	case "qemu":
		return hypervisor.TypeQEMU, nil
	default:
		return "", errs.Wrap(errs.ErrInvalidConfig, "unknown hypervisor flavor "+v, nil)
	}
}

// validateImageRefs parses every OCI image reference in the request so a
// bad reference is rejected before any row is written.
func validateImageRefs(req createVmRequest) error {
	refs := []string{}
	if req.Image != "" {
		refs = append(refs, req.Image)
	}
	for _, f := range req.Filesystems {
		if f.Image != "" {
			refs = append(refs, f.Image)
		}
	}
	for _, ref := range refs {
		if _, err := reference.ParseNormalizedNamed(ref); err != nil {
			return errs.Wrap(errs.ErrInvalidConfig, "invalid image reference "+ref, err)
		}
	}
	return nil
}

// buildInput converts the wire request to the CT input, resolving the boot
// source and every disk's storage-object reference to host paths.
func (s *ApiService) buildInput(ctx context.Context, req createVmRequest) (vmconfig.Input, *string, error) {
	var topo *hypervisor.CPUTopology
	if req.Topology != nil {
		topo = &hypervisor.CPUTopology{
			ThreadsPerCore: req.Topology.ThreadsPerCore,
			CoresPerDie:    req.Topology.CoresPerDie,
			DiesPerPackage: req.Topology.DiesPerPackage,
			Packages:       req.Topology.Packages,
		}
	}

	in := vmconfig.Input{
		BootVCPUs:    req.BootVCPUs,
		MaxVCPUs:     req.MaxVCPUs,
		Topology:     topo,
		Hyperv:       req.Hyperv,
		MemoryBytes:  int64(req.MemorySize),
		HotplugBytes: int64(req.MemoryHotplugSize),
		Hugepages:    req.Hugepages,
		MemoryShared: req.MemoryShared,
		Mergeable:    req.Mergeable,
		Prefault:     req.Prefault,
		THP:          req.THP,
		Consoles:     lo.Map(req.Consoles, func(c VmConsole, _ int) hypervisor.ConsoleConfig { return consoleToDomain(c) }),
		Filesystems:  lo.Map(req.Filesystems, func(f VmFilesystem, _ int) hypervisor.FilesystemConfig { return filesystemToDomain(f) }),
		RateLimitGroups: lo.Map(req.RateLimitGroups, func(g RateLimitGroup, _ int) hypervisor.RateLimitGroup {
			return rateLimitGroupToDomain(g)
		}),
	}
	if req.RNG != nil {
		in.RNG = &hypervisor.RNGConfig{SourcePath: req.RNG.SourcePath}
	}

	var bootSourceID *string
	if req.BootSourceID != "" {
		bs, err := s.Store.GetBootSource(ctx, req.BootSourceID)
		if err != nil {
			return in, nil, errs.Wrap(errs.ErrReferentialIntegrity, "boot source "+req.BootSourceID+" not found", err)
		}
		bootSourceID = &bs.ID
		in.KernelArgs = bs.KernelArgs
		if in.KernelPath, err = s.resolveObjectPath(ctx, bs.KernelRef); err != nil {
			return in, nil, err
		}
		if bs.InitrdRef != "" {
			if in.InitrdPath, err = s.resolveObjectPath(ctx, bs.InitrdRef); err != nil {
				return in, nil, err
			}
		}
		if bs.FirmwareRef != "" {
			if in.FirmwarePath, err = s.resolveObjectPath(ctx, bs.FirmwareRef); err != nil {
				return in, nil, err
			}
		}
	}

	in.Disks = make([]vmconfig.DiskInput, len(req.Disks))
	for i, d := range req.Disks {
		di := vmconfig.DiskInput{
			DeviceID:         d.DeviceID,
			BootOrder:        d.BootOrder,
			VhostUser:        d.VhostUser,
			VhostSocket:      d.VhostSocket,
			StorageObjectRef: d.StorageObjectRef,
			ReadOnly:         d.ReadOnly,
			NumQueues:        d.NumQueues,
			QueueSize:        d.QueueSize,
			PCISegment:       d.PCISegment,
			RateLimitRef:     d.RateLimitGroup,
		}
		if !d.VhostUser && d.StorageObjectRef != "" {
			path, err := s.resolveObjectPath(ctx, d.StorageObjectRef)
			if err != nil {
				return in, nil, err
			}
			di.ResolvedPath = path
		}
		in.Disks[i] = di
	}

	in.Networks = lo.Map(req.Networks, func(n VmNetwork, _ int) vmconfig.NetInput {
		return vmconfig.NetInput{
			DeviceID:     n.DeviceID,
			VhostUser:    n.VhostUser,
			VhostSocket:  n.VhostSocket,
			TAPName:      n.TAPName,
			MAC:          n.MAC,
			HostMAC:      n.HostMAC,
			IP:           n.IP,
			MTU:          n.MTU,
			NumQueues:    n.NumQueues,
			QueueSize:    n.QueueSize,
			RateLimitRef: n.RateLimitGroup,
		}
	})

	return in, bootSourceID, nil
}

// resolveObjectPath turns a storage-object reference into the host path the
// data plane hands the hypervisor; pool I/O itself stays behind the
// path-providing storage layer.
func (s *ApiService) resolveObjectPath(ctx context.Context, objectRef string) (string, error) {
	obj, err := s.Store.GetStorageObject(ctx, objectRef)
	if err != nil {
		return "", errs.Wrap(errs.ErrReferentialIntegrity, "storage object "+objectRef+" not found", err)
	}
	path := obj.Config["path"]
	if path == "" {
		return "", errs.Wrap(errs.ErrInvalidConfig, "storage object "+objectRef+" has no path configured", nil)
	}
	return path, nil
}

// ListVms lists persisted VM rows, optionally filtered by host.
func (s *ApiService) ListVms(w http.ResponseWriter, r *http.Request) {
	vms, err := s.Scheduler.ListVMs(r.Context(), r.URL.Query().Get("host_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(vms, func(vm *cpstore.VM, _ int) Vm { return vmToWire(vm) }))
}

// GetVm returns the node's live view when its host is reachable, the last
// persisted row otherwise.
func (s *ApiService) GetVm(w http.ResponseWriter, r *http.Request) {
	vm := mw.GetResolvedVM[cpstore.VM](r.Context())
	if vm == nil {
		writeError(w, errs.Wrap(errs.ErrInternal, "resource not resolved", nil))
		return
	}
	live, err := s.Scheduler.GetVMInfo(r.Context(), vm.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vmToWire(live))
}

// DeleteVm tears the VM down on its node and removes the row.
func (s *ApiService) DeleteVm(w http.ResponseWriter, r *http.Request) {
	vm := mw.GetResolvedVM[cpstore.VM](r.Context())
	if vm == nil {
		writeError(w, errs.Wrap(errs.ErrInternal, "resource not resolved", nil))
		return
	}
	if err := s.Scheduler.DeleteVM(r.Context(), vm.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *ApiService) lifecycle(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, id string) (*cpstore.VM, error)) {
	vm := mw.GetResolvedVM[cpstore.VM](r.Context())
	if vm == nil {
		writeError(w, errs.Wrap(errs.ErrInternal, "resource not resolved", nil))
		return
	}
	updated, err := op(r.Context(), vm.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vmToWire(updated))
}

// StartVm boots the VM on its node.
func (s *ApiService) StartVm(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.Scheduler.StartVM)
}

// StopVm shuts the VM down on its node.
func (s *ApiService) StopVm(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.Scheduler.StopVM)
}

// PauseVm pauses the VM on its node.
func (s *ApiService) PauseVm(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.Scheduler.PauseVM)
}

// ResumeVm resumes the VM on its node.
func (s *ApiService) ResumeVm(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.Scheduler.ResumeVM)
}

// AddVmNetwork hot-attaches a NIC on the running VM.
func (s *ApiService) AddVmNetwork(w http.ResponseWriter, r *http.Request) {
	vm := mw.GetResolvedVM[cpstore.VM](r.Context())
	if vm == nil {
		writeError(w, errs.Wrap(errs.ErrInternal, "resource not resolved", nil))
		return
	}
	var req VmNetwork
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "malformed json body", err))
		return
	}
	if req.DeviceID == "" {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "device_id is required", nil))
		return
	}
	cfg := hypervisor.NetConfig{
		DeviceID:    req.DeviceID,
		VhostUser:   req.VhostUser,
		VhostSocket: req.VhostSocket,
		TAPDevice:   req.TAPName,
		MAC:         req.MAC,
		HostMAC:     req.HostMAC,
		IP:          req.IP,
		MTU:         req.MTU,
		NumQueues:   req.NumQueues,
		QueueSize:   req.QueueSize,
		OffloadTSO:  true,
		OffloadUFO:  true,
		OffloadCSUM: true,
	}
	if err := s.Scheduler.AddNetworkDevice(r.Context(), vm.ID, cfg); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// RemoveVmNetwork hot-detaches a NIC.
func (s *ApiService) RemoveVmNetwork(w http.ResponseWriter, r *http.Request) {
	vm := mw.GetResolvedVM[cpstore.VM](r.Context())
	if vm == nil {
		writeError(w, errs.Wrap(errs.ErrInternal, "resource not resolved", nil))
		return
	}
	if err := s.Scheduler.RemoveNetworkDevice(r.Context(), vm.ID, chi.URLParam(r, "deviceId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// AddVmDisk hot-attaches a disk on the running VM, resolving its storage
// object to a host path first.
func (s *ApiService) AddVmDisk(w http.ResponseWriter, r *http.Request) {
	vm := mw.GetResolvedVM[cpstore.VM](r.Context())
	if vm == nil {
		writeError(w, errs.Wrap(errs.ErrInternal, "resource not resolved", nil))
		return
	}
	var req VmDisk
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "malformed json body", err))
		return
	}
	if req.DeviceID == "" {
		writeError(w, errs.Wrap(errs.ErrInvalidConfig, "device_id is required", nil))
		return
	}

	cfg := hypervisor.DiskConfig{
		DeviceID:    req.DeviceID,
		VhostUser:   req.VhostUser,
		VhostSocket: req.VhostSocket,
		ReadOnly:    req.ReadOnly,
		NumQueues:   req.NumQueues,
		QueueSize:   req.QueueSize,
		PCISegment:  req.PCISegment,
	}
	if !req.VhostUser {
		path, err := s.resolveObjectPath(r.Context(), req.StorageObjectRef)
		if err != nil {
			writeError(w, err)
			return
		}
		cfg.Path = path
	}

	if err := s.Scheduler.AddDiskDevice(r.Context(), vm.ID, cfg); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// RemoveVmDisk hot-detaches a disk.
func (s *ApiService) RemoveVmDisk(w http.ResponseWriter, r *http.Request) {
	vm := mw.GetResolvedVM[cpstore.VM](r.Context())
	if vm == nil {
		writeError(w, errs.Wrap(errs.ErrInternal, "resource not resolved", nil))
		return
	}
	if err := s.Scheduler.RemoveDiskDevice(r.Context(), vm.ID, chi.URLParam(r, "deviceId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
