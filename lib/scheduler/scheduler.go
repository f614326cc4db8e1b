// Package scheduler implements the Control-Plane Scheduler/Dispatcher
// (CPS-S): the create-VM placement flow and the forwarding of
// every other lifecycle operation to the node that owns a VM.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/qarax/qarax/lib/cpstore"
	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/logger"
	"github.com/qarax/qarax/lib/nrpc"
	"github.com/qarax/qarax/lib/vmconfig"
)

// ClientFactory builds (or reuses) an NRPC client addressed at a host.
// Production code caches clients per host; tests substitute a factory that
// returns a client wired to an httptest.Server.
type ClientFactory func(host *cpstore.Host) *nrpc.Client

// Scheduler is the CPS-S: it owns VM placement and forwards lifecycle
// operations, persisting every observed-state update the node returns
// (the store is the serialization point).
type Scheduler struct {
	store     *cpstore.Store
	newClient ClientFactory
	log       *slog.Logger
}

func New(store *cpstore.Store, newClient ClientFactory, cfg logger.Config) *Scheduler {
	return &Scheduler{
		store:     store,
		newClient: newClient,
		log:       logger.NewSubsystemLogger(logger.SubsystemScheduler, cfg),
	}
}

func defaultClientFactory(timeout time.Duration) ClientFactory {
	return func(host *cpstore.Host) *nrpc.Client {
		return nrpc.NewClient("http://"+host.Address+":"+strconv.Itoa(host.RPCPort), timeout)
	}
}

// NewWithDefaultTransport wires a Scheduler whose ClientFactory dials each
// host's NRPC port directly over HTTP.
func NewWithDefaultTransport(store *cpstore.Store, cfg logger.Config) *Scheduler {
	return New(store, defaultClientFactory(10*time.Second), cfg)
}

// CreateVM runs the step-by-step create flow: validate
// referential integrity, select an eligible host deterministically,
// persist the VM row against that host, then dispatch CreateVM to the
// node. A placement failure (no-eligible-host) never reaches the node; a
// dispatch failure leaves the VM row in status unknown for operator
// inspection rather than rolling back placement, since the node may have
// partially created the VM.
func (s *Scheduler) CreateVM(ctx context.Context, in vmconfig.Input, name string, flavor hypervisor.Type, bootSourceID *string) (*cpstore.VM, error) {
	if _, err := vmconfig.Translate(in); err != nil {
		return nil, err
	}

	if bootSourceID != nil {
		if _, err := s.store.GetBootSource(ctx, *bootSourceID); err != nil {
			return nil, errs.Wrap(errs.ErrReferentialIntegrity, "boot source "+*bootSourceID+" not found", err)
		}
	}

	hosts, err := s.store.ListEligibleHosts(ctx)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, errs.Wrap(errs.ErrNoEligibleHost, "no host in status up", nil)
	}
	host := hosts[0]

	vm := vmFromInput(in, name, flavor, bootSourceID, &host.ID)
	if err := s.store.CreateVM(ctx, vm); err != nil {
		return nil, err
	}

	client := s.newClient(host)
	wire := wireConfigFromInput(in)
	wire.Hypervisor = string(vm.Hypervisor)
	info, dispatchErr := dispatchWithRetry(ctx, func() (*nrpc.VmInfo, error) {
		return client.CreateVM(ctx, vm.ID, wire)
	})

	if dispatchErr != nil {
		s.log.Error("dispatch create vm failed", "vm_id", vm.ID, "host_id", host.ID, "error", dispatchErr)
		_ = s.store.UpdateVMStatus(ctx, vm.ID, cpstore.VMUnknown, dispatchErr.Error())
		return nil, dispatchErr
	}

	status := cpstore.VMStatus(info.State)
	if err := s.store.UpdateVMStatus(ctx, vm.ID, status, ""); err != nil {
		return nil, err
	}
	vm.Status = status
	return vm, nil
}

func vmFromInput(in vmconfig.Input, name string, flavor hypervisor.Type, bootSourceID, hostID *string) *cpstore.VM {
	if flavor == "" {
		flavor = hypervisor.TypeCloudHypervisor
	}
	disks := make([]cpstore.Disk, len(in.Disks))
	for i, d := range in.Disks {
		disks[i] = cpstore.Disk{
			DeviceID:         d.DeviceID,
			BootOrder:        d.BootOrder,
			VhostUser:        d.VhostUser,
			VhostSocket:      d.VhostSocket,
			StorageObjectRef: d.StorageObjectRef,
			ReadOnly:         d.ReadOnly,
			NumQueues:        d.NumQueues,
			QueueSize:        d.QueueSize,
			PCISegment:       d.PCISegment,
			RateLimitRef:     d.RateLimitRef,
		}
	}
	nets := make([]cpstore.NetworkInterface, len(in.Networks))
	for i, n := range in.Networks {
		nets[i] = cpstore.NetworkInterface{
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
			RateLimitRef: n.RateLimitRef,
		}
	}

	return &cpstore.VM{
		ID:              uuid.NewString(),
		Name:            name,
		HostID:          hostID,
		Hypervisor:      flavor,
		BootVCPUs:       in.BootVCPUs,
		MaxVCPUs:        in.MaxVCPUs,
		Topology:        in.Topology,
		Hyperv:          in.Hyperv,
		MemoryBytes:     in.MemoryBytes,
		HotplugBytes:    in.HotplugBytes,
		Hugepages:       in.Hugepages,
		MemoryShared:    in.MemoryShared,
		Mergeable:       in.Mergeable,
		Prefault:        in.Prefault,
		THP:             in.THP,
		BootSourceID:    bootSourceID,
		Disks:           disks,
		Networks:        nets,
		Consoles:        in.Consoles,
		RNG:             in.RNG,
		Filesystems:     in.Filesystems,
		RateLimitGroups: in.RateLimitGroups,
		Status:          cpstore.VMPending,
	}
}

func wireConfigFromInput(in vmconfig.Input) nrpc.VmConfig {
	var topo *nrpc.CPUTopology
	if in.Topology != nil {
		topo = &nrpc.CPUTopology{
			ThreadsPerCore: in.Topology.ThreadsPerCore,
			CoresPerDie:    in.Topology.CoresPerDie,
			DiesPerPackage: in.Topology.DiesPerPackage,
			Packages:       in.Topology.Packages,
		}
	}

	disks := make([]nrpc.Disk, len(in.Disks))
	for i, d := range in.Disks {
		disks[i] = nrpc.Disk{
			DeviceID:         d.DeviceID,
			BootOrder:        d.BootOrder,
			VhostUser:        d.VhostUser,
			VhostSocket:      d.VhostSocket,
			StorageObjectRef: d.StorageObjectRef,
			ResolvedPath:     d.ResolvedPath,
			ReadOnly:         d.ReadOnly,
			NumQueues:        d.NumQueues,
			QueueSize:        d.QueueSize,
			PCISegment:       d.PCISegment,
			RateLimitRef:     d.RateLimitRef,
		}
	}

	nets := make([]nrpc.Net, len(in.Networks))
	for i, n := range in.Networks {
		nets[i] = nrpc.Net{
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
			OffloadTSO:   n.OffloadTSO,
			OffloadUFO:   n.OffloadUFO,
			OffloadCSUM:  n.OffloadCSUM,
			RateLimitRef: n.RateLimitRef,
		}
	}

	return nrpc.VmConfig{
		BootVCPUs:       in.BootVCPUs,
		MaxVCPUs:        in.MaxVCPUs,
		Topology:        topo,
		Hyperv:          in.Hyperv,
		MemorySize:      in.MemoryBytes,
		HotplugSize:     in.HotplugBytes,
		Hugepages:       in.Hugepages,
		MemoryShared:    in.MemoryShared,
		Mergeable:       in.Mergeable,
		Prefault:        in.Prefault,
		THP:             in.THP,
		KernelPath:      in.KernelPath,
		InitrdPath:      in.InitrdPath,
		FirmwarePath:    in.FirmwarePath,
		KernelArgs:      in.KernelArgs,
		Disks:           disks,
		Networks:        nets,
		Consoles:        in.Consoles,
		RNG:             in.RNG,
		Filesystems:     in.Filesystems,
		RateLimitGroups: in.RateLimitGroups,
	}
}

// dispatchWithRetry retries an NRPC call while it fails with a retryable
// (host-unreachable/transport-equivalent) error.
func dispatchWithRetry[T any](ctx context.Context, call func() (T, error)) (T, error) {
	var result T
	op := func() error {
		var err error
		result, err = call()
		if err == nil {
			return nil
		}
		if errors.Is(err, errs.ErrHostUnreachable) {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, backoff.WithContext(dispatchBackoff(), ctx))
	return result, err
}
