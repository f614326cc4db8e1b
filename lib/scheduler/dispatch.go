package scheduler

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/qarax/qarax/lib/cpstore"
	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/nrpc"
)

// dispatchErrOnly retries an error-only NRPC call the same way
// dispatchWithRetry does for value-returning calls.
func dispatchErrOnly(ctx context.Context, call func() error) error {
	op := func() error {
		err := call()
		if err == nil {
			return nil
		}
		if errors.Is(err, errs.ErrHostUnreachable) {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(op, backoff.WithContext(dispatchBackoff(), ctx))
}

// resolveLiveHost looks up the host a VM is scheduled on, rejecting if
// the VM is unscheduled (host_id null) or its host is not up.
func (s *Scheduler) resolveLiveHost(ctx context.Context, vm *cpstore.VM) (*cpstore.Host, error) {
	if vm.HostID == nil {
		return nil, errs.Wrap(errs.ErrHostUnreachable, "vm "+vm.ID+" has no assigned host", nil)
	}
	host, err := s.store.GetHost(ctx, *vm.HostID)
	if err != nil {
		return nil, err
	}
	if host.Status != cpstore.HostUp {
		return nil, errs.Wrap(errs.ErrHostUnreachable, "host "+host.ID+" is not up", nil)
	}
	return host, nil
}

func (s *Scheduler) vmAndHost(ctx context.Context, id string) (*cpstore.VM, *cpstore.Host, error) {
	vm, err := s.store.GetVMByIDOrName(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	host, err := s.resolveLiveHost(ctx, vm)
	if err != nil {
		return vm, nil, err
	}
	return vm, host, nil
}

func (s *Scheduler) persistObserved(ctx context.Context, vmID string, info *nrpc.VmInfo) {
	if info == nil {
		return
	}
	if err := s.store.UpdateVMStatus(ctx, vmID, cpstore.VMStatus(info.State), ""); err != nil {
		s.log.Error("failed to persist observed vm state", "vm_id", vmID, "error", err)
	}
}

// StartVM forwards StartVM to the owning node.
func (s *Scheduler) StartVM(ctx context.Context, id string) (*cpstore.VM, error) {
	vm, host, err := s.vmAndHost(ctx, id)
	if err != nil {
		return nil, err
	}
	client := s.newClient(host)
	info, err := dispatchWithRetry(ctx, func() (*nrpc.VmInfo, error) { return client.StartVM(ctx, vm.ID) })
	if err != nil {
		return nil, err
	}
	s.persistObserved(ctx, vm.ID, info)
	vm.Status = cpstore.VMStatus(info.State)
	return vm, nil
}

// StopVM forwards StopVM to the owning node.
func (s *Scheduler) StopVM(ctx context.Context, id string) (*cpstore.VM, error) {
	vm, host, err := s.vmAndHost(ctx, id)
	if err != nil {
		return nil, err
	}
	client := s.newClient(host)
	info, err := dispatchWithRetry(ctx, func() (*nrpc.VmInfo, error) { return client.StopVM(ctx, vm.ID) })
	if err != nil {
		return nil, err
	}
	s.persistObserved(ctx, vm.ID, info)
	vm.Status = cpstore.VMStatus(info.State)
	return vm, nil
}

// PauseVM forwards PauseVM to the owning node.
func (s *Scheduler) PauseVM(ctx context.Context, id string) (*cpstore.VM, error) {
	vm, host, err := s.vmAndHost(ctx, id)
	if err != nil {
		return nil, err
	}
	client := s.newClient(host)
	info, err := dispatchWithRetry(ctx, func() (*nrpc.VmInfo, error) { return client.PauseVM(ctx, vm.ID) })
	if err != nil {
		return nil, err
	}
	s.persistObserved(ctx, vm.ID, info)
	vm.Status = cpstore.VMStatus(info.State)
	return vm, nil
}

// ResumeVM forwards ResumeVM to the owning node.
func (s *Scheduler) ResumeVM(ctx context.Context, id string) (*cpstore.VM, error) {
	vm, host, err := s.vmAndHost(ctx, id)
	if err != nil {
		return nil, err
	}
	client := s.newClient(host)
	info, err := dispatchWithRetry(ctx, func() (*nrpc.VmInfo, error) { return client.ResumeVM(ctx, vm.ID) })
	if err != nil {
		return nil, err
	}
	s.persistObserved(ctx, vm.ID, info)
	vm.Status = cpstore.VMStatus(info.State)
	return vm, nil
}

// DeleteVM forwards DeleteVM to the owning node, then removes the VM row.
// If the VM was never scheduled (host_id null) the row is removed directly.
func (s *Scheduler) DeleteVM(ctx context.Context, id string) error {
	vm, err := s.store.GetVMByIDOrName(ctx, id)
	if err != nil {
		return err
	}
	if vm.HostID != nil {
		host, err := s.store.GetHost(ctx, *vm.HostID)
		if err == nil && host.Status == cpstore.HostUp {
			client := s.newClient(host)
			if err := dispatchErrOnly(ctx, func() error { return client.DeleteVM(ctx, vm.ID) }); err != nil && !errors.Is(err, errs.ErrNotFound) {
				return err
			}
		}
	}
	return s.store.DeleteVM(ctx, vm.ID)
}

// GetVMInfo returns the node's live view of a VM when it's reachable,
// falling back to the last persisted row otherwise.
func (s *Scheduler) GetVMInfo(ctx context.Context, id string) (*cpstore.VM, error) {
	vm, host, err := s.vmAndHost(ctx, id)
	if err != nil {
		if vm != nil {
			return vm, nil
		}
		return nil, err
	}
	client := s.newClient(host)
	info, err := client.GetVmInfo(ctx, vm.ID)
	if err != nil {
		return vm, nil
	}
	s.persistObserved(ctx, vm.ID, info)
	vm.Status = cpstore.VMStatus(info.State)
	return vm, nil
}

// ListVMs returns every persisted VM row, optionally scoped to one host.
func (s *Scheduler) ListVMs(ctx context.Context, hostID string) ([]*cpstore.VM, error) {
	return s.store.ListVMs(ctx, hostID)
}

// AddNetworkDevice forwards AddNetworkDevice to the owning node.
func (s *Scheduler) AddNetworkDevice(ctx context.Context, id string, cfg hypervisor.NetConfig) error {
	_, host, err := s.vmAndHost(ctx, id)
	if err != nil {
		return err
	}
	client := s.newClient(host)
	wire := nrpc.NetConfig{
		DeviceID: cfg.DeviceID, VhostUser: cfg.VhostUser, VhostSocket: cfg.VhostSocket,
		TAPDevice: cfg.TAPDevice, MAC: cfg.MAC, HostMAC: cfg.HostMAC, IP: cfg.IP, MTU: cfg.MTU,
		NumQueues: cfg.NumQueues, QueueSize: cfg.QueueSize,
		OffloadTSO: cfg.OffloadTSO, OffloadUFO: cfg.OffloadUFO, OffloadCSUM: cfg.OffloadCSUM,
	}
	return dispatchErrOnly(ctx, func() error { return client.AddNetworkDevice(ctx, id, wire) })
}

// RemoveNetworkDevice forwards RemoveNetworkDevice to the owning node.
func (s *Scheduler) RemoveNetworkDevice(ctx context.Context, id, deviceID string) error {
	_, host, err := s.vmAndHost(ctx, id)
	if err != nil {
		return err
	}
	client := s.newClient(host)
	return dispatchErrOnly(ctx, func() error { return client.RemoveNetworkDevice(ctx, id, deviceID) })
}

// AddDiskDevice forwards AddDiskDevice to the owning node.
func (s *Scheduler) AddDiskDevice(ctx context.Context, id string, cfg hypervisor.DiskConfig) error {
	_, host, err := s.vmAndHost(ctx, id)
	if err != nil {
		return err
	}
	client := s.newClient(host)
	wire := nrpc.DiskConfig{
		DeviceID: cfg.DeviceID, Path: cfg.Path, VhostUser: cfg.VhostUser, VhostSocket: cfg.VhostSocket,
		ReadOnly: cfg.ReadOnly, NumQueues: cfg.NumQueues, QueueSize: cfg.QueueSize, PCISegment: cfg.PCISegment,
	}
	return dispatchErrOnly(ctx, func() error { return client.AddDiskDevice(ctx, id, wire) })
}

// RemoveDiskDevice forwards RemoveDiskDevice to the owning node.
func (s *Scheduler) RemoveDiskDevice(ctx context.Context, id, diskID string) error {
	_, host, err := s.vmAndHost(ctx, id)
	if err != nil {
		return err
	}
	client := s.newClient(host)
	return dispatchErrOnly(ctx, func() error { return client.RemoveDiskDevice(ctx, id, diskID) })
}
