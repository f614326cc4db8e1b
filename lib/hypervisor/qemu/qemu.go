// Package qemu implements hypervisor.Hypervisor and hypervisor.VMStarter
// for QEMU via QMP, a secondary backend behind the same HA interface as
// Cloud Hypervisor.
package qemu

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-qemu/qemu"
	"github.com/qarax/qarax/lib/hypervisor"
)

// QEMU implements hypervisor.Hypervisor for QEMU VMM.
type QEMU struct {
	client     *Client
	socketPath string
}

// New returns a QEMU client for the given socket path, reusing an existing
// pooled connection if one exists.
func New(socketPath string) (*QEMU, error) {
	return GetOrCreate(socketPath)
}

func newClient(socketPath string) (*QEMU, error) {
	client, err := NewClient(socketPath)
	if err != nil {
		return nil, fmt.Errorf("create qemu client: %w", err)
	}
	return &QEMU{client: client, socketPath: socketPath}, nil
}

var _ hypervisor.Hypervisor = (*QEMU)(nil)

// Capabilities returns the features supported by this QEMU backend.
func (q *QEMU) Capabilities() hypervisor.Capabilities {
	return hypervisor.Capabilities{
		SupportsPause:     true,
		SupportsHotplug:   false,
		SupportsVhostUser: false,
	}
}

// Create is a no-op for QEMU: the VM is fully configured via command-line
// arguments at process start (see process.go), so by the time a QEMU
// instance exists it is already in StateCreated.
func (q *QEMU) Create(ctx context.Context, cfg hypervisor.VMConfig) error {
	return nil
}

// Boot resumes the VM; QEMU started with -S (stopped-at-boot) sits in
// StateCreated until this is called, matching HA's create/boot split.
func (q *QEMU) Boot(ctx context.Context) error {
	return q.Continue()
}

// Shutdown sends an ACPI power button event for a graceful guest shutdown.
func (q *QEMU) Shutdown(ctx context.Context) error {
	if err := q.client.SystemPowerdown(); err != nil {
		Remove(q.socketPath)
		return &hypervisor.Error{Kind: hypervisor.FailureTransport, Op: "shutdown", Err: err}
	}
	return nil
}

// Pause suspends VM execution (QMP 'stop').
func (q *QEMU) Pause(ctx context.Context) error {
	if err := q.client.Stop(); err != nil {
		Remove(q.socketPath)
		return &hypervisor.Error{Kind: hypervisor.FailureTransport, Op: "pause", Err: err}
	}
	return nil
}

// Resume continues VM execution (QMP 'cont'). Shared by Boot and the HA
// resume operation: QEMU has no separate boot verb once -S is lifted.
func (q *QEMU) Resume(ctx context.Context) error {
	return q.Continue()
}

func (q *QEMU) Continue() error {
	if err := q.client.Continue(); err != nil {
		Remove(q.socketPath)
		return &hypervisor.Error{Kind: hypervisor.FailureTransport, Op: "resume", Err: err}
	}
	return nil
}

// Info returns current VM state via QMP 'query-status'.
func (q *QEMU) Info(ctx context.Context) (*hypervisor.VMInfo, error) {
	status, err := q.client.Status()
	if err != nil {
		Remove(q.socketPath)
		return nil, &hypervisor.Error{Kind: hypervisor.FailureTransport, Op: "info", Err: err}
	}

	var state hypervisor.VMState
	switch status {
	case qemu.StatusRunning:
		state = hypervisor.StateRunning
	case qemu.StatusPaused, qemu.StatusSuspended:
		state = hypervisor.StatePaused
	case qemu.StatusShutdown:
		state = hypervisor.StateShutdown
	case qemu.StatusPreLaunch:
		state = hypervisor.StateCreated
	default:
		state = hypervisor.StateRunning
	}

	return &hypervisor.VMInfo{State: state}, nil
}

// AddNet hot-attaches a network device via QMP 'device_add'. Only TAP NICs
// are supported by this backend (vhost-user requires a different QEMU
// front-end device that this trimmed adapter does not build).
func (q *QEMU) AddNet(ctx context.Context, cfg hypervisor.NetConfig) error {
	if cfg.VhostUser {
		return &hypervisor.Error{Kind: hypervisor.FailureState, Op: "add-net", Err: fmt.Errorf("qemu backend does not support vhost-user net")}
	}
	err := q.client.DeviceAdd("virtio-net-pci", cfg.DeviceID, map[string]any{"netdev": cfg.DeviceID})
	if err != nil {
		return &hypervisor.Error{Kind: hypervisor.FailureTransport, Op: "add-net", Err: err}
	}
	return nil
}

// AddDisk hot-attaches a disk device via QMP 'device_add'.
func (q *QEMU) AddDisk(ctx context.Context, cfg hypervisor.DiskConfig) error {
	if cfg.VhostUser {
		return &hypervisor.Error{Kind: hypervisor.FailureState, Op: "add-disk", Err: fmt.Errorf("qemu backend does not support vhost-user disks")}
	}
	err := q.client.DeviceAdd("virtio-blk-pci", cfg.DeviceID, map[string]any{"drive": cfg.DeviceID})
	if err != nil {
		return &hypervisor.Error{Kind: hypervisor.FailureTransport, Op: "add-disk", Err: err}
	}
	return nil
}

// RemoveDevice hot-detaches a device by id via QMP 'device_del'.
func (q *QEMU) RemoveDevice(ctx context.Context, deviceID string) error {
	if err := q.client.DeviceDel(deviceID); err != nil {
		return &hypervisor.Error{Kind: hypervisor.FailureTransport, Op: "remove-device", Err: err}
	}
	return nil
}
