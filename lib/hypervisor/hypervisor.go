// Package hypervisor provides an abstraction layer for virtual machine
// managers (the Hypervisor Adapter, HA). This allows the vmmanager package
// to work with different hypervisors (Cloud Hypervisor, QEMU) through a
// common interface.
package hypervisor

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Type identifies the hypervisor implementation.
type Type string

const (
	// TypeCloudHypervisor is the Cloud Hypervisor VMM.
	TypeCloudHypervisor Type = "cloud-hypervisor"
	// TypeQEMU is the QEMU VMM.
	TypeQEMU Type = "qemu"
)

// FailureKind classifies an HA operation failure so VM-M can decide whether
// it is safe to retry.
type FailureKind string

const (
	// FailureTransport means the socket was unreachable or the request
	// timed out. Retryable when the caller classifies the op idempotent.
	FailureTransport FailureKind = "transport"
	// FailureProtocol means the VMM returned a malformed response.
	FailureProtocol FailureKind = "protocol"
	// FailureState means the VMM returned 4xx with a state reason.
	FailureState FailureKind = "state"
	// FailureServer means the VMM returned 5xx.
	FailureServer FailureKind = "server"
)

// Error wraps an HA operation failure with its classification.
type Error struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hypervisor: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the operation may be safely retried. Per spec
// §4.1, only transport failures are retryable, and only for operations the
// caller itself classifies as idempotent (info, shutdown).
func (e *Error) Retryable() bool {
	return e.Kind == FailureTransport
}

// VMStarter handles the full VM creation sequence for a hypervisor flavor.
type VMStarter interface {
	// SocketName returns the socket filename this hypervisor expects,
	// kept short to stay within SUN_LEN (~108 bytes).
	SocketName() string

	// StartVM launches the hypervisor process bound to socketPath and
	// returns its process handle plus a Hypervisor client for subsequent
	// operations. The caller owns the returned cmd: it must arrange for
	// the child to be reaped and signalled on teardown. The VM is left in
	// StateCreated; a separate Boot call transitions it to StateRunning
	// (matching the VMM's create/boot split).
	StartVM(ctx context.Context, binaryPath, socketPath, consoleLogPath string) (cmd *exec.Cmd, hv Hypervisor, err error)
}

// Hypervisor defines the interface for VM control operations (the HA
// surface). A Hypervisor client is returned by
// VMStarter.StartVM once the VMM process is running.
type Hypervisor interface {
	// Create configures the VM inside the running VMM process.
	// Guard: VMM reachable, no VM configured yet. Post: observed=created.
	Create(ctx context.Context, cfg VMConfig) error

	// Boot starts guest execution.
	// Guard: observed ∈ {created, shutdown}. Post: observed=running.
	Boot(ctx context.Context) error

	// Shutdown stops guest execution, leaving the VMM process alive.
	// Guard: observed ∈ {running, paused}. Post: observed=shutdown.
	Shutdown(ctx context.Context) error

	// Pause suspends VM execution. Guard: observed=running.
	Pause(ctx context.Context) error

	// Resume continues VM execution after pause. Guard: observed=paused.
	Resume(ctx context.Context) error

	// Info returns a config+state snapshot. Valid in any state.
	Info(ctx context.Context) (*VMInfo, error)

	// AddNet hot-attaches a network device. Guard: observed=running.
	AddNet(ctx context.Context, cfg NetConfig) error

	// AddDisk hot-attaches a disk device. Guard: observed=running.
	AddDisk(ctx context.Context, cfg DiskConfig) error

	// RemoveDevice hot-detaches a device by id. Guard: observed=running.
	RemoveDevice(ctx context.Context, deviceID string) error

	// Capabilities returns what optional features this hypervisor supports.
	Capabilities() Capabilities
}

// Capabilities indicates which optional features a hypervisor supports.
type Capabilities struct {
	SupportsPause     bool
	SupportsHotplug   bool
	SupportsVhostUser bool
}

// VMState represents the VM's observed execution state (the "observed
// status", restricted to the subset HA itself can report; VM-M additionally
// tracks "unknown" and "pending" above this layer).
type VMState string

const (
	StateCreated  VMState = "created"
	StateRunning  VMState = "running"
	StatePaused   VMState = "paused"
	StateShutdown VMState = "shutdown"
)

// ValidTransitions enumerates the HA-level state machine implied by the
// operation guard table.
var ValidTransitions = map[VMState][]VMState{
	StateCreated:  {StateRunning},
	StateRunning:  {StatePaused, StateShutdown},
	StatePaused:   {StateRunning, StateShutdown},
	StateShutdown: {StateRunning},
}

// CanTransitionTo reports whether a transition from `from` to `to` is legal.
func CanTransitionTo(from, to VMState) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// VMInfo contains the current VM state snapshot returned by HA.info.
type VMInfo struct {
	State            VMState
	MemoryActualSize *int64
	Devices          []DeviceInfo
}

// DeviceInfo describes one hot-attached device as reported by the VMM.
type DeviceInfo struct {
	ID   string
	Kind string // "net" or "disk"
}

// RequestTimeout returns the default per-request timeout for an HA
// operation: 10s by default, extended to 30s for create and boot.
func RequestTimeout(op string) time.Duration {
	switch op {
	case "create", "boot":
		return 30 * time.Second
	default:
		return 10 * time.Second
	}
}
