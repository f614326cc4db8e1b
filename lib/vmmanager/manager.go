// Package vmmanager implements the VM Manager (VM-M): the
// public operation surface NRPC calls into, holding one mutex per VM id and
// delegating to VR/HA after CT translation.
package vmmanager

import (
	"context"
	"os/exec"
	"sync"

	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/paths"
	"github.com/qarax/qarax/lib/vmm"
	"github.com/qarax/qarax/lib/vmruntime"
)

// Manager is the VM-M public surface.
type Manager interface {
	Create(ctx context.Context, id string, cfg hypervisor.VMConfig) (*VMSnapshot, error)
	Start(ctx context.Context, id string) (*VMSnapshot, error)
	Stop(ctx context.Context, id string) (*VMSnapshot, error)
	Pause(ctx context.Context, id string) (*VMSnapshot, error)
	Resume(ctx context.Context, id string) (*VMSnapshot, error)
	Info(ctx context.Context, id string) (*VMSnapshot, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) []VMSnapshot
	Adopt(id string, rt *vmruntime.Runtime)
	AddNet(ctx context.Context, id string, cfg hypervisor.NetConfig) error
	RemoveNet(ctx context.Context, id string, deviceID string) error
	AddDisk(ctx context.Context, id string, cfg hypervisor.DiskConfig) error
	RemoveDisk(ctx context.Context, id string, diskID string) error
}

// VMSnapshot is a read-only view of one VM's runtime state returned by
// VM-M's operations.
type VMSnapshot struct {
	ID       string
	State    vmruntime.ObservedState
	PID      int
	Sockets  string
	Devices  []hypervisor.DeviceInfo
}

// Starter abstracts the hypervisor-specific process spawn step so VM-M
// does not depend on any one backend (Cloud Hypervisor, QEMU). The
// returned cmd is handed to the VR, which reaps and signals the child.
type Starter interface {
	SocketName() string
	StartVM(ctx context.Context, binaryPath, socketPath, consoleLogPath string) (cmd *exec.Cmd, hv hypervisor.Hypervisor, err error)
}

// ConfigStarter is implemented by starters that need the full VM config at
// spawn time (QEMU builds its command line from it; Cloud Hypervisor takes
// the config over the API after spawn).
type ConfigStarter interface {
	StartVMWithConfig(ctx context.Context, binaryPath, socketPath, consoleLogPath string, cfg hypervisor.VMConfig) (cmd *exec.Cmd, hv hypervisor.Hypervisor, err error)
}

// StarterEntry pairs a Starter with the binary it execs.
type StarterEntry struct {
	Starter    Starter
	BinaryPath string
}

type manager struct {
	paths    *paths.Paths
	starters map[hypervisor.Type]StarterEntry
	fallback hypervisor.Type
	metrics  *vmm.Metrics

	mu       sync.RWMutex // guards registry membership only
	registry map[string]*vmruntime.Runtime
}

// New creates a VM-M with a single hypervisor Starter registered as the
// default flavor (Cloud Hypervisor).
func New(p *paths.Paths, starter Starter, binaryPath string, metrics *vmm.Metrics) Manager {
	return NewWithStarters(p, map[hypervisor.Type]StarterEntry{
		hypervisor.TypeCloudHypervisor: {Starter: starter, BinaryPath: binaryPath},
	}, hypervisor.TypeCloudHypervisor, metrics)
}

// NewWithStarters creates a VM-M with one Starter per hypervisor flavor.
// A VM config whose Flavor is empty spawns with the fallback flavor.
func NewWithStarters(p *paths.Paths, starters map[hypervisor.Type]StarterEntry, fallback hypervisor.Type, metrics *vmm.Metrics) Manager {
	return &manager{
		paths:    p,
		starters: starters,
		fallback: fallback,
		metrics:  metrics,
		registry: make(map[string]*vmruntime.Runtime),
	}
}

func (m *manager) starterFor(flavor hypervisor.Type) (StarterEntry, error) {
	if flavor == "" {
		flavor = m.fallback
	}
	entry, ok := m.starters[flavor]
	if !ok {
		return StarterEntry{}, errs.Wrap(errs.ErrInvalidConfig, "no starter registered for hypervisor flavor "+string(flavor), nil)
	}
	return entry, nil
}

// Adopt registers a Runtime recovered by vmruntime.ReconcileOrphans at
// startup, making it visible to subsequent VM-M operations as if VM-M had
// created it in this process.
func (m *manager) Adopt(id string, rt *vmruntime.Runtime) {
	m.register(id, rt)
}

func (m *manager) getOrNil(id string) *vmruntime.Runtime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry[id]
}

func (m *manager) register(id string, rt *vmruntime.Runtime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry[id] = rt
}

func (m *manager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.registry, id)
}

func (m *manager) snapshot(rt *vmruntime.Runtime) VMSnapshot {
	return VMSnapshot{
		ID:      rt.VMID,
		State:   rt.State(),
		PID:     rt.PID(),
		Sockets: rt.SocketPath,
	}
}

// List returns a registry snapshot; each entry's state comes from the
// in-memory cache, with no HA round-trip.
func (m *manager) List(ctx context.Context) []VMSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]VMSnapshot, 0, len(m.registry))
	for _, rt := range m.registry {
		out = append(out, m.snapshot(rt))
	}
	return out
}

func notFound(id string) error {
	return errs.Wrap(errs.ErrNotFound, "vm "+id+" not found", nil)
}
