package vmmanager

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"

	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/paths"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHypervisor is an in-memory hypervisor.Hypervisor driven by a state
// machine matching hypervisor.ValidTransitions, for exercising VM-M without
// a real VMM process.
type fakeHypervisor struct {
	mu     sync.Mutex
	state  hypervisor.VMState
	failOp string // if set, the named op returns a FailureState error
}

func newFakeHypervisor() *fakeHypervisor {
	return &fakeHypervisor{state: hypervisor.StateCreated}
}

func (f *fakeHypervisor) transition(op string, to hypervisor.VMState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOp == op {
		return &hypervisor.Error{Kind: hypervisor.FailureState, Op: op, Err: errors.New("forced failure")}
	}
	if !hypervisor.CanTransitionTo(f.state, to) {
		return &hypervisor.Error{Kind: hypervisor.FailureState, Op: op, Err: errors.New("invalid transition")}
	}
	f.state = to
	return nil
}

func (f *fakeHypervisor) Create(ctx context.Context, cfg hypervisor.VMConfig) error { return nil }

func (f *fakeHypervisor) Boot(ctx context.Context) error {
	return f.transition("boot", hypervisor.StateRunning)
}

func (f *fakeHypervisor) Shutdown(ctx context.Context) error {
	return f.transition("shutdown", hypervisor.StateShutdown)
}

func (f *fakeHypervisor) Pause(ctx context.Context) error {
	return f.transition("pause", hypervisor.StatePaused)
}

func (f *fakeHypervisor) Resume(ctx context.Context) error {
	return f.transition("resume", hypervisor.StateRunning)
}

func (f *fakeHypervisor) Info(ctx context.Context) (*hypervisor.VMInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &hypervisor.VMInfo{State: f.state}, nil
}

func (f *fakeHypervisor) AddNet(ctx context.Context, cfg hypervisor.NetConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != hypervisor.StateRunning {
		return &hypervisor.Error{Kind: hypervisor.FailureState, Op: "add-net", Err: errors.New("not running")}
	}
	return nil
}

func (f *fakeHypervisor) AddDisk(ctx context.Context, cfg hypervisor.DiskConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != hypervisor.StateRunning {
		return &hypervisor.Error{Kind: hypervisor.FailureState, Op: "add-disk", Err: errors.New("not running")}
	}
	return nil
}

func (f *fakeHypervisor) RemoveDevice(ctx context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != hypervisor.StateRunning {
		return &hypervisor.Error{Kind: hypervisor.FailureState, Op: "remove-device", Err: errors.New("not running")}
	}
	return nil
}

func (f *fakeHypervisor) Capabilities() hypervisor.Capabilities {
	return hypervisor.Capabilities{SupportsPause: true, SupportsHotplug: true, SupportsVhostUser: true}
}

// fakeStarter returns a fixed fakeHypervisor without spawning any process;
// the nil cmd exercises the no-child paths (PID 0, no exit watcher).
type fakeStarter struct {
	hv      *fakeHypervisor
	failErr error
}

func (s *fakeStarter) SocketName() string { return "fake.sock" }

func (s *fakeStarter) StartVM(ctx context.Context, binaryPath, socketPath, consoleLogPath string) (*exec.Cmd, hypervisor.Hypervisor, error) {
	if s.failErr != nil {
		return nil, nil, s.failErr
	}
	return nil, s.hv, nil
}

func newTestManager(t *testing.T, starter Starter) *manager {
	t.Helper()
	p := paths.New(t.TempDir())
	m := New(p, starter, "/usr/bin/fake-vmm", nil)
	return m.(*manager)
}

func TestCreate_RegistersAndReturnsSnapshot(t *testing.T) {
	hv := newFakeHypervisor()
	m := newTestManager(t, &fakeStarter{hv: hv})

	snap, err := m.Create(context.Background(), "vm-1", hypervisor.VMConfig{})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "vm-1", snap.ID)

	assert.NotNil(t, m.getOrNil("vm-1"))
}

func TestCreate_RejectsDuplicateID(t *testing.T) {
	hv := newFakeHypervisor()
	m := newTestManager(t, &fakeStarter{hv: hv})

	_, err := m.Create(context.Background(), "vm-1", hypervisor.VMConfig{})
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "vm-1", hypervisor.VMConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestCreate_SpawnFailureReturnsErrSpawn(t *testing.T) {
	m := newTestManager(t, &fakeStarter{failErr: errors.New("exec: no such file")})

	_, err := m.Create(context.Background(), "vm-1", hypervisor.VMConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrSpawn)
	assert.Nil(t, m.getOrNil("vm-1"))
}

// TestStateTransitions walks a VM through the full HA-level state machine
// (created -> running -> paused -> running -> shutdown) and checks VM-M
// reports the observed state it expects after each operation.
func TestStateTransitions(t *testing.T) {
	hv := newFakeHypervisor()
	m := newTestManager(t, &fakeStarter{hv: hv})

	ctx := context.Background()
	_, err := m.Create(ctx, "vm-1", hypervisor.VMConfig{})
	require.NoError(t, err)

	snap, err := m.Start(ctx, "vm-1")
	require.NoError(t, err)
	require.Equal(t, "running", string(snap.State))

	snap, err = m.Pause(ctx, "vm-1")
	require.NoError(t, err)
	require.Equal(t, "paused", string(snap.State))

	snap, err = m.Resume(ctx, "vm-1")
	require.NoError(t, err)
	require.Equal(t, "running", string(snap.State))

	snap, err = m.Stop(ctx, "vm-1")
	require.NoError(t, err)
	require.Equal(t, "shutdown", string(snap.State))
}

func TestStart_StateFailureTranslatesToErrState(t *testing.T) {
	hv := newFakeHypervisor()
	hv.failOp = "boot"
	m := newTestManager(t, &fakeStarter{hv: hv})

	ctx := context.Background()
	_, err := m.Create(ctx, "vm-1", hypervisor.VMConfig{})
	require.NoError(t, err)

	_, err = m.Start(ctx, "vm-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrState)
}

func TestOperations_NotFoundForUnknownID(t *testing.T) {
	m := newTestManager(t, &fakeStarter{hv: newFakeHypervisor()})
	ctx := context.Background()

	_, err := m.Start(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = m.Stop(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = m.Pause(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = m.Resume(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = m.Info(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	err = m.AddNet(ctx, "missing", hypervisor.NetConfig{})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	err = m.AddDisk(ctx, "missing", hypervisor.DiskConfig{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDelete_IdempotentOnUnknownID(t *testing.T) {
	m := newTestManager(t, &fakeStarter{hv: newFakeHypervisor()})
	err := m.Delete(context.Background(), "missing")
	assert.NoError(t, err)
}

func TestDelete_RemovesFromRegistry(t *testing.T) {
	hv := newFakeHypervisor()
	m := newTestManager(t, &fakeStarter{hv: hv})

	ctx := context.Background()
	_, err := m.Create(ctx, "vm-1", hypervisor.VMConfig{})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "vm-1"))
	assert.Nil(t, m.getOrNil("vm-1"))
}

func TestAddNet_RequiresRunningState(t *testing.T) {
	hv := newFakeHypervisor()
	m := newTestManager(t, &fakeStarter{hv: hv})

	ctx := context.Background()
	_, err := m.Create(ctx, "vm-1", hypervisor.VMConfig{})
	require.NoError(t, err)

	// Still in created state, not running: add-net must fail.
	err = m.AddNet(ctx, "vm-1", hypervisor.NetConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrState)

	_, err = m.Start(ctx, "vm-1")
	require.NoError(t, err)

	err = m.AddNet(ctx, "vm-1", hypervisor.NetConfig{})
	assert.NoError(t, err)
}

func TestList_ReturnsAllRegisteredVMs(t *testing.T) {
	m := newTestManager(t, &fakeStarter{hv: newFakeHypervisor()})
	ctx := context.Background()

	_, err := m.Create(ctx, "vm-1", hypervisor.VMConfig{})
	require.NoError(t, err)
	_, err = m.Create(ctx, "vm-2", hypervisor.VMConfig{})
	require.NoError(t, err)

	snaps := m.List(ctx)
	assert.Len(t, snaps, 2)
}
