package scheduler

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qarax/qarax/lib/cpstore"
	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/logger"
	"github.com/qarax/qarax/lib/nrpc"
	"github.com/qarax/qarax/lib/vmconfig"
	"github.com/qarax/qarax/lib/vmmanager"
)

func newTestStore(t *testing.T) *cpstore.Store {
	t.Helper()
	s, err := cpstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newFakeNode starts a real httptest.Server in front of an nrpc.Server
// backed by a minimal in-memory manager, and returns the factory that
// targets it regardless of the host row's address.
func newFakeNode(t *testing.T, mgr vmmanager.Manager) (*httptest.Server, ClientFactory) {
	t.Helper()
	r := chi.NewRouter()
	nrpc.NewServer(mgr).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	factory := func(host *cpstore.Host) *nrpc.Client {
		return nrpc.NewClient(srv.URL, 5*time.Second)
	}
	return srv, factory
}

func TestCreateVM_NoEligibleHost(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sched := New(store, func(h *cpstore.Host) *nrpc.Client { return nil }, logger.NewConfig())

	in := vmconfig.Input{BootVCPUs: 1, MaxVCPUs: 1, MemoryBytes: 1 << 20, KernelPath: "/boot/vmlinux"}
	_, err := sched.CreateVM(ctx, in, "vm-1", hypervisor.TypeCloudHypervisor, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNoEligibleHost))
}

func TestCreateVM_RejectsUnknownBootSource(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateHost(ctx, &cpstore.Host{ID: "host-1", Address: "127.0.0.1", RPCPort: 1, Status: cpstore.HostUp}))
	sched := New(store, func(h *cpstore.Host) *nrpc.Client { return nil }, logger.NewConfig())

	missing := "no-such-boot-source"
	in := vmconfig.Input{BootVCPUs: 1, MaxVCPUs: 1, MemoryBytes: 1 << 20, KernelPath: "/boot/vmlinux"}
	_, err := sched.CreateVM(ctx, in, "vm-1", hypervisor.TypeCloudHypervisor, &missing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrReferentialIntegrity))
}

func TestResolveLiveHost_RejectsUnscheduledVM(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sched := New(store, func(h *cpstore.Host) *nrpc.Client { return nil }, logger.NewConfig())

	_, _, err := sched.vmAndHost(ctx, "does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	// A VM row with no assigned host (host_id null) is rejected as unreachable.
	require.NoError(t, store.CreateVM(ctx, &cpstore.VM{ID: "vm-1", Name: "vm-1", BootVCPUs: 1, MaxVCPUs: 1, MemoryBytes: 1 << 20}))
	_, _, err = sched.vmAndHost(ctx, "vm-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrHostUnreachable))
}

func TestResolveLiveHost_RejectsHostNotUp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateHost(ctx, &cpstore.Host{ID: "host-1", Address: "127.0.0.1", RPCPort: 1, Status: cpstore.HostDown}))
	hostID := "host-1"
	require.NoError(t, store.CreateVM(ctx, &cpstore.VM{ID: "vm-1", Name: "vm-1", HostID: &hostID, BootVCPUs: 1, MaxVCPUs: 1, MemoryBytes: 1 << 20}))

	sched := New(store, func(h *cpstore.Host) *nrpc.Client { return nil }, logger.NewConfig())
	_, _, err := sched.vmAndHost(ctx, "vm-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrHostUnreachable))
}

func TestStartVM_DeletedOnNodeSurfacesNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, factory := newFakeNode(t, emptyManager{})
	require.NoError(t, store.CreateHost(ctx, &cpstore.Host{ID: "host-1", Address: "127.0.0.1", RPCPort: 1, Status: cpstore.HostUp}))
	hostID := "host-1"
	require.NoError(t, store.CreateVM(ctx, &cpstore.VM{ID: "vm-1", Name: "vm-1", HostID: &hostID, BootVCPUs: 1, MaxVCPUs: 1, MemoryBytes: 1 << 20}))

	sched := New(store, factory, logger.NewConfig())
	_, err := sched.StartVM(ctx, "vm-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

// emptyManager implements vmmanager.Manager returning not-found for
// everything, simulating a node that has no record of the VM.
type emptyManager struct{ vmmanager.Manager }

func (emptyManager) Start(ctx context.Context, id string) (*vmmanager.VMSnapshot, error) {
	return nil, errs.Wrap(errs.ErrNotFound, "vm "+id+" not found", nil)
}

func (emptyManager) List(ctx context.Context) []vmmanager.VMSnapshot { return nil }
