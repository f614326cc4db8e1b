package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/qarax/qarax/cmd/control-plane/config"
	"github.com/qarax/qarax/lib/cpstore"
	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/logger"
	mw "github.com/qarax/qarax/lib/middleware"
	"github.com/qarax/qarax/lib/nrpc"
	"github.com/qarax/qarax/lib/scheduler"
	"github.com/qarax/qarax/lib/transfer"
	"github.com/qarax/qarax/lib/vmmanager"
	"github.com/qarax/qarax/lib/vmruntime"
)

// fakeNodeManager is an in-memory VM-M honoring the hypervisor guard table,
// so scheduler dispatches in tests exercise the real NRPC client/server
// round-trip without spawning a VMM.
type fakeNodeManager struct {
	mu  sync.Mutex
	vms map[string]vmruntime.ObservedState
}

func newFakeNodeManager() *fakeNodeManager {
	return &fakeNodeManager{vms: make(map[string]vmruntime.ObservedState)}
}

func (m *fakeNodeManager) snap(id string) *vmmanager.VMSnapshot {
	return &vmmanager.VMSnapshot{ID: id, State: m.vms[id]}
}

func (m *fakeNodeManager) Create(ctx context.Context, id string, cfg hypervisor.VMConfig) (*vmmanager.VMSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vms[id]; ok {
		return nil, errs.Wrap(errs.ErrAlreadyExists, "vm "+id+" already exists", nil)
	}
	m.vms[id] = vmruntime.StateCreated
	return m.snap(id), nil
}

func (m *fakeNodeManager) transition(id string, from []vmruntime.ObservedState, to vmruntime.ObservedState) (*vmmanager.VMSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.vms[id]
	if !ok {
		return nil, errs.Wrap(errs.ErrNotFound, "vm "+id+" not found", nil)
	}
	for _, f := range from {
		if state == f {
			m.vms[id] = to
			return m.snap(id), nil
		}
	}
	return nil, errs.Wrap(errs.ErrState, "vm "+id+" is "+string(state), nil)
}

func (m *fakeNodeManager) Start(ctx context.Context, id string) (*vmmanager.VMSnapshot, error) {
	return m.transition(id, []vmruntime.ObservedState{vmruntime.StateCreated, vmruntime.StateShutdown}, vmruntime.StateRunning)
}

func (m *fakeNodeManager) Stop(ctx context.Context, id string) (*vmmanager.VMSnapshot, error) {
	return m.transition(id, []vmruntime.ObservedState{vmruntime.StateRunning, vmruntime.StatePaused}, vmruntime.StateShutdown)
}

func (m *fakeNodeManager) Pause(ctx context.Context, id string) (*vmmanager.VMSnapshot, error) {
	return m.transition(id, []vmruntime.ObservedState{vmruntime.StateRunning}, vmruntime.StatePaused)
}

func (m *fakeNodeManager) Resume(ctx context.Context, id string) (*vmmanager.VMSnapshot, error) {
	return m.transition(id, []vmruntime.ObservedState{vmruntime.StatePaused}, vmruntime.StateRunning)
}

func (m *fakeNodeManager) Info(ctx context.Context, id string) (*vmmanager.VMSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vms[id]; !ok {
		return nil, errs.Wrap(errs.ErrNotFound, "vm "+id+" not found", nil)
	}
	return m.snap(id), nil
}

func (m *fakeNodeManager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vms, id)
	return nil
}

func (m *fakeNodeManager) List(ctx context.Context) []vmmanager.VMSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]vmmanager.VMSnapshot, 0, len(m.vms))
	for id := range m.vms {
		out = append(out, *m.snap(id))
	}
	return out
}

func (m *fakeNodeManager) Adopt(id string, rt *vmruntime.Runtime) {}

func (m *fakeNodeManager) AddNet(ctx context.Context, id string, cfg hypervisor.NetConfig) error {
	_, err := m.Info(ctx, id)
	return err
}

func (m *fakeNodeManager) RemoveNet(ctx context.Context, id string, deviceID string) error {
	_, err := m.Info(ctx, id)
	return err
}

func (m *fakeNodeManager) AddDisk(ctx context.Context, id string, cfg hypervisor.DiskConfig) error {
	_, err := m.Info(ctx, id)
	return err
}

func (m *fakeNodeManager) RemoveDisk(ctx context.Context, id string, diskID string) error {
	_, err := m.Info(ctx, id)
	return err
}

// fakeDeployer flips the host straight to up (or installation_failed),
// recording the installing edge the way the real provisioner does.
type fakeDeployer struct {
	store *cpstore.Store
	fail  bool
}

func (d *fakeDeployer) Deploy(ctx context.Context, hostID, imageRef string, reboot bool) error {
	if err := d.store.UpdateHostStatus(ctx, hostID, cpstore.HostInstalling, ""); err != nil {
		return err
	}
	if d.fail {
		_ = d.store.UpdateHostStatus(ctx, hostID, cpstore.HostInstallationFailed, "ssh unreachable")
		return errs.Wrap(errs.ErrTransport, "ssh unreachable", nil)
	}
	return d.store.UpdateHostStatus(ctx, hostID, cpstore.HostUp, "")
}

type testEnv struct {
	store    *cpstore.Store
	node     *fakeNodeManager
	deployer *fakeDeployer
	router   *chi.Mux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := cpstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	node := newFakeNodeManager()
	nodeRouter := chi.NewRouter()
	nrpc.NewServer(node).Routes(nodeRouter)
	nodeSrv := httptest.NewServer(nodeRouter)
	t.Cleanup(nodeSrv.Close)

	logCfg := logger.NewConfig()
	factory := func(h *cpstore.Host) *nrpc.Client { return nrpc.NewClient(nodeSrv.URL, 5*time.Second) }
	sched := scheduler.New(store, factory, logCfg)

	deployer := &fakeDeployer{store: store}
	svc := New(&config.Config{DefaultNodePort: 50051}, store, sched, deployer, transfer.NewRunner(store, logCfg))

	r := chi.NewRouter()
	r.Use(mw.ResolveResource(svc.NewResolvers(), ResolverErrorResponder))
	svc.Routes(r)
	r.Get("/jobs/{id}/watch", svc.WatchJob)

	return &testEnv{store: store, node: node, deployer: deployer, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (e *testEnv) addUpHost(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, e.store.CreateHost(context.Background(), &cpstore.Host{
		ID: id, Address: "127.0.0.1", RPCPort: 50051, Status: cpstore.HostUp,
	}))
}

func (e *testEnv) errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[Error](t, rec).Code
}

func TestByteQuantityUnmarshal(t *testing.T) {
	var q struct {
		Size ByteQuantity `json:"size"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"size": 268435456}`), &q))
	require.Equal(t, ByteQuantity(268435456), q.Size)

	require.NoError(t, json.Unmarshal([]byte(`{"size": "256MB"}`), &q))
	require.Equal(t, ByteQuantity(256*1024*1024), q.Size)

	require.Error(t, json.Unmarshal([]byte(`{"size": "lots"}`), &q))
}
