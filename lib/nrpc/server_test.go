package nrpc

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/vmmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeManager is a minimal vmmanager.Manager stub for exercising NRPC's HTTP
// surface without a real VM-M.
type fakeManager struct {
	vmmanager.Manager
	createErr error
	snap      *vmmanager.VMSnapshot
}

func (f *fakeManager) Create(ctx context.Context, id string, cfg hypervisor.VMConfig) (*vmmanager.VMSnapshot, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &vmmanager.VMSnapshot{ID: id, State: "created"}, nil
}

func (f *fakeManager) Info(ctx context.Context, id string) (*vmmanager.VMSnapshot, error) {
	if f.snap == nil {
		return nil, errs.Wrap(errs.ErrNotFound, "vm "+id+" not found", nil)
	}
	return f.snap, nil
}

func (f *fakeManager) List(ctx context.Context) []vmmanager.VMSnapshot {
	if f.snap == nil {
		return nil
	}
	return []vmmanager.VMSnapshot{*f.snap}
}

func newTestServer(mgr vmmanager.Manager) *httptest.Server {
	r := chi.NewRouter()
	NewServer(mgr).Routes(r)
	return httptest.NewServer(r)
}

func validCreateBody() VmConfig {
	return VmConfig{
		BootVCPUs:  1,
		MaxVCPUs:   1,
		MemorySize: 268435456,
		KernelPath: "/boot/vmlinux",
	}
}

func TestCreateVM_Success(t *testing.T) {
	mgr := &fakeManager{}
	srv := newTestServer(mgr)
	defer srv.Close()

	client := NewClient(srv.URL, 0)
	info, err := client.CreateVM(context.Background(), "vm-1", validCreateBody())
	require.NoError(t, err)
	assert.Equal(t, "vm-1", info.ID)
	assert.Equal(t, "created", info.State)
}

func TestCreateVM_InvalidConfigTranslatesToBadRequest(t *testing.T) {
	mgr := &fakeManager{}
	srv := newTestServer(mgr)
	defer srv.Close()

	client := NewClient(srv.URL, 0)
	cfg := validCreateBody()
	cfg.BootVCPUs = 4
	cfg.MaxVCPUs = 1 // boot_vcpus > max_vcpus: CT must reject

	_, err := client.CreateVM(context.Background(), "vm-1", cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestGetVmInfo_NotFound(t *testing.T) {
	mgr := &fakeManager{}
	srv := newTestServer(mgr)
	defer srv.Close()

	client := NewClient(srv.URL, 0)
	_, err := client.GetVmInfo(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListVms(t *testing.T) {
	mgr := &fakeManager{snap: &vmmanager.VMSnapshot{ID: "vm-1", State: "running"}}
	srv := newTestServer(mgr)
	defer srv.Close()

	client := NewClient(srv.URL, 0)
	ids, err := client.ListVms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"vm-1"}, ids)
}
