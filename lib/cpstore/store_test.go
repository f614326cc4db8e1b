package cpstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestListEligibleHosts_OrdersByVMCountThenID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateHost(ctx, &Host{ID: "host-b", Address: "10.0.0.2", RPCPort: 50051, Status: HostUp}))
	require.NoError(t, s.CreateHost(ctx, &Host{ID: "host-a", Address: "10.0.0.1", RPCPort: 50051, Status: HostUp}))
	require.NoError(t, s.CreateHost(ctx, &Host{ID: "host-c", Address: "10.0.0.3", RPCPort: 50051, Status: HostDown}))

	hostB := "host-b"
	require.NoError(t, s.CreateVM(ctx, &VM{ID: "vm-1", Name: "vm-1", HostID: &hostB, Hypervisor: hypervisor.Type("cloud-hypervisor"), BootVCPUs: 1, MaxVCPUs: 1, MemoryBytes: 1 << 20}))

	hosts, err := s.ListEligibleHosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	// host-a has 0 VMs, host-b has 1: host-a sorts first despite the later ID.
	assert.Equal(t, "host-a", hosts[0].ID)
	assert.Equal(t, "host-b", hosts[1].ID)
}

func TestCreateHost_DuplicateIDIsStoreConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateHost(ctx, &Host{ID: "host-1", Address: "10.0.0.1", RPCPort: 50051}))
	err := s.CreateHost(ctx, &Host{ID: "host-1", Address: "10.0.0.9", RPCPort: 50051})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrStoreConflict))
}

func TestCreateVM_UnknownHostIsReferentialIntegrity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	missing := "does-not-exist"
	err := s.CreateVM(ctx, &VM{ID: "vm-1", Name: "vm-1", HostID: &missing, Hypervisor: hypervisor.Type("cloud-hypervisor"), BootVCPUs: 1, MaxVCPUs: 1, MemoryBytes: 1 << 20})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrReferentialIntegrity))
}

func TestGetVMByIDOrName_ResolvesExactIDThenNameThenPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateVM(ctx, &VM{ID: "abcdef12-0000", Name: "my-vm", Hypervisor: hypervisor.Type("cloud-hypervisor"), BootVCPUs: 1, MaxVCPUs: 1, MemoryBytes: 1 << 20}))

	byID, err := s.GetVMByIDOrName(ctx, "abcdef12-0000")
	require.NoError(t, err)
	assert.Equal(t, "my-vm", byID.Name)

	byName, err := s.GetVMByIDOrName(ctx, "my-vm")
	require.NoError(t, err)
	assert.Equal(t, "abcdef12-0000", byName.ID)

	byPrefix, err := s.GetVMByIDOrName(ctx, "abcdef12")
	require.NoError(t, err)
	assert.Equal(t, "my-vm", byPrefix.Name)
}

func TestGetVMByIDOrName_AmbiguousPrefixIsStoreConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateVM(ctx, &VM{ID: "abc111", Name: "vm-one", Hypervisor: hypervisor.Type("cloud-hypervisor"), BootVCPUs: 1, MaxVCPUs: 1, MemoryBytes: 1 << 20}))
	require.NoError(t, s.CreateVM(ctx, &VM{ID: "abc222", Name: "vm-two", Hypervisor: hypervisor.Type("cloud-hypervisor"), BootVCPUs: 1, MaxVCPUs: 1, MemoryBytes: 1 << 20}))

	_, err := s.GetVMByIDOrName(ctx, "abc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrStoreConflict))
}

func TestGetVMByIDOrName_UnknownIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetVMByIDOrName(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestAbandonVMsForHost_NullsHostAndMarksUnknown(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateHost(ctx, &Host{ID: "host-1", Address: "10.0.0.1", RPCPort: 50051, Status: HostUp}))
	hostID := "host-1"
	require.NoError(t, s.CreateVM(ctx, &VM{ID: "vm-1", Name: "vm-1", HostID: &hostID, Hypervisor: hypervisor.Type("cloud-hypervisor"), BootVCPUs: 1, MaxVCPUs: 1, MemoryBytes: 1 << 20, Status: VMRunning}))

	require.NoError(t, s.AbandonVMsForHost(ctx, "host-1"))

	vm, err := s.GetVM(ctx, "vm-1")
	require.NoError(t, err)
	assert.Nil(t, vm.HostID)
	assert.Equal(t, VMUnknown, vm.Status)
}

func TestStorageObject_CapacityInvariant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	poolCap := int64(100)
	require.NoError(t, s.CreateStoragePool(ctx, &StoragePool{ID: "pool-1", Type: "local", Capacity: &poolCap}))

	err := s.CreateStorageObject(ctx, &StorageObject{ID: "obj-1", PoolID: "pool-1", Name: "disk-1", Type: "raw", SizeBytes: 60})
	require.NoError(t, err)

	err = s.CreateStorageObject(ctx, &StorageObject{ID: "obj-2", PoolID: "pool-1", Name: "disk-2", Type: "raw", SizeBytes: 60})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidConfig))

	pool, err := s.GetStoragePool(ctx, "pool-1")
	require.NoError(t, err)
	assert.EqualValues(t, 60, pool.Allocated)
}

func TestStorageObject_RejectsParentCycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateStoragePool(ctx, &StoragePool{ID: "pool-1", Type: "local"}))
	require.NoError(t, s.CreateStorageObject(ctx, &StorageObject{ID: "base", PoolID: "pool-1", Name: "base", Type: "raw", SizeBytes: 10}))

	base := "base"
	require.NoError(t, s.CreateStorageObject(ctx, &StorageObject{ID: "child", PoolID: "pool-1", Name: "child", Type: "raw", SizeBytes: 10, ParentID: &base}))

	// child -> base; a new object whose parent is child extends the chain.
	child := "child"
	err := s.CreateStorageObject(ctx, &StorageObject{ID: "cyclic", PoolID: "pool-1", Name: "cyclic", Type: "raw", SizeBytes: 10, ParentID: &child})
	require.NoError(t, err) // cyclic -> child -> base is fine, not a cycle yet.

	// An object naming itself as parent closes a cycle and is rejected.
	self := "self"
	err = s.CreateStorageObject(ctx, &StorageObject{ID: "self", PoolID: "pool-1", Name: "self", Type: "raw", SizeBytes: 10, ParentID: &self})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidConfig))

	_ = base
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateJob(ctx, &Job{ID: "job-1", Type: "image-pull"}))
	require.NoError(t, s.UpdateJobProgress(ctx, "job-1", 50))
	require.NoError(t, s.CompleteJob(ctx, "job-1", JobSucceeded, "ok", ""))

	j, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, j.Status)
	assert.Equal(t, 100, j.Progress)
}

func TestDeleteHost_StillHasUnreferencedVMsAfterAbandon(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateHost(ctx, &Host{ID: "host-1", Address: "10.0.0.1", RPCPort: 50051, Status: HostUp}))
	hostID := "host-1"
	require.NoError(t, s.CreateVM(ctx, &VM{ID: "vm-1", Name: "vm-1", HostID: &hostID, Hypervisor: hypervisor.Type("cloud-hypervisor"), BootVCPUs: 1, MaxVCPUs: 1, MemoryBytes: 1 << 20}))

	require.NoError(t, s.AbandonVMsForHost(ctx, "host-1"))
	require.NoError(t, s.DeleteHost(ctx, "host-1"))

	vm, err := s.GetVM(ctx, "vm-1")
	require.NoError(t, err)
	assert.Nil(t, vm.HostID)
}
