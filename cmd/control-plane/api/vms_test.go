package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateVm_NoEligibleHost(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/vms", map[string]any{
		"name": "v1", "hypervisor": "cloud_hv",
		"boot_vcpus": 1, "max_vcpus": 1, "memory_size": 268435456,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no-eligible-host", env.errCode(t, rec))

	list := env.do(t, http.MethodGet, "/vms", nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Empty(t, decode[[]Vm](t, list))
}

func TestCreateVm_InvalidHotplugSize(t *testing.T) {
	env := newTestEnv(t)
	env.addUpHost(t, "host-1")

	rec := env.do(t, http.MethodPost, "/vms", map[string]any{
		"name": "v1", "boot_vcpus": 1, "max_vcpus": 1,
		"memory_size": 268435456, "memory_hotplug_size": 1,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid-config", env.errCode(t, rec))

	list := env.do(t, http.MethodGet, "/vms", nil)
	assert.Empty(t, decode[[]Vm](t, list))
}

func TestCreateVm_VhostUserNICForcesSharedMemory(t *testing.T) {
	env := newTestEnv(t)
	env.addUpHost(t, "host-1")

	body := map[string]any{
		"name": "v1", "boot_vcpus": 1, "max_vcpus": 1, "memory_size": 268435456,
		"memory_shared": false,
		"networks": []map[string]any{
			{"device_id": "net0", "vhost_user": true, "vhost_socket": "/run/x.sock"},
		},
	}
	rec := env.do(t, http.MethodPost, "/vms", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid-config", env.errCode(t, rec))

	body["memory_shared"] = true
	body["name"] = "v2"
	rec = env.do(t, http.MethodPost, "/vms", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	vm := decode[Vm](t, rec)
	assert.Equal(t, "created", vm.Status)
	assert.True(t, vm.MemoryShared)
}

func TestCreateVm_MemorySizeAsString(t *testing.T) {
	env := newTestEnv(t)
	env.addUpHost(t, "host-1")

	rec := env.do(t, http.MethodPost, "/vms", map[string]any{
		"name": "v1", "boot_vcpus": 1, "max_vcpus": 1, "memory_size": "256MB",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	vm := decode[Vm](t, rec)
	assert.Equal(t, int64(256<<20), vm.MemorySize)
}

func TestCreateVm_RejectsBadImageReference(t *testing.T) {
	env := newTestEnv(t)
	env.addUpHost(t, "host-1")

	rec := env.do(t, http.MethodPost, "/vms", map[string]any{
		"name": "v1", "boot_vcpus": 1, "max_vcpus": 1, "memory_size": 268435456,
		"image": "registry.example.com/UPPER CASE/bad ref!!",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid-config", env.errCode(t, rec))
}

func TestVmLifecycle_CreateStartStopDelete(t *testing.T) {
	env := newTestEnv(t)
	env.addUpHost(t, "host-1")

	rec := env.do(t, http.MethodPost, "/vms", map[string]any{
		"name": "v1", "hypervisor": "cloud_hv",
		"boot_vcpus": 1, "max_vcpus": 1, "memory_size": 268435456,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	vm := decode[Vm](t, rec)
	require.NotEmpty(t, vm.ID)
	assert.Equal(t, "created", vm.Status)
	require.NotNil(t, vm.HostID)
	assert.Equal(t, "host-1", *vm.HostID)

	rec = env.do(t, http.MethodPost, "/vms/"+vm.ID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decode[Vm](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/vms/"+vm.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "shutdown", decode[Vm](t, rec).Status)

	rec = env.do(t, http.MethodDelete, "/vms/"+vm.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := env.do(t, http.MethodGet, "/vms", nil)
	assert.Empty(t, decode[[]Vm](t, list))
}

func TestVmLifecycle_PauseResume(t *testing.T) {
	env := newTestEnv(t)
	env.addUpHost(t, "host-1")

	rec := env.do(t, http.MethodPost, "/vms", map[string]any{
		"name": "v1", "boot_vcpus": 1, "max_vcpus": 1, "memory_size": 268435456,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	vm := decode[Vm](t, rec)

	env.do(t, http.MethodPost, "/vms/"+vm.ID+"/start", nil)

	rec = env.do(t, http.MethodPost, "/vms/"+vm.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paused", decode[Vm](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/vms/"+vm.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decode[Vm](t, rec).Status)
}

func TestVmLifecycle_IllegalTransition(t *testing.T) {
	env := newTestEnv(t)
	env.addUpHost(t, "host-1")

	rec := env.do(t, http.MethodPost, "/vms", map[string]any{
		"name": "v1", "boot_vcpus": 1, "max_vcpus": 1, "memory_size": 268435456,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	vm := decode[Vm](t, rec)

	// Pause while still created, never booted.
	rec = env.do(t, http.MethodPost, "/vms/"+vm.ID+"/pause", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "state", env.errCode(t, rec))

	// Observed state unchanged.
	rec = env.do(t, http.MethodGet, "/vms/"+vm.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "created", decode[Vm](t, rec).Status)
}

func TestVmLifecycle_StopOnShutdownReturnsState(t *testing.T) {
	env := newTestEnv(t)
	env.addUpHost(t, "host-1")

	rec := env.do(t, http.MethodPost, "/vms", map[string]any{
		"name": "v1", "boot_vcpus": 1, "max_vcpus": 1, "memory_size": 268435456,
	})
	vm := decode[Vm](t, rec)
	env.do(t, http.MethodPost, "/vms/"+vm.ID+"/start", nil)
	env.do(t, http.MethodPost, "/vms/"+vm.ID+"/stop", nil)

	rec = env.do(t, http.MethodPost, "/vms/"+vm.ID+"/stop", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "state", env.errCode(t, rec))
}

func TestGetVm_ByNameAndPrefix(t *testing.T) {
	env := newTestEnv(t)
	env.addUpHost(t, "host-1")

	rec := env.do(t, http.MethodPost, "/vms", map[string]any{
		"name": "web-server", "boot_vcpus": 1, "max_vcpus": 1, "memory_size": 268435456,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	vm := decode[Vm](t, rec)

	byName := env.do(t, http.MethodGet, "/vms/web-server", nil)
	require.Equal(t, http.StatusOK, byName.Code)
	assert.Equal(t, vm.ID, decode[Vm](t, byName).ID)

	byPrefix := env.do(t, http.MethodGet, "/vms/"+vm.ID[:8], nil)
	require.Equal(t, http.StatusOK, byPrefix.Code)
	assert.Equal(t, vm.ID, decode[Vm](t, byPrefix).ID)
}

func TestCreateVm_DuplicateNameConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.addUpHost(t, "host-1")

	body := map[string]any{"name": "v1", "boot_vcpus": 1, "max_vcpus": 1, "memory_size": 268435456}
	rec := env.do(t, http.MethodPost, "/vms", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/vms", body)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateVm_UnknownBootSource(t *testing.T) {
	env := newTestEnv(t)
	env.addUpHost(t, "host-1")

	rec := env.do(t, http.MethodPost, "/vms", map[string]any{
		"name": "v1", "boot_vcpus": 1, "max_vcpus": 1, "memory_size": 268435456,
		"boot_source_id": "no-such-source",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "referential-integrity", env.errCode(t, rec))
}
