package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qarax/qarax/lib/cpstore"
)

func TestCreateHost_DefaultsToDown(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/hosts", map[string]any{
		"address": "10.0.0.5", "credentials_ref": "/etc/qarax/creds/node5.json",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	h := decode[Host](t, rec)
	assert.Equal(t, "down", h.Status)
	assert.Equal(t, 50051, h.RPCPort)
	assert.NotEmpty(t, h.ID)
}

func TestCreateHost_MissingAddress(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/hosts", map[string]any{})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid-config", env.errCode(t, rec))
}

func TestDeployHost_HappyPath(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/hosts", map[string]any{"address": "10.0.0.5", "id": "h1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/hosts/h1/deploy", map[string]any{
		"image_ref": "quay.io/qarax/appliance:v3", "reboot": true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := decode[Job](t, rec)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, "host_deploy", job.Type)

	require.Eventually(t, func() bool {
		j, err := env.store.GetJob(context.Background(), job.ID)
		return err == nil && j.Status == cpstore.JobSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	h, err := env.store.GetHost(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, cpstore.HostUp, h.Status)
}

func TestDeployHost_FailureRecordsError(t *testing.T) {
	env := newTestEnv(t)
	env.deployer.fail = true

	env.do(t, http.MethodPost, "/hosts", map[string]any{"address": "10.0.0.5", "id": "h1"})
	rec := env.do(t, http.MethodPost, "/hosts/h1/deploy", map[string]any{"image_ref": "quay.io/qarax/appliance:v3"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	job := decode[Job](t, rec)

	require.Eventually(t, func() bool {
		j, err := env.store.GetJob(context.Background(), job.ID)
		return err == nil && j.Status == cpstore.JobFailed
	}, 5*time.Second, 10*time.Millisecond)

	h, err := env.store.GetHost(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, cpstore.HostInstallationFailed, h.Status)
	assert.NotEmpty(t, h.StatusError)
}

func TestDeployHost_RejectedWhileUp(t *testing.T) {
	env := newTestEnv(t)
	env.addUpHost(t, "h1")

	rec := env.do(t, http.MethodPost, "/hosts/h1/deploy", map[string]any{"image_ref": "quay.io/qarax/appliance:v3"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "state", env.errCode(t, rec))
}

func TestPatchHost_StatusOverride(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/hosts", map[string]any{"address": "10.0.0.5", "id": "h1"})

	rec := env.do(t, http.MethodPatch, "/hosts/h1", map[string]any{"status": "up"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "up", decode[Host](t, rec).Status)

	rec = env.do(t, http.MethodPatch, "/hosts/h1", map[string]any{"status": "sideways"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDeleteHost_WithVMsConflictsUnlessForced(t *testing.T) {
	env := newTestEnv(t)
	env.addUpHost(t, "h1")

	rec := env.do(t, http.MethodPost, "/vms", map[string]any{
		"name": "v1", "boot_vcpus": 1, "max_vcpus": 1, "memory_size": 268435456,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	vm := decode[Vm](t, rec)

	rec = env.do(t, http.MethodDelete, "/hosts/h1", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodDelete, "/hosts/h1?force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	abandoned, err := env.store.GetVM(context.Background(), vm.ID)
	require.NoError(t, err)
	assert.Nil(t, abandoned.HostID)
	assert.Equal(t, cpstore.VMUnknown, abandoned.Status)
}
