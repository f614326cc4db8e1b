package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qarax/qarax/lib/cpstore"
)

func TestCreateTransfer_LocalFileProducesStorageObject(t *testing.T) {
	env := newTestEnv(t)

	poolDir := t.TempDir()
	rec := env.do(t, http.MethodPost, "/storage-pools", map[string]any{
		"id": "pool-1", "type": "local", "config": map[string]string{"path": poolDir},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	srcPath := filepath.Join(t.TempDir(), "vmlinux")
	require.NoError(t, os.WriteFile(srcPath, []byte("kernel bits"), 0o644))

	rec = env.do(t, http.MethodPost, "/transfers", map[string]any{
		"pool_id": "pool-1", "source_uri": srcPath, "name": "vmlinux-6.1", "object_type": "kernel",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	tr := decode[Transfer](t, rec)

	require.Eventually(t, func() bool {
		got, err := env.store.GetTransfer(context.Background(), tr.ID)
		return err == nil && got.Status == cpstore.TransferSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	done, err := env.store.GetTransfer(context.Background(), tr.ID)
	require.NoError(t, err)
	require.NotNil(t, done.ObjectID)

	obj, err := env.store.GetStorageObject(context.Background(), *done.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, "kernel", obj.Type)
	assert.Equal(t, int64(len("kernel bits")), obj.SizeBytes)

	data, err := os.ReadFile(obj.Config["path"])
	require.NoError(t, err)
	assert.Equal(t, "kernel bits", string(data))

	pool, err := env.store.GetStoragePool(context.Background(), "pool-1")
	require.NoError(t, err)
	assert.Equal(t, obj.SizeBytes, pool.Allocated)
}

func TestCreateTransfer_UnknownPool(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/transfers", map[string]any{
		"pool_id": "nope", "source_uri": "/tmp/x", "name": "x",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "referential-integrity", env.errCode(t, rec))
}

func TestCreateTransfer_FailureRecorded(t *testing.T) {
	env := newTestEnv(t)

	poolDir := t.TempDir()
	env.do(t, http.MethodPost, "/storage-pools", map[string]any{
		"id": "pool-1", "type": "local", "config": map[string]string{"path": poolDir},
	})

	rec := env.do(t, http.MethodPost, "/transfers", map[string]any{
		"pool_id": "pool-1", "source_uri": "/does/not/exist", "name": "ghost",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	tr := decode[Transfer](t, rec)

	require.Eventually(t, func() bool {
		got, err := env.store.GetTransfer(context.Background(), tr.ID)
		return err == nil && got.Status == cpstore.TransferFailed
	}, 5*time.Second, 10*time.Millisecond)

	failed, err := env.store.GetTransfer(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, failed.Error)
}
