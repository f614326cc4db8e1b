package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qarax/qarax/lib/cpstore"
)

func TestGetJob_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/jobs/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatchJob_StreamsUntilTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := &cpstore.Job{ID: "job-1", Type: "host_deploy", Status: cpstore.JobRunning, ResourceRef: "h1"}
	require.NoError(t, env.store.CreateJob(ctx, job))

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/job-1/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first Job
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "running", first.Status)

	require.NoError(t, env.store.CompleteJob(ctx, "job-1", cpstore.JobSucceeded, "done", ""))

	var last Job
	require.NoError(t, conn.ReadJSON(&last))
	assert.Equal(t, "succeeded", last.Status)
	assert.Equal(t, 100, last.Progress)

	// Server closes with a normal-closure frame after the terminal status.
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
