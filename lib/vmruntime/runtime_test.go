package vmruntime

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qarax/qarax/lib/paths"
)

func startChild(t *testing.T, name string, args ...string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command(name, args...)
	require.NoError(t, cmd.Start())
	return cmd
}

func TestWatchExit_MarksUnknownOnUnexpectedExit(t *testing.T) {
	p := paths.New(t.TempDir())
	cmd := startChild(t, "true")

	rt := New("vm-1", p, nil, cmd)
	rt.SetState(StateRunning)

	logged := make(chan struct{})
	rt.WatchExit(func(args ...any) { close(logged) })

	select {
	case <-logged:
	case <-time.After(5 * time.Second):
		t.Fatal("exit watcher never fired")
	}
	assert.Equal(t, StateUnknown, rt.State())
	assert.NotNil(t, rt.ExitStatus())
}

func TestWatchExit_SilentAfterGracefulShutdown(t *testing.T) {
	p := paths.New(t.TempDir())
	cmd := startChild(t, "true")

	rt := New("vm-1", p, nil, cmd)
	rt.SetState(StateShutdown)

	var logged bool
	rt.WatchExit(func(args ...any) { logged = true })

	require.Eventually(t, func() bool {
		return rt.ExitStatus() != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateShutdown, rt.State())
	assert.False(t, logged)
}

func TestTeardown_KillsChildAndRemovesSocket(t *testing.T) {
	p := paths.New(t.TempDir())
	cmd := startChild(t, "sleep", "60")

	rt := New("vm-1", p, nil, cmd)
	rt.SetState(StateRunning)
	rt.WatchExit(nil)

	require.NoError(t, os.WriteFile(rt.SocketPath, nil, 0o600))

	require.NoError(t, rt.Teardown(context.Background(), 100*time.Millisecond, false))

	// The child is reaped, not left a zombie, and the socket is gone.
	assert.NotNil(t, rt.ExitStatus())
	_, err := os.Stat(rt.SocketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestTeardown_IdempotentWithoutProcess(t *testing.T) {
	p := paths.New(t.TempDir())
	rt := New("vm-1", p, nil, nil)

	require.NoError(t, rt.Teardown(context.Background(), 100*time.Millisecond, false))
	require.NoError(t, rt.Teardown(context.Background(), 100*time.Millisecond, false))
}

func TestPID(t *testing.T) {
	p := paths.New(t.TempDir())
	cmd := startChild(t, "sleep", "60")
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	rt := New("vm-1", p, nil, cmd)
	assert.Equal(t, cmd.Process.Pid, rt.PID())

	orphan := New("vm-2", p, nil, nil)
	assert.Equal(t, 0, orphan.PID())
}
