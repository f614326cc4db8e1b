package hostprovisioner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qarax/qarax/lib/cpstore"
	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/logger"
)

type fakeSession struct {
	runErr    error
	uploadErr error
	commands  []string
}

func (s *fakeSession) Run(ctx context.Context, cmd string) (string, error) {
	s.commands = append(s.commands, cmd)
	return "", s.runErr
}

func (s *fakeSession) Upload(ctx context.Context, remotePath string, content []byte) error {
	return s.uploadErr
}

func (s *fakeSession) Close() error { return nil }

type fakeDialer struct {
	session   *fakeSession
	connErr   error
	probeErr  error
	connected bool
}

func (d *fakeDialer) sshConnect(ctx context.Context, addr string, creds Credentials) (sshSession, error) {
	if d.connErr != nil {
		return nil, d.connErr
	}
	d.connected = true
	return d.session, nil
}

func (d *fakeDialer) probe(ctx context.Context, addr string, timeout time.Duration) error {
	return d.probeErr
}

func newTestStore(t *testing.T) *cpstore.Store {
	t.Helper()
	s, err := cpstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func noopCreds(ctx context.Context, ref string) (Credentials, error) {
	return Credentials{Username: "root", Password: "x"}, nil
}

func TestDeploy_SucceedsAndTransitionsToUp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateHost(ctx, &cpstore.Host{ID: "host-1", Address: "10.0.0.1", RPCPort: 50051, Status: cpstore.HostDown}))

	dialer := &fakeDialer{session: &fakeSession{}}
	p := New(store, noopCreds, logger.NewConfig()).WithDialer(dialer)

	require.NoError(t, p.Deploy(ctx, "host-1", "qarax-appliance:v1", false))

	host, err := store.GetHost(ctx, "host-1")
	require.NoError(t, err)
	assert.Equal(t, cpstore.HostUp, host.Status)
	assert.Contains(t, dialer.session.commands[0], "qarax-appliance:v1")
}

func TestDeploy_RejectsFromInstallingStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateHost(ctx, &cpstore.Host{ID: "host-1", Address: "10.0.0.1", RPCPort: 50051, Status: cpstore.HostInstalling}))

	p := New(store, noopCreds, logger.NewConfig()).WithDialer(&fakeDialer{session: &fakeSession{}})
	err := p.Deploy(ctx, "host-1", "qarax-appliance:v1", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrState))
}

func TestDeploy_SSHFailureMarksInstallationFailed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateHost(ctx, &cpstore.Host{ID: "host-1", Address: "10.0.0.1", RPCPort: 50051, Status: cpstore.HostDown}))

	dialer := &fakeDialer{connErr: errs.Wrap(errs.ErrTransport, "dial refused", nil)}
	p := New(store, noopCreds, logger.NewConfig()).WithDialer(dialer)

	err := p.Deploy(ctx, "host-1", "qarax-appliance:v1", false)
	require.Error(t, err)

	host, getErr := store.GetHost(ctx, "host-1")
	require.NoError(t, getErr)
	assert.Equal(t, cpstore.HostInstallationFailed, host.Status)
}

func TestDeploy_ProbeTimeoutMarksInstallationFailed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateHost(ctx, &cpstore.Host{ID: "host-1", Address: "10.0.0.1", RPCPort: 50051, Status: cpstore.HostInstallationFailed}))

	dialer := &fakeDialer{session: &fakeSession{}, probeErr: errs.Wrap(errs.ErrHostUnreachable, "timed out", nil)}
	p := New(store, noopCreds, logger.NewConfig()).WithDialer(dialer)

	err := p.Deploy(ctx, "host-1", "qarax-appliance:v1", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrHostUnreachable))

	host, getErr := store.GetHost(ctx, "host-1")
	require.NoError(t, getErr)
	assert.Equal(t, cpstore.HostInstallationFailed, host.Status)
	assert.Contains(t, dialer.session.commands, "sudo systemctl reboot")
}
