// Package hostprovisioner implements the Host Provisioner (HP):
// the down/installation_failed -> installing -> up|installation_failed
// state machine driven by POST /hosts/{id}/deploy.
package hostprovisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qarax/qarax/lib/cpstore"
	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/logger"
)

// DefaultProbeTimeout is the default bound on how long Deploy waits for
// the host to become TCP-reachable after the image switch.
const DefaultProbeTimeout = 420 * time.Second

// Credentials authenticates an SSH session against a host being
// provisioned. Exactly one of Password or PrivateKeyPEM should be set.
type Credentials struct {
	Username      string
	Password      string
	PrivateKeyPEM []byte
}

// CredentialsResolver turns a Host.CredentialsRef into usable SSH
// credentials, e.g. a lookup against a secrets manager.
type CredentialsResolver func(ctx context.Context, ref string) (Credentials, error)

// Dialer opens the SSH and TCP connections HP needs. Production code uses
// realDialer; tests substitute a fake to avoid a live network.
type Dialer interface {
	sshConnect(ctx context.Context, addr string, creds Credentials) (sshSession, error)
	probe(ctx context.Context, addr string, timeout time.Duration) error
}

// Provisioner drives the HP state machine against a Store.
type Provisioner struct {
	store        *cpstore.Store
	creds        CredentialsResolver
	dialer       Dialer
	log          *slog.Logger
	probeTimeout time.Duration
}

func New(store *cpstore.Store, creds CredentialsResolver, cfg logger.Config) *Provisioner {
	return &Provisioner{
		store:        store,
		creds:        creds,
		dialer:       realDialer{},
		log:          logger.NewSubsystemLogger(logger.SubsystemHostProv, cfg),
		probeTimeout: DefaultProbeTimeout,
	}
}

// WithDialer overrides the SSH/TCP dialer, for tests.
func (p *Provisioner) WithDialer(d Dialer) *Provisioner {
	p.dialer = d
	return p
}

// WithProbeTimeout overrides the reachability-probe timeout.
func (p *Provisioner) WithProbeTimeout(d time.Duration) *Provisioner {
	p.probeTimeout = d
	return p
}

// Deploy runs the full install sequence synchronously: SSH in, write the
// appliance-image reference, invoke the idempotent image-switch command,
// optionally reboot, then probe for reachability. It transitions the host
// to installing on entry and to up or installation_failed on exit.
func (p *Provisioner) Deploy(ctx context.Context, hostID, imageRef string, reboot bool) error {
	host, err := p.store.GetHost(ctx, hostID)
	if err != nil {
		return err
	}
	if host.Status != cpstore.HostDown && host.Status != cpstore.HostInstallationFailed {
		return errs.Wrap(errs.ErrState, "host "+hostID+" is not eligible for deploy from status "+string(host.Status), nil)
	}

	if err := p.store.UpdateHostStatus(ctx, hostID, cpstore.HostInstalling, ""); err != nil {
		return err
	}

	if err := p.install(ctx, host, imageRef, reboot); err != nil {
		p.log.Error("host install failed", "host_id", hostID, "error", err)
		_ = p.store.UpdateHostStatus(ctx, hostID, cpstore.HostInstallationFailed, err.Error())
		return err
	}

	addr := fmt.Sprintf("%s:%d", host.Address, host.RPCPort)
	if err := p.dialer.probe(ctx, addr, p.probeTimeout); err != nil {
		p.log.Error("host reachability probe failed", "host_id", hostID, "address", addr, "error", err)
		_ = p.store.UpdateHostStatus(ctx, hostID, cpstore.HostInstallationFailed, err.Error())
		return err
	}

	return p.store.UpdateHostStatus(ctx, hostID, cpstore.HostUp, "")
}

func (p *Provisioner) install(ctx context.Context, host *cpstore.Host, imageRef string, reboot bool) error {
	creds, err := p.creds(ctx, host.CredentialsRef)
	if err != nil {
		return errors.Join(errs.ErrInternal, err)
	}

	sess, err := p.dialer.sshConnect(ctx, host.Address+":22", creds)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := writeImageRef(ctx, sess, imageRef); err != nil {
		return err
	}
	if err := switchImage(ctx, sess, imageRef); err != nil {
		return err
	}
	if reboot {
		// Reboot legitimately drops the SSH connection; a non-zero exit or
		// transport error here is expected and not itself a failure.
		_, _ = sess.Run(ctx, "sudo systemctl reboot")
	}
	return nil
}
