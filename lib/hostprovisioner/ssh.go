package hostprovisioner

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/qarax/qarax/lib/errs"
)

// applianceImagePath is where the image-switch script expects the target
// image reference to be staged before it runs.
const applianceImagePath = "/etc/qarax/appliance-image"

// sshSession is the narrow surface HP needs from an SSH connection:
// command execution and single-file upload.
type sshSession interface {
	Run(ctx context.Context, cmd string) (string, error)
	Upload(ctx context.Context, remotePath string, content []byte) error
	Close() error
}

type realDialer struct{}

func (realDialer) sshConnect(ctx context.Context, addr string, creds Credentials) (sshSession, error) {
	auth, err := authMethod(creds)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         15 * time.Second,
	}

	conn, err := net.DialTimeout("tcp", addr, cfg.Timeout)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "dial "+addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.ErrTransport, "ssh handshake with "+addr, err)
	}

	return &realSession{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

func (realDialer) probe(ctx context.Context, addr string, timeout time.Duration) error {
	return tcpProbe(ctx, addr, timeout)
}

func authMethod(creds Credentials) (ssh.AuthMethod, error) {
	if len(creds.PrivateKeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(creds.PrivateKeyPEM)
		if err != nil {
			return nil, errs.Wrap(errs.ErrInvalidConfig, "parse host ssh private key", err)
		}
		return ssh.PublicKeys(signer), nil
	}
	return ssh.Password(creds.Password), nil
}

type realSession struct {
	client     *ssh.Client
	sftpClient *sftp.Client
}

func (s *realSession) Run(ctx context.Context, cmd string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", errs.Wrap(errs.ErrTransport, "open ssh session", err)
	}
	defer sess.Close()

	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out

	if err := sess.Run(cmd); err != nil {
		return out.String(), errs.Wrap(errs.ErrServer, fmt.Sprintf("command %q failed", cmd), err)
	}
	return out.String(), nil
}

func (s *realSession) Upload(ctx context.Context, remotePath string, content []byte) error {
	if s.sftpClient == nil {
		client, err := sftp.NewClient(s.client)
		if err != nil {
			return errs.Wrap(errs.ErrTransport, "open sftp session", err)
		}
		s.sftpClient = client
	}

	f, err := s.sftpClient.Create(remotePath)
	if err != nil {
		return errs.Wrap(errs.ErrServer, "create remote file "+remotePath, err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return errs.Wrap(errs.ErrServer, "write remote file "+remotePath, err)
	}
	return nil
}

func (s *realSession) Close() error {
	if s.sftpClient != nil {
		s.sftpClient.Close()
	}
	return s.client.Close()
}

func writeImageRef(ctx context.Context, sess sshSession, imageRef string) error {
	return sess.Upload(ctx, applianceImagePath, []byte(imageRef+"\n"))
}

// switchImage invokes the host's idempotent image-switch script. Running it
// twice with the same reference is a no-op on the host side.
func switchImage(ctx context.Context, sess sshSession, imageRef string) error {
	_, err := sess.Run(ctx, fmt.Sprintf("sudo qarax-image-switch %s", imageRef))
	return err
}
