package hostprovisioner

import (
	"context"
	"net"
	"time"

	"github.com/qarax/qarax/lib/errs"
)

// tcpProbe polls addr until a TCP connection succeeds or timeout elapses,
// the reachability check that gates the installing -> up transition.
func tcpProbe(ctx context.Context, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return errs.Wrap(errs.ErrHostUnreachable, "host "+addr+" did not become reachable within "+timeout.String(), err)
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.ErrHostUnreachable, "probe cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}
