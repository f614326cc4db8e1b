// Package vmm implements the Hypervisor Adapter's (HA) transport: a plain
// net/http client dialing a per-VM Unix domain socket, and the wire types
// for Cloud Hypervisor's local HTTP API. There is no generated client here
// (no codegen step runs in this environment); Client hand-rolls the small
// fixed set of requests HA needs.
package vmm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/qarax/qarax/lib/hypervisor"
)

// Client is an HA transport bound to one VM's API socket.
type Client struct {
	socketPath string
	http       *http.Client
	metrics    *Metrics
}

// NewClient creates a Client for the VMM listening on socketPath. A fresh
// transport is created per client (not shared/pooled) so a leaked
// connection cannot accumulate against the VMM's connection limit.
func NewClient(socketPath string, metrics *Metrics) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		DisableKeepAlives: true,
	}
	return &Client{
		socketPath: socketPath,
		http:       &http.Client{Transport: transport},
		metrics:    metrics,
	}
}

// do performs one request against the VMM and classifies any failure per
// the HA failure taxonomy (transport/protocol/state/server).
func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) error {
	start := time.Now()
	err := c.doOnce(ctx, method, path, body, out)
	if c.metrics != nil {
		c.metrics.RecordAPICall(ctx, op, start, err)
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &hypervisor.Error{Kind: hypervisor.FailureProtocol, Op: path, Err: err}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, reader)
	if err != nil {
		return &hypervisor.Error{Kind: hypervisor.FailureProtocol, Op: path, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &hypervisor.Error{Kind: hypervisor.FailureTransport, Op: path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		b, _ := io.ReadAll(resp.Body)
		return &hypervisor.Error{Kind: hypervisor.FailureServer, Op: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, b)}
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(resp.Body)
		return &hypervisor.Error{Kind: hypervisor.FailureState, Op: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, b)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &hypervisor.Error{Kind: hypervisor.FailureProtocol, Op: path, Err: err}
	}
	return nil
}

// CreateVM configures the VM (PUT /api/v1/vm.create).
func (c *Client) CreateVM(ctx context.Context, cfg VmConfig) error {
	return c.do(ctx, "create", http.MethodPut, "/api/v1/vm.create", cfg, nil)
}

// BootVM starts guest execution (PUT /api/v1/vm.boot).
func (c *Client) BootVM(ctx context.Context) error {
	return c.do(ctx, "boot", http.MethodPut, "/api/v1/vm.boot", nil, nil)
}

// ShutdownVM stops guest execution (PUT /api/v1/vm.shutdown).
func (c *Client) ShutdownVM(ctx context.Context) error {
	return c.do(ctx, "shutdown", http.MethodPut, "/api/v1/vm.shutdown", nil, nil)
}

// PauseVM suspends execution (PUT /api/v1/vm.pause).
func (c *Client) PauseVM(ctx context.Context) error {
	return c.do(ctx, "pause", http.MethodPut, "/api/v1/vm.pause", nil, nil)
}

// ResumeVM resumes execution (PUT /api/v1/vm.resume).
func (c *Client) ResumeVM(ctx context.Context) error {
	return c.do(ctx, "resume", http.MethodPut, "/api/v1/vm.resume", nil, nil)
}

// VmInfo returns the current VM state snapshot (GET /api/v1/vm.info).
func (c *Client) VmInfo(ctx context.Context) (*VmInfoResponse, error) {
	var info VmInfoResponse
	if err := c.do(ctx, "info", http.MethodGet, "/api/v1/vm.info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// AddNet hot-attaches a network device (PUT /api/v1/vm.add-net).
func (c *Client) AddNet(ctx context.Context, cfg NetConfig) error {
	return c.do(ctx, "add-net", http.MethodPut, "/api/v1/vm.add-net", cfg, nil)
}

// AddDisk hot-attaches a disk device (PUT /api/v1/vm.add-disk).
func (c *Client) AddDisk(ctx context.Context, cfg DiskConfig) error {
	return c.do(ctx, "add-disk", http.MethodPut, "/api/v1/vm.add-disk", cfg, nil)
}

// RemoveDevice hot-detaches a device by id (PUT /api/v1/vm.remove-device).
func (c *Client) RemoveDevice(ctx context.Context, deviceID string) error {
	return c.do(ctx, "remove-device", http.MethodPut, "/api/v1/vm.remove-device",
		struct {
			ID string `json:"id"`
		}{ID: deviceID}, nil)
}

// Ping checks whether the VMM's socket accepts a connection, used by VR's
// startup probe and orphan reconciliation.
func Ping(socketPath string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WaitForSocket polls until socketPath accepts connections or ctx expires,
// bounded at 50 x 100ms.
func WaitForSocket(ctx context.Context, socketPath string, attempts int, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		if Ping(socketPath, interval) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return fmt.Errorf("timed out waiting for socket %s", socketPath)
}
