package nrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/qarax/qarax/lib/errs"
)

// Client is the control-plane side of NRPC: an HTTP client bound to one
// host's node-agent listening port, used by CPS-S to dispatch lifecycle
// operations (the dispatcher wraps calls to this client in
// cenkalti/backoff for its bounded retry).
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a Client targeting a node-agent at baseURL (e.g.
// "http://10.0.0.5:50051").
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateVM dispatches CreateVM(VmConfig) -> VmInfo.
func (c *Client) CreateVM(ctx context.Context, id string, cfg VmConfig) (*VmInfo, error) {
	body := struct {
		ID string `json:"id"`
		VmConfig
	}{ID: id, VmConfig: cfg}

	var out VmInfo
	if err := c.do(ctx, http.MethodPost, "/vms", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartVM dispatches StartVM(id).
func (c *Client) StartVM(ctx context.Context, id string) (*VmInfo, error) {
	var out VmInfo
	if err := c.do(ctx, http.MethodPost, "/vms/"+id+"/start", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopVM dispatches StopVM(id).
func (c *Client) StopVM(ctx context.Context, id string) (*VmInfo, error) {
	var out VmInfo
	if err := c.do(ctx, http.MethodPost, "/vms/"+id+"/stop", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PauseVM dispatches PauseVM(id).
func (c *Client) PauseVM(ctx context.Context, id string) (*VmInfo, error) {
	var out VmInfo
	if err := c.do(ctx, http.MethodPost, "/vms/"+id+"/pause", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResumeVM dispatches ResumeVM(id).
func (c *Client) ResumeVM(ctx context.Context, id string) (*VmInfo, error) {
	var out VmInfo
	if err := c.do(ctx, http.MethodPost, "/vms/"+id+"/resume", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteVM dispatches DeleteVM(id).
func (c *Client) DeleteVM(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/vms/"+id, nil, nil)
}

// GetVmInfo dispatches GetVmInfo(id) -> VmInfo.
func (c *Client) GetVmInfo(ctx context.Context, id string) (*VmInfo, error) {
	var out VmInfo
	if err := c.do(ctx, http.MethodGet, "/vms/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListVms dispatches ListVms() -> [id].
func (c *Client) ListVms(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.do(ctx, http.MethodGet, "/vms", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddNetworkDevice dispatches AddNetworkDevice(id, NetConfig).
func (c *Client) AddNetworkDevice(ctx context.Context, id string, cfg NetConfig) error {
	return c.do(ctx, http.MethodPost, "/vms/"+id+"/net", cfg, nil)
}

// RemoveNetworkDevice dispatches RemoveNetworkDevice(id, device_id).
func (c *Client) RemoveNetworkDevice(ctx context.Context, id, deviceID string) error {
	return c.do(ctx, http.MethodDelete, "/vms/"+id+"/net/"+deviceID, nil, nil)
}

// AddDiskDevice dispatches AddDiskDevice(id, DiskConfig).
func (c *Client) AddDiskDevice(ctx context.Context, id string, cfg DiskConfig) error {
	return c.do(ctx, http.MethodPost, "/vms/"+id+"/disk", cfg, nil)
}

// RemoveDiskDevice dispatches RemoveDiskDevice(id, disk_id).
func (c *Client) RemoveDiskDevice(ctx context.Context, id, diskID string) error {
	return c.do(ctx, http.MethodDelete, "/vms/"+id+"/disk/"+diskID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.ErrInvalidConfig, "marshal nrpc request", err)
		}
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errs.Wrap(errs.ErrInternal, "build nrpc request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.ErrHostUnreachable, fmt.Sprintf("nrpc %s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		json.NewDecoder(resp.Body).Decode(&eb)
		return classifyResponse(resp.StatusCode, eb.Error)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errs.Wrap(errs.ErrProtocol, "decode nrpc response", err)
		}
	}
	return nil
}

// classifyResponse maps an NRPC HTTP status back into an errs sentinel kind
// for CPS-S's retry/backoff policy to inspect.
func classifyResponse(status int, msg string) error {
	switch status {
	case http.StatusBadRequest:
		return errs.Wrap(errs.ErrInvalidConfig, msg, nil)
	case http.StatusNotFound:
		return errs.Wrap(errs.ErrNotFound, msg, nil)
	case http.StatusConflict:
		return errs.Wrap(errs.ErrState, msg, nil)
	case http.StatusServiceUnavailable:
		return errs.Wrap(errs.ErrHostUnreachable, msg, nil)
	default:
		return errs.Wrap(errs.ErrInternal, msg, nil)
	}
}
