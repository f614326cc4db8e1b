package qemu

import (
	"fmt"
	"time"

	"github.com/digitalocean/go-qemu/qemu"
	"github.com/digitalocean/go-qemu/qmp"
	"github.com/digitalocean/go-qemu/qmp/raw"
)

// qmpConnectTimeout is the timeout for connecting to the QMP socket.
const qmpConnectTimeout = 1 * time.Second

// Client wraps go-qemu's Domain and raw.Monitor with convenience methods
// covering the subset of QMP commands HA needs.
type Client struct {
	domain *qemu.Domain
	raw    *raw.Monitor
	mon    *qmp.SocketMonitor
}

// NewClient creates a new QEMU client connected to the given QMP socket.
func NewClient(socketPath string) (*Client, error) {
	mon, err := qmp.NewSocketMonitor("unix", socketPath, qmpConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("create socket monitor: %w", err)
	}
	if err := mon.Connect(); err != nil {
		return nil, fmt.Errorf("connect to qmp: %w", err)
	}
	domain, err := qemu.NewDomain(mon, "vm")
	if err != nil {
		mon.Disconnect()
		return nil, fmt.Errorf("create domain: %w", err)
	}
	return &Client{domain: domain, raw: raw.NewMonitor(mon), mon: mon}, nil
}

// Close disconnects from the QMP socket.
func (c *Client) Close() error {
	return c.domain.Close()
}

// Stop pauses VM execution (QMP 'stop').
func (c *Client) Stop() error { return c.raw.Stop() }

// Continue resumes VM execution (QMP 'cont').
func (c *Client) Continue() error { return c.raw.Cont() }

// Status returns the current VM status as a typed enum.
func (c *Client) Status() (qemu.Status, error) {
	return c.domain.Status()
}

// Quit shuts down QEMU (QMP 'quit').
func (c *Client) Quit() error { return c.raw.Quit() }

// SystemPowerdown sends an ACPI power button event (graceful shutdown).
func (c *Client) SystemPowerdown() error { return c.raw.SystemPowerdown() }

// DeviceAdd hot-attaches a device via QMP 'device_add'.
func (c *Client) DeviceAdd(driver, id string, props map[string]any) error {
	args := map[string]any{"driver": driver, "id": id}
	for k, v := range props {
		args[k] = v
	}
	_, err := c.domain.Run(qmp.Command{Execute: "device_add", Args: args})
	return err
}

// DeviceDel hot-detaches a device via QMP 'device_del'.
func (c *Client) DeviceDel(id string) error {
	_, err := c.domain.Run(qmp.Command{Execute: "device_del", Args: map[string]any{"id": id}})
	return err
}
