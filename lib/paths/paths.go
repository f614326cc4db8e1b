// Package paths provides centralized, typed path construction for the
// node-agent's runtime directory.
//
// Directory structure (rooted at --runtime-dir, default /var/lib/qarax/vms):
//
//	{runtimeRoot}/
//	  {vm_id}.sock            # hypervisor API socket
//	  {vm_id}.console.log     # guest serial console, append-only
//	  {vm_id}.agent.log       # per-VM mirror of node-agent log lines
//	  snapshots/{vm_id}/      # VM snapshot state (if hypervisor supports it)
package paths

import (
	"path/filepath"
	"strconv"
)

// Paths provides typed path construction for the node-agent's runtime root.
type Paths struct {
	runtimeRoot string
}

// New creates a Paths rooted at the given runtime directory.
func New(runtimeRoot string) *Paths {
	return &Paths{runtimeRoot: runtimeRoot}
}

// Root returns the runtime root directory itself.
func (p *Paths) Root() string {
	return p.runtimeRoot
}

// Socket returns the hypervisor API socket path for a VM.
func (p *Paths) Socket(vmID string) string {
	return filepath.Join(p.runtimeRoot, vmID+".sock")
}

// ConsoleLog returns the guest serial console log path for a VM.
func (p *Paths) ConsoleLog(vmID string) string {
	return filepath.Join(p.runtimeRoot, vmID+".console.log")
}

// AgentLog returns the per-VM node-agent log mirror path.
func (p *Paths) AgentLog(vmID string) string {
	return filepath.Join(p.runtimeRoot, vmID+".agent.log")
}

// SnapshotDir returns the snapshot directory for a VM.
func (p *Paths) SnapshotDir(vmID string) string {
	return filepath.Join(p.runtimeRoot, "snapshots", vmID)
}

// TAPPrefix returns the naming prefix used for TAP devices auto-created for
// a VM: qt{vm_id_prefix}n{idx}. The prefix is truncated so the resulting
// interface name stays within the kernel's IFNAMSIZ (16 bytes, including the
// "qt" and "n<idx>" decoration).
func (p *Paths) TAPPrefix(vmID string) string {
	const maxPrefixLen = 8
	id := vmID
	if len(id) > maxPrefixLen {
		id = id[:maxPrefixLen]
	}
	return "qt" + id
}

// TAPName returns the name of the idx'th auto-created TAP device for a VM.
func (p *Paths) TAPName(vmID string, idx int) string {
	return tapNameFromPrefix(p.TAPPrefix(vmID), idx)
}

func tapNameFromPrefix(prefix string, idx int) string {
	return prefix + "n" + strconv.Itoa(idx)
}
