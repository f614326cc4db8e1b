package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaths_Layout(t *testing.T) {
	p := New("/var/lib/qarax/vms")

	assert.Equal(t, "/var/lib/qarax/vms/vm-1.sock", p.Socket("vm-1"))
	assert.Equal(t, "/var/lib/qarax/vms/vm-1.console.log", p.ConsoleLog("vm-1"))
	assert.Equal(t, "/var/lib/qarax/vms/vm-1.agent.log", p.AgentLog("vm-1"))
	assert.Equal(t, "/var/lib/qarax/vms/snapshots/vm-1", p.SnapshotDir("vm-1"))
}

func TestPaths_TAPPrefixTruncates(t *testing.T) {
	p := New("/var/lib/qarax/vms")

	assert.Equal(t, "qtvm-1", p.TAPPrefix("vm-1"))
	assert.Equal(t, "qt01234567", p.TAPPrefix("0123456789abcdef-long-id"))
}

func TestPaths_TAPName(t *testing.T) {
	p := New("/var/lib/qarax/vms")

	assert.Equal(t, "qtvm-1n0", p.TAPName("vm-1", 0))
	assert.Equal(t, "qtvm-1n3", p.TAPName("vm-1", 3))
}
