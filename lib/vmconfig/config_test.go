package vmconfig

import (
	"testing"

	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseInput() Input {
	return Input{
		BootVCPUs:   1,
		MaxVCPUs:    2,
		MemoryBytes: 256 << 20,
		KernelPath:  "/boot/vmlinux",
	}
}

func TestTranslate_CPUInvariants(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Input)
		shouldFail bool
	}{
		{"valid boot<=max", func(i *Input) {}, false},
		{"boot_vcpus zero", func(i *Input) { i.BootVCPUs = 0 }, true},
		{"max_vcpus zero", func(i *Input) { i.MaxVCPUs = 0 }, true},
		{"boot_vcpus greater than max_vcpus", func(i *Input) { i.BootVCPUs = 4 }, true},
		{"boot_vcpus equal to max_vcpus", func(i *Input) { i.BootVCPUs = 2; i.MaxVCPUs = 2 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.mutate(&in)
			_, err := Translate(in)
			if tt.shouldFail {
				require.Error(t, err)
				assert.ErrorIs(t, err, errs.ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTranslate_MemoryInvariants(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Input)
		shouldFail bool
	}{
		{"positive memory, no hotplug", func(i *Input) {}, false},
		{"zero memory", func(i *Input) { i.MemoryBytes = 0 }, true},
		{"negative memory", func(i *Input) { i.MemoryBytes = -1 }, true},
		{"hotplug below memory", func(i *Input) { i.HotplugBytes = i.MemoryBytes - 1 }, true},
		{"hotplug equal memory", func(i *Input) { i.HotplugBytes = i.MemoryBytes }, false},
		{"hotplug above memory", func(i *Input) { i.HotplugBytes = i.MemoryBytes * 2 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.mutate(&in)
			_, err := Translate(in)
			if tt.shouldFail {
				require.Error(t, err)
				assert.ErrorIs(t, err, errs.ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTranslate_FlavorValidation(t *testing.T) {
	in := baseInput()
	in.Flavor = hypervisor.TypeQEMU
	cfg, err := Translate(in)
	require.NoError(t, err)
	assert.Equal(t, hypervisor.TypeQEMU, cfg.Flavor)

	in.Flavor = hypervisor.Type("xen")
	_, err = Translate(in)
	require.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestTranslate_DiskVhostUserRules(t *testing.T) {
	in := baseInput()
	in.MemoryShared = true
	in.Disks = []DiskInput{{DeviceID: "disk0", VhostUser: true, VhostSocket: "/tmp/vhost0.sock"}}
	cfg, err := Translate(in)
	require.NoError(t, err)
	require.Len(t, cfg.Disks, 1)
	assert.True(t, cfg.Disks[0].VhostUser)

	in2 := baseInput()
	in2.MemoryShared = false
	in2.Disks = []DiskInput{{DeviceID: "disk0", VhostUser: true, VhostSocket: "/tmp/vhost0.sock"}}
	_, err = Translate(in2)
	require.ErrorIs(t, err, errs.ErrInvalidConfig)

	in3 := baseInput()
	in3.Disks = []DiskInput{{DeviceID: "disk0", VhostUser: true}}
	_, err = Translate(in3)
	require.ErrorIs(t, err, errs.ErrInvalidConfig)

	in4 := baseInput()
	in4.Disks = []DiskInput{{DeviceID: "disk0"}}
	_, err = Translate(in4)
	require.ErrorIs(t, err, errs.ErrInvalidConfig, "non-vhost disk with no resolved storage-object path must be rejected")
}

func TestTranslate_NetRateLimiterResolution(t *testing.T) {
	in := baseInput()
	in.RateLimitGroups = []hypervisor.RateLimitGroup{{Name: "default"}}
	in.Networks = []NetInput{{DeviceID: "eth0", TAPName: "qt01n0", RateLimitRef: "default"}}
	cfg, err := Translate(in)
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Networks[0].RateLimitRef)

	in2 := baseInput()
	in2.Networks = []NetInput{{DeviceID: "eth0", TAPName: "qt01n0", RateLimitRef: "missing"}}
	_, err = Translate(in2)
	require.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestTranslate_NetDefaults(t *testing.T) {
	in := baseInput()
	in.Networks = []NetInput{{DeviceID: "eth0", TAPName: "qt01n0"}}
	cfg, err := Translate(in)
	require.NoError(t, err)
	require.Len(t, cfg.Networks, 1)
	net := cfg.Networks[0]
	assert.Equal(t, 1, net.NumQueues)
	assert.Equal(t, 256, net.QueueSize)
	assert.Equal(t, 1500, net.MTU)
	assert.True(t, net.OffloadTSO)
	assert.True(t, net.OffloadUFO)
	assert.True(t, net.OffloadCSUM)
}

func TestTranslate_DiskDefaults(t *testing.T) {
	in := baseInput()
	in.Disks = []DiskInput{{DeviceID: "disk0", ResolvedPath: "/var/lib/qarax/disks/disk0.img"}}
	cfg, err := Translate(in)
	require.NoError(t, err)
	require.Len(t, cfg.Disks, 1)
	assert.Equal(t, 1, cfg.Disks[0].NumQueues)
	assert.Equal(t, 128, cfg.Disks[0].QueueSize)
}

func TestTranslate_RNGDefault(t *testing.T) {
	in := baseInput()
	cfg, err := Translate(in)
	require.NoError(t, err)
	require.NotNil(t, cfg.RNG)
	assert.Equal(t, "/dev/urandom", cfg.RNG.SourcePath)
}

func TestTranslate_ConsoleModeRequirements(t *testing.T) {
	tests := []struct {
		name       string
		console    hypervisor.ConsoleConfig
		shouldFail bool
	}{
		{"file mode with path", hypervisor.ConsoleConfig{Port: "serial", Mode: hypervisor.ConsoleFile, FilePath: "/x.log"}, false},
		{"file mode without path", hypervisor.ConsoleConfig{Port: "serial", Mode: hypervisor.ConsoleFile}, true},
		{"socket mode with path", hypervisor.ConsoleConfig{Port: "console", Mode: hypervisor.ConsoleSocket, SocketPath: "/x.sock"}, false},
		{"socket mode without path", hypervisor.ConsoleConfig{Port: "console", Mode: hypervisor.ConsoleSocket}, true},
		{"off mode", hypervisor.ConsoleConfig{Port: "serial", Mode: hypervisor.ConsoleOff}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			in.Consoles = []hypervisor.ConsoleConfig{tt.console}
			_, err := Translate(in)
			if tt.shouldFail {
				require.ErrorIs(t, err, errs.ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
