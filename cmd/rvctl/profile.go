package main

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// LaunchProfile is rvctl's boot configuration, the host-side analogue
// of the kernel's own compiled-in mem/layout.go constants (SPEC_FULL's
// Ambient/Configuration split): hart count, the artifacts to boot, and
// the memory budget to hand Firecracker.
type LaunchProfile struct {
	KernelPath string `toml:"kernel_path"`
	DiskPath   string `toml:"disk_path"`
	VCPUCount  int64  `toml:"vcpu_count"`
	MemSizeMiB int64  `toml:"mem_size_mib"`
}

const (
	defaultVCPUCount  = 1 // spec.md's Non-goals exclude SMP scheduling
	defaultMemSizeMiB = 128
)

// LoadProfile reads a TOML launch profile from path, filling in
// defaults for anything the file omits.
func LoadProfile(path string) (*LaunchProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading launch profile %s", path)
	}
	p := &LaunchProfile{VCPUCount: defaultVCPUCount, MemSizeMiB: defaultMemSizeMiB}
	if err := toml.Unmarshal(data, p); err != nil {
		return nil, errors.Wrapf(err, "parsing launch profile %s", path)
	}
	if p.KernelPath == "" {
		return nil, errors.New("launch profile: kernel_path is required")
	}
	if p.DiskPath == "" {
		return nil, errors.New("launch profile: disk_path is required")
	}
	return p, nil
}
