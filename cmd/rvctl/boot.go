package main

import (
	"context"
	"fmt"
	"io"
	"os"

	firecracker "github.com/firecracker-microvm/firecracker-go-sdk"
	"github.com/firecracker-microvm/firecracker-go-sdk/client/models"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// bootFirecracker boots profile's kernel ELF and disk image as a
// Firecracker microVM — the concrete stand-in for "firmware/SBI
// launches the kernel" this repo can actually exercise on a dev
// machine (cmd/rvkernel's own HostFirmware only covers a same-process
// hosted run). Grounded on dsmmcken-dh-cli's machine_linux.go
// BootAndSnapshot, minus the snapshot/vsock warmup machinery that
// repo's Deephaven-specific use case needs and this one doesn't.
func bootFirecracker(ctx context.Context, profile *LaunchProfile, socketPath string, stderr io.Writer) (*firecracker.Machine, error) {
	vcpuCount := profile.VCPUCount
	memSize := profile.MemSizeMiB
	fcCfg := firecracker.Config{
		SocketPath:      socketPath,
		KernelImagePath: profile.KernelPath,
		KernelArgs:      "console=ttyS0 reboot=k panic=1 pci=off",
		Drives: []models.Drive{
			{
				DriveID:      firecracker.String("rootfs"),
				PathOnHost:   firecracker.String(profile.DiskPath),
				IsRootDevice: firecracker.Bool(true),
				IsReadOnly:   firecracker.Bool(false),
			},
		},
		MachineCfg: models.MachineConfiguration{
			VcpuCount:  &vcpuCount,
			MemSizeMib: &memSize,
		},
	}

	fcCmd := firecracker.VMCommandBuilder{}.
		WithSocketPath(socketPath).
		WithStdout(stderr).
		WithStderr(stderr).
		Build(ctx)

	logger := log.New()
	logger.SetLevel(log.WarnLevel)

	machine, err := firecracker.NewMachine(ctx, fcCfg,
		firecracker.WithProcessRunner(fcCmd),
		firecracker.WithLogger(log.NewEntry(logger)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating firecracker machine")
	}
	if err := machine.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "starting microVM")
	}
	return machine, nil
}

func runBoot(profilePath string) error {
	profile, err := LoadProfile(profilePath)
	if err != nil {
		return err
	}

	socketPath, err := socketPathFor(profile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	machine, err := bootFirecracker(ctx, profile, socketPath, os.Stderr)
	if err != nil {
		return err
	}
	log.WithField("pid", machine.Pid).Info("rvkernel booted under Firecracker")
	return machine.Wait(ctx)
}

func runStop(profilePath string) error {
	profile, err := LoadProfile(profilePath)
	if err != nil {
		return err
	}
	socketPath, err := socketPathFor(profile)
	if err != nil {
		return err
	}
	ctx := context.Background()
	m, err := firecracker.NewMachine(ctx, firecracker.Config{SocketPath: socketPath})
	if err != nil {
		return errors.Wrap(err, "attaching to running microVM")
	}
	if err := m.StopVMM(); err != nil {
		return errors.Wrap(err, "stopping microVM")
	}
	return nil
}

func socketPathFor(profile *LaunchProfile) (string, error) {
	if profile.DiskPath == "" {
		return "", fmt.Errorf("rvctl: launch profile has no disk_path to derive a socket path from")
	}
	return profile.DiskPath + ".firecracker.sock", nil
}
