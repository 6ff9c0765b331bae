// Command rvctl is the host-side supervisor that boots rvkernel under
// a Firecracker microVM and can tear it back down, per SPEC_FULL's
// domain-stack table. Its command tree follows dsmmcken-dh-cli's
// cobra.Command style (subcommands grouped under one root, RunE
// functions doing the real work).
package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var profilePath string

	root := &cobra.Command{
		Use:   "rvctl",
		Short: "Boot and control rvkernel microVMs",
	}
	root.PersistentFlags().StringVar(&profilePath, "profile", "rvctl.toml", "path to a TOML launch profile")

	bootCmd := &cobra.Command{
		Use:   "boot",
		Short: "Boot the kernel ELF and disk image from the launch profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoot(profilePath)
		},
	}
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running microVM started from the launch profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(profilePath)
		},
	}
	root.AddCommand(bootCmd, stopCmd)

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("rvctl failed")
	}
}
