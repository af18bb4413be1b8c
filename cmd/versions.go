// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List the protocol version files",
	Long: `Load the version file directory and describe every configuration:
the firmware versions it covers, its queries and their fields.

No connection to the controller is made.`,
	RunE: runVersions,
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}

func runVersions(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	registry, err := LoadRegistry(cfg.Protocol)
	if err != nil {
		return err
	}

	fmt.Printf("Directory: %s\n", cfg.Protocol.VersionsDirectory)
	fmt.Printf("%d configurations, %d firmware versions\n\n", len(registry.Configs()), registry.Len())
	for _, vc := range registry.Configs() {
		fmt.Print(lwz.FormatConfig(vc))
		fmt.Println()
	}
	return nil
}
