// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Query the controller firmware version",
	Long: `Run only the version query and report which version file matches it.

The command fails when no version file lists the reported version.`,
	RunE: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	dialer, connInfo, err := NewDialer(cfg.Protocol)
	if err != nil {
		return err
	}
	version, err := lwz.DetectVersion(dialer,
		lwz.WithLogger(logger),
		lwz.WithVersionScale(cfg.Protocol.Scale()),
	)
	if err != nil {
		return err
	}

	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Firmware:   %s\n", version)

	registry, err := LoadRegistry(cfg.Protocol)
	if err != nil {
		return err
	}
	vc, err := registry.Lookup(version)
	if errors.Is(err, lwz.ErrConfigurationMissing) {
		fmt.Printf("No version file in %s supports this firmware\n", cfg.Protocol.VersionsDirectory)
		return err
	}
	if err != nil {
		return err
	}
	fmt.Printf("Author:     %s\n", vc.Author)
	fmt.Printf("Comment:    %s\n", vc.Comment)
	fmt.Printf("Source:     %s\n", vc.Source)
	return nil
}
