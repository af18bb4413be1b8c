// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

var pingCount int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the controller answers the connection request",
	Long: `Open the link, send the start-of-communication byte and wait for the
controller's acknowledgement, then close the link again.

The round trip covers opening the device and the acknowledgement. Consecutive
pings respect the one second cooldown between connections.

Exit codes:
  0 - All pings successful
  1 - One or more pings failed
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	dialer, connInfo, err := NewDialer(cfg.Protocol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("heatpumpmon - Link Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		rtt, err := lwz.Probe(dialer, lwz.WithLogger(logger))
		switch {
		case err == nil:
			fmt.Printf("ACK, rtt=%v\n", rtt.Round(time.Millisecond))
			successCount++
		case errors.Is(err, lwz.ErrLinkUnresponsive):
			fmt.Printf("NO ACK: %v\n", err)
			failCount++
		default:
			// The link itself could not be opened
			fmt.Printf("FAILED\n")
			fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
			os.Exit(2)
		}

		if i < pingCount {
			time.Sleep(lwz.ReconnectCooldown)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d acknowledged, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
