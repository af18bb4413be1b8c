// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

var (
	queryJSON bool
	queryRaw  bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run one poll cycle and print the decoded values",
	Long: `Detect the firmware version, run every configured query once over a
single connection and print the decoded values sorted by name.

With --raw each validated payload is printed as a hex dump before decoding.
With --json the values are written as one JSON object.`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Print the result as JSON")
	queryCmd.Flags().BoolVar(&queryRaw, "raw", false, "Print every payload as a hex dump")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	var opts []lwz.Option
	if queryRaw {
		opts = append(opts, lwz.WithPayloadHook(func(query string, payload []byte) {
			fmt.Fprintf(os.Stderr, "%-12s %s\n", query, lwz.FormatHex(payload))
		}))
	}

	session, connInfo, err := OpenSession(cfg.Protocol, opts...)
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := session.Query()
	if err != nil {
		return err
	}

	if queryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Version:    %s (%s)\n", session.Version(), session.Config().Comment)
	fmt.Printf("Duration:   %v\n\n", time.Since(start).Round(time.Millisecond))
	fmt.Print(lwz.FormatResult(result))
	return nil
}
