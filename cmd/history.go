// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/heatpumpmon/internal/history"
	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

var (
	historyFile string
	historyLast int
	historyJSON bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the most recent stored poll results",
	Long: `Read the history file written by the monitor daemon and print the last
N records, oldest first.

The file is taken from --file or from storage.history_file of the configuration.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyFile, "file", "", "History file (overrides the configuration)")
	historyCmd.Flags().IntVar(&historyLast, "last", 10, "Number of records to print")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print one JSON object per record")
}

func runHistory(cmd *cobra.Command, args []string) error {
	path := historyFile
	if path == "" {
		cfg, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		path = cfg.Storage.HistoryFile
	}
	if path == "" {
		return fmt.Errorf("no history file configured (use --file or storage.history_file)")
	}

	records, err := history.Open(path).Tail(historyLast)
	if err != nil && !errors.Is(err, history.ErrCorrupt) {
		return err
	}
	if err != nil {
		// Print what could be read, then report the damage
		defer fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, r := range records {
			if err := enc.Encode(map[string]interface{}{"time": r.Time, "values": r.Values}); err != nil {
				return err
			}
		}
		return nil
	}

	if len(records) == 0 {
		fmt.Printf("No records in %s\n", path)
		return nil
	}
	for _, r := range records {
		fmt.Printf("%s\n", r.Time.Local().Format("2006-01-02 15:04:05"))
		fmt.Print(lwz.FormatResult(r.Values))
	}
	return nil
}
