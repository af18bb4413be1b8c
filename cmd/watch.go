// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/heatpumpmon/internal/monitor"
	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

var (
	watchInterval time.Duration
	useTUI        bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll repeatedly and show a live dashboard",
	Long: `Poll the heat pump at a fixed interval and show the latest values,
cycle statistics and an event log of failed cycles.

Use --tui=false for plain text output, one block per cycle.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 10*time.Second, "Time between poll cycles")
	watchCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// pollStartMsg is sent when a poll cycle begins
type pollStartMsg struct{}

// pollResultMsg carries the outcome of one poll cycle
type pollResultMsg struct {
	at       time.Time
	result   lwz.Result
	err      error
	duration time.Duration
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchInterval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	if useTUI {
		// Keep log lines from tearing the dashboard
		logger = logger.Level(zerolog.Disabled)
	}

	session, connInfo, err := OpenSession(cfg.Protocol)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !useTUI {
		return runWatchText(ctx, session, connInfo)
	}

	m := initialWatchModel(connInfo, session.Version(), session.Config().Comment, watchInterval)
	p := tea.NewProgram(m, tea.WithAltScreen())

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pollLoop(pollCtx, session, watchInterval, p.Send)

	_, err = p.Run()
	return err
}

// pollLoop runs poll cycles until ctx ends and reports each one through send.
// It is the only user of session.
func pollLoop(ctx context.Context, session monitor.Poller, interval time.Duration, send func(tea.Msg)) {
	for {
		send(pollStartMsg{})
		start := time.Now()
		result, err := session.Query()
		send(pollResultMsg{at: start, result: result, err: err, duration: time.Since(start)})

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func runWatchText(ctx context.Context, session *lwz.Session, connInfo string) error {
	fmt.Printf("heatpumpmon - Watch\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Version: %s (%s)\n", session.Version(), session.Config().Comment)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := lwz.NewStatistics()
	results := make(chan pollResultMsg)
	go pollLoop(ctx, session, watchInterval, func(msg tea.Msg) {
		if r, ok := msg.(pollResultMsg); ok {
			select {
			case results <- r:
			case <-ctx.Done():
			}
		}
	})

	for {
		select {
		case <-ctx.Done():
			fmt.Print("\n" + stats.String())
			return nil
		case r := <-results:
			stats.Update(r.duration, r.err)
			timestamp := r.at.Format("15:04:05")
			if r.err != nil {
				fmt.Printf("[%s] \033[1;31mPOLL FAILED (%s):\033[0m %v\n\n", timestamp, lwz.Kind(r.err), r.err)
				continue
			}
			fmt.Printf("[%s] %d values in %v\n", timestamp, len(r.result), r.duration.Round(time.Millisecond))
			fmt.Print(lwz.FormatResult(r.result))
			fmt.Println()
		}
	}
}
