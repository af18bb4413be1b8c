// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/heatpumpmon/internal/config"
	"github.com/Thermoquad/heatpumpmon/internal/copier"
	"github.com/Thermoquad/heatpumpmon/internal/history"
	"github.com/Thermoquad/heatpumpmon/internal/metrics"
	"github.com/Thermoquad/heatpumpmon/internal/monitor"
	"github.com/Thermoquad/heatpumpmon/internal/publish"
	"github.com/Thermoquad/heatpumpmon/internal/report"
	"github.com/Thermoquad/heatpumpmon/internal/snapshot"
	"github.com/Thermoquad/heatpumpmon/internal/threshold"
	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll the heat pump periodically and feed every configured sink",
	Long: `Run the monitor daemon.

Every poll interval the configured queries are run and the result is written
to the history file, the snapshot file, the Prometheus metrics and the MQTT
broker, whichever are configured. Counter changes and repeated query errors are
reported by mail or in the log. An external copy command can be started every
N successful cycles.

Stop with SIGINT or SIGTERM; the current poll cycle is finished first.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	closeLog, err := setupDaemonLogging(cfg.Global)
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.Global.PidFile != "" {
		if err := os.WriteFile(cfg.Global.PidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer os.Remove(cfg.Global.PidFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, connInfo, err := OpenSession(cfg.Protocol)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialise heat pump session")
		return err
	}
	logger.Info().Str("connection", connInfo).Str("version", session.Version()).Msg("Heat pump session ready")

	m := monitor.New(session, monitor.Options{
		Interval:     cfg.Poll.Interval,
		ErrorBackoff: cfg.Poll.ErrorBackoff,
		CopyInterval: cfg.Copy.Interval,
		SummaryEvery: cfg.Poll.SummaryEvery,
	}, logger)

	collector := metrics.New()
	collector.SetFirmware(session.Version())
	m.AddObserver(collector)
	m.AddSink("metrics", monitor.SinkFunc(func(_ time.Time, r lwz.Result) error {
		collector.Update(r)
		return nil
	}))

	if cfg.Storage.HistoryFile != "" {
		store := history.Open(cfg.Storage.HistoryFile)
		m.AddSink("history", monitor.SinkFunc(func(at time.Time, r lwz.Result) error {
			return store.Append(history.Record{Time: at, Values: r})
		}))
	}

	if cfg.Snapshot.Path != "" {
		w := snapshot.NewWriter(cfg.Snapshot.Path, cfg.Snapshot.Fields)
		m.AddSink("snapshot", monitor.SinkFunc(func(_ time.Time, r lwz.Result) error {
			return w.Write(r)
		}))
	}

	if cfg.MQTT.Broker != "" {
		pub := publish.New(cfg.MQTT, logger)
		if err := pub.Connect(); err != nil {
			return err
		}
		defer pub.Close()
		m.AddSink("mqtt", monitor.SinkFunc(func(_ time.Time, r lwz.Result) error {
			return pub.Publish(r)
		}))
	}

	rep, err := report.New(cfg.Mail, cfg.Reports, nil, logger)
	if err != nil {
		return err
	}
	m.SetChecker(threshold.New(cfg.Threshold.Counters, cfg.Threshold.QueryErrorThreshold, rep, logger))

	if cfg.Copy.Command != "" {
		cp := copier.New(cfg.Copy.Command, logger.With().Str("component", "copy").Logger())
		m.SetCopier(cp)
		defer cp.Wait()
	}

	if cfg.Metrics.Listen != "" {
		server := metrics.NewServer(cfg.Metrics.Listen, collector, 2*cfg.Poll.ErrorBackoff, logger)
		if err := server.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("HTTP server shutdown failed")
			}
		}()
	}

	err = m.Run(ctx)
	logger.Info().Str("statistics", m.Statistics().String()).Msg("Monitor stopped")
	return err
}

// setupDaemonLogging applies the configured level and log file
func setupDaemonLogging(g config.GlobalConfig) (func(), error) {
	level, err := zerolog.ParseLevel(g.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if g.LogFile == "" {
		logger = logger.Level(level)
		return func() {}, nil
	}

	f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger = newLogger(f, level)
	return func() { f.Close() }, nil
}
