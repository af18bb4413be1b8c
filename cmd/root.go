// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/heatpumpmon/internal/config"
)

var (
	configPath string
	debug      bool

	// Serial connection flags
	portName     string
	newStyle     bool
	versionsDir  string
	versionScale int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "heatpumpmon",
	Short: "LWZ heat pump monitor",
	Long: `heatpumpmon - Read-only monitor for LWZ heat pump controllers.

Queries the controller's firmware version, binds the matching protocol
description from a directory of version files and decodes the values of every
configured query. Nothing is ever written to the controller.

Connection modes:
  Serial:    --port /dev/ttyS0 [--new-style]
  WebSocket: --url ws://host/path [--username user]

Settings are read from the YAML file given with --config. Flags override the
file for the current invocation.

For WebSocket authentication, the password is read from the HEATPUMP_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().BoolVar(&newStyle, "new-style", false, "Use the fixed 57600 baud mode of newer firmware")
	rootCmd.PersistentFlags().StringVar(&versionsDir, "versions", "", "Directory of protocol version files")
	rootCmd.PersistentFlags().IntVar(&versionScale, "version-scale", 0, "Decimal scale of the firmware version number")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// setupLogging writes human readable logs to a terminal and JSON otherwise
func setupLogging(cmd *cobra.Command, _ []string) error {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger = newLogger(os.Stderr, level)
	return nil
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// loadSettings reads the configuration file when given and applies the
// connection flags set on the command line
func loadSettings(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	p := &cfg.Protocol
	if flags.Changed("port") {
		p.SerialDevice = portName
	}
	if flags.Changed("new-style") {
		p.NewStyle = newStyle
	}
	if flags.Changed("versions") {
		p.VersionsDirectory = versionsDir
	}
	if flags.Changed("version-scale") {
		if versionScale < 0 {
			return nil, fmt.Errorf("--version-scale must not be negative")
		}
		scale := versionScale
		p.VersionScale = &scale
	}
	if flags.Changed("url") {
		p.WebSocketURL = wsURL
	}
	if flags.Changed("username") {
		p.WebSocketUsername = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		p.NoSSLVerify = wsNoSSLVerify
	}
	if debug {
		cfg.Global.LogLevel = zerolog.DebugLevel.String()
	}
	return cfg, nil
}
