// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config holds the monitor daemon configuration
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML configuration file
type Config struct {
	Global    GlobalConfig    `yaml:"global"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Poll      PollConfig      `yaml:"poll"`
	Storage   StorageConfig   `yaml:"storage"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Mail      MailConfig      `yaml:"mail"`
	Reports   ReportsConfig   `yaml:"reports"`
	Copy      CopyConfig      `yaml:"copy"`
	Threshold ThresholdConfig `yaml:"threshold"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

type GlobalConfig struct {
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
	PidFile  string `yaml:"pid_file"`
}

type ProtocolConfig struct {
	SerialDevice      string `yaml:"serial_device"`
	NewStyle          bool   `yaml:"new_style_serial_communication"`
	VersionsDirectory string `yaml:"protocol_versions_directory"`
	// VersionScale is the decimal scale of the firmware version number
	VersionScale      *int   `yaml:"version_scale"`
	LenientFieldKinds bool   `yaml:"lenient_field_kinds"`

	// WebSocketURL reaches the controller through a network serial bridge
	// instead of SerialDevice
	WebSocketURL      string `yaml:"websocket_url"`
	WebSocketUsername string `yaml:"websocket_username"`
	NoSSLVerify       bool   `yaml:"no_ssl_verify"`
}

type PollConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
	// SummaryEvery logs cycle statistics every N cycles, 0 disables
	SummaryEvery int `yaml:"summary_every"`
}

type StorageConfig struct {
	HistoryFile string `yaml:"history_file"`
}

type SnapshotConfig struct {
	Path   string          `yaml:"path"`
	Fields []SnapshotField `yaml:"fields"`
}

// SnapshotField selects one value for the snapshot file.
// A non-empty Unit renders the value as text with the unit appended.
type SnapshotField struct {
	Name string `yaml:"name"`
	Unit string `yaml:"unit"`
}

type MailConfig struct {
	SendMails bool     `yaml:"send_mails"`
	Host      string   `yaml:"smtp_host"`
	Port      int      `yaml:"smtp_port"`
	StartTLS  bool     `yaml:"smtp_use_tls"`
	Username  string   `yaml:"smtp_auth_user"`
	Password  string   `yaml:"smtp_auth_pass"`
	From      string   `yaml:"from_address"`
	To        []string `yaml:"to_addresses"`
}

// ReportTemplate is a text/template pair. Counter reports see
// .Name, .Reference and .Actual.
type ReportTemplate struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type ReportsConfig struct {
	QueryErrorThresholdExceeded ReportTemplate `yaml:"query_error_threshold_exceeded"`
	CounterDecreased            ReportTemplate `yaml:"counter_decreased"`
	CounterIncreased            ReportTemplate `yaml:"counter_increased"`
}

type CopyConfig struct {
	Command string `yaml:"command"`
	// Interval runs Command every N successful cycles
	Interval int `yaml:"interval"`
}

type ThresholdConfig struct {
	Counters            []string `yaml:"counters"`
	QueryErrorThreshold int      `yaml:"query_error_threshold"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Retain   *bool  `yaml:"retain"`
}

// Load reads, normalizes and validates the configuration file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration. Unknown keys are rejected and an empty
// document yields the defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	Normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
