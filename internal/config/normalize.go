// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"strings"
	"time"
)

// Defaults
const (
	DefaultSerialDevice      = "/dev/ttyS0"
	DefaultVersionsDirectory = "/usr/local/share/heatpump/protocolVersions"
	DefaultPollInterval      = 60 * time.Second
	DefaultErrorBackoff      = 120 * time.Second
	DefaultSMTPPort          = 25
	DefaultMQTTTopic         = "heatpump"
	DefaultMQTTClientID      = "heatpumpmon"
)

var defaultReports = ReportsConfig{
	QueryErrorThresholdExceeded: ReportTemplate{
		Subject: "heat pump: query error threshold exceeded",
		Body:    "The heat pump did not answer several consecutive queries.\n",
	},
	CounterDecreased: ReportTemplate{
		Subject: "heat pump: {{.Name}} decreased",
		Body:    "{{.Name}} went down from {{.Reference}} to {{.Actual}}.\n",
	},
	CounterIncreased: ReportTemplate{
		Subject: "heat pump: {{.Name}} increased",
		Body:    "{{.Name}} went up from {{.Reference}} to {{.Actual}}.\n",
	},
}

// Normalize fills unset values with defaults. It is safe to call more than once.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Global.LogLevel == "" {
		cfg.Global.LogLevel = "info"
	}
	cfg.Global.LogLevel = strings.ToLower(cfg.Global.LogLevel)

	if cfg.Protocol.SerialDevice == "" {
		cfg.Protocol.SerialDevice = DefaultSerialDevice
	}
	if cfg.Protocol.VersionsDirectory == "" {
		cfg.Protocol.VersionsDirectory = DefaultVersionsDirectory
	}

	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = DefaultPollInterval
	}
	if cfg.Poll.ErrorBackoff == 0 {
		cfg.Poll.ErrorBackoff = DefaultErrorBackoff
	}

	if cfg.Mail.Port == 0 {
		cfg.Mail.Port = DefaultSMTPPort
	}

	normalizeTemplate(&cfg.Reports.QueryErrorThresholdExceeded, defaultReports.QueryErrorThresholdExceeded)
	normalizeTemplate(&cfg.Reports.CounterDecreased, defaultReports.CounterDecreased)
	normalizeTemplate(&cfg.Reports.CounterIncreased, defaultReports.CounterIncreased)

	if cfg.Copy.Command != "" && cfg.Copy.Interval == 0 {
		cfg.Copy.Interval = 1
	}

	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = DefaultMQTTTopic
	}
	cfg.MQTT.Topic = strings.TrimRight(cfg.MQTT.Topic, "/")
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultMQTTClientID
	}
	if cfg.MQTT.Retain == nil {
		retain := true
		cfg.MQTT.Retain = &retain
	}
}

func normalizeTemplate(t *ReportTemplate, def ReportTemplate) {
	if t.Subject == "" {
		t.Subject = def.Subject
	}
	if t.Body == "" {
		t.Body = def.Body
	}
}

// Scale returns the configured version scale, 0 when unset
func (p ProtocolConfig) Scale() int {
	if p.VersionScale == nil {
		return 0
	}
	return *p.VersionScale
}
