// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"text/template"

	"github.com/rs/zerolog"
)

// Validate checks configuration correctness. It does not mutate cfg.
func Validate(cfg *Config) error {
	if _, err := zerolog.ParseLevel(cfg.Global.LogLevel); err != nil {
		return fmt.Errorf("global: invalid log_level %q", cfg.Global.LogLevel)
	}

	if cfg.Protocol.VersionScale != nil && *cfg.Protocol.VersionScale < 0 {
		return fmt.Errorf("protocol: version_scale must be >= 0, got %d", *cfg.Protocol.VersionScale)
	}

	if cfg.Poll.Interval <= 0 {
		return fmt.Errorf("poll: interval must be > 0, got %s", cfg.Poll.Interval)
	}
	if cfg.Poll.ErrorBackoff <= 0 {
		return fmt.Errorf("poll: error_backoff must be > 0, got %s", cfg.Poll.ErrorBackoff)
	}
	if cfg.Poll.SummaryEvery < 0 {
		return fmt.Errorf("poll: summary_every must be >= 0, got %d", cfg.Poll.SummaryEvery)
	}

	seen := make(map[string]bool)
	for _, f := range cfg.Snapshot.Fields {
		if f.Name == "" {
			return fmt.Errorf("snapshot: field without name")
		}
		if seen[f.Name] {
			return fmt.Errorf("snapshot: field %q listed twice", f.Name)
		}
		seen[f.Name] = true
	}

	if cfg.Mail.SendMails {
		if cfg.Mail.Host == "" {
			return fmt.Errorf("mail: smtp_host is required when send_mails is set")
		}
		if cfg.Mail.From == "" {
			return fmt.Errorf("mail: from_address is required when send_mails is set")
		}
		if len(cfg.Mail.To) == 0 {
			return fmt.Errorf("mail: to_addresses is required when send_mails is set")
		}
	}
	if cfg.Mail.Port <= 0 || cfg.Mail.Port > 65535 {
		return fmt.Errorf("mail: invalid smtp_port %d", cfg.Mail.Port)
	}

	templates := map[string]ReportTemplate{
		"query_error_threshold_exceeded": cfg.Reports.QueryErrorThresholdExceeded,
		"counter_decreased":              cfg.Reports.CounterDecreased,
		"counter_increased":              cfg.Reports.CounterIncreased,
	}
	for name, t := range templates {
		if _, err := template.New(name).Parse(t.Subject); err != nil {
			return fmt.Errorf("reports: %s subject: %w", name, err)
		}
		if _, err := template.New(name).Parse(t.Body); err != nil {
			return fmt.Errorf("reports: %s body: %w", name, err)
		}
	}

	if cfg.Copy.Interval < 0 {
		return fmt.Errorf("copy: interval must be >= 0, got %d", cfg.Copy.Interval)
	}

	if cfg.Threshold.QueryErrorThreshold < 0 {
		return fmt.Errorf("threshold: query_error_threshold must be >= 0, got %d", cfg.Threshold.QueryErrorThreshold)
	}

	if cfg.MQTT.Broker != "" && cfg.MQTT.Topic == "" {
		return fmt.Errorf("mqtt: topic is required when broker is set")
	}

	return nil
}
