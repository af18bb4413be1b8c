// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
global:
  log_file: /var/log/heatpump.log
  log_level: DEBUG
protocol:
  serial_device: /dev/ttyUSB0
  new_style_serial_communication: true
  version_scale: 2
poll:
  interval: 30s
snapshot:
  path: /var/www/actual_values.json
  fields:
    - name: outside_temp
      unit: "&degC"
    - name: compressor_heating
mail:
  send_mails: true
  smtp_host: mail.example.com
  from_address: pump@example.com
  to_addresses: [me@example.com, you@example.com]
reports:
  counter_increased:
    subject: "{{.Name}} now {{.Actual}}"
copy:
  command: rsync -a /var/www/ host:/srv/
threshold:
  counters: [compressor_heating, compressor_dhw]
  query_error_threshold: 5
mqtt:
  broker: tcp://localhost:1883
  topic: home/heatpump/
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Protocol.SerialDevice)
	assert.True(t, cfg.Protocol.NewStyle)
	assert.Equal(t, 2, cfg.Protocol.Scale())
	assert.Equal(t, DefaultVersionsDirectory, cfg.Protocol.VersionsDirectory)

	assert.Equal(t, 30*time.Second, cfg.Poll.Interval)
	assert.Equal(t, DefaultErrorBackoff, cfg.Poll.ErrorBackoff)

	require.Len(t, cfg.Snapshot.Fields, 2)
	assert.Equal(t, SnapshotField{Name: "outside_temp", Unit: "&degC"}, cfg.Snapshot.Fields[0])

	assert.Equal(t, DefaultSMTPPort, cfg.Mail.Port)
	assert.Equal(t, []string{"me@example.com", "you@example.com"}, cfg.Mail.To)

	assert.Equal(t, "{{.Name}} now {{.Actual}}", cfg.Reports.CounterIncreased.Subject)
	assert.Equal(t, defaultReports.CounterIncreased.Body, cfg.Reports.CounterIncreased.Body)
	assert.Equal(t, defaultReports.CounterDecreased, cfg.Reports.CounterDecreased)

	assert.Equal(t, 1, cfg.Copy.Interval)
	assert.Equal(t, []string{"compressor_heating", "compressor_dhw"}, cfg.Threshold.Counters)
	assert.Equal(t, 5, cfg.Threshold.QueryErrorThreshold)

	assert.Equal(t, "home/heatpump", cfg.MQTT.Topic)
	assert.Equal(t, DefaultMQTTClientID, cfg.MQTT.ClientID)
	require.NotNil(t, cfg.MQTT.Retain)
	assert.True(t, *cfg.MQTT.Retain)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultSerialDevice, cfg.Protocol.SerialDevice)
	assert.Equal(t, 0, cfg.Protocol.Scale())
	assert.Equal(t, DefaultPollInterval, cfg.Poll.Interval)
	assert.Equal(t, "info", cfg.Global.LogLevel)
	assert.Equal(t, 0, cfg.Copy.Interval)
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("protocol:\n  serial_devise: /dev/ttyS1\n"))
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative interval", "poll:\n  interval: -1s\n"},
		{"bad log level", "global:\n  log_level: loud\n"},
		{"negative version scale", "protocol:\n  version_scale: -1\n"},
		{"mail without host", "mail:\n  send_mails: true\n  from_address: a@b\n  to_addresses: [c@d]\n"},
		{"mail without recipients", "mail:\n  send_mails: true\n  smtp_host: h\n  from_address: a@b\n"},
		{"broken template", "reports:\n  counter_decreased:\n    body: \"{{.Name\"\n"},
		{"duplicate snapshot field", "snapshot:\n  fields:\n    - name: a\n    - name: a\n"},
		{"negative threshold", "threshold:\n  query_error_threshold: -2\n"},
		{"negative copy interval", "copy:\n  interval: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heatpump.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/log/heatpump.log", cfg.Global.LogFile)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNormalize_Idempotent(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	before := *cfg
	Normalize(cfg)
	assert.Equal(t, before.MQTT.Topic, cfg.MQTT.Topic)
	assert.Equal(t, before.Reports, cfg.Reports)
	assert.NoError(t, Validate(cfg))
}
