// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/heatpumpmon/internal/config"
)

type sentMail struct {
	from string
	to   []string
	msg  string
}

type fakeSender struct {
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(from string, to []string, msg []byte) error {
	f.sent = append(f.sent, sentMail{from: from, to: to, msg: string(msg)})
	return f.err
}

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

const mailConfig = `
mail:
  send_mails: true
  smtp_host: mail.example.com
  from_address: pump@example.com
  to_addresses: [me@example.com, you@example.com]
`

func TestReport_Mail(t *testing.T) {
	cfg := testConfig(t, mailConfig)
	sender := &fakeSender{}
	r, err := New(cfg.Mail, cfg.Reports, sender, zerolog.Nop())
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, r.CounterIncreased("compressor", int64(100), int64(101)))
	require.Len(t, sender.sent, 1)

	m := sender.sent[0]
	assert.Equal(t, "pump@example.com", m.from)
	assert.Equal(t, []string{"me@example.com", "you@example.com"}, m.to)
	assert.Contains(t, m.msg, "Subject: heat pump: compressor increased\r\n")
	assert.Contains(t, m.msg, "To: me@example.com,you@example.com\r\n")
	assert.Contains(t, m.msg, "Date: Fri, 01 Mar 2024 12:00:00 +0000\r\n")
	assert.True(t, strings.HasSuffix(m.msg, "\r\n\r\ncompressor went up from 100 to 101.\r\n"))
}

func TestReport_AuthUserIsEnvelopeSender(t *testing.T) {
	cfg := testConfig(t, mailConfig+"  smtp_auth_user: relay-user\n")
	sender := &fakeSender{}
	r, err := New(cfg.Mail, cfg.Reports, sender, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, r.QueryErrorThresholdExceeded())
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "relay-user", sender.sent[0].from)
	assert.Contains(t, sender.sent[0].msg, "From: pump@example.com\r\n")
}

func TestReport_SendError(t *testing.T) {
	cfg := testConfig(t, mailConfig)
	sender := &fakeSender{err: errors.New("connection refused")}
	r, err := New(cfg.Mail, cfg.Reports, sender, zerolog.Nop())
	require.NoError(t, err)

	assert.Error(t, r.CounterDecreased("compressor", int64(5), int64(1)))
}

func TestReport_LogWhenMailDisabled(t *testing.T) {
	cfg := testConfig(t, "")
	var buf bytes.Buffer
	r, err := New(cfg.Mail, cfg.Reports, nil, zerolog.New(&buf))
	require.NoError(t, err)

	require.NoError(t, r.CounterDecreased("compressor", 5.5, 1.0))
	assert.Contains(t, buf.String(), `"subject":"heat pump: compressor decreased"`)
	assert.Contains(t, buf.String(), "went down from 5.5 to 1")
}

func TestReport_CustomTemplates(t *testing.T) {
	cfg := testConfig(t, mailConfig+`
reports:
  counter_decreased:
    subject: "{{.Name}}: {{.Reference}} > {{.Actual}}"
    body: "check the pump"
`)
	sender := &fakeSender{}
	r, err := New(cfg.Mail, cfg.Reports, sender, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, r.CounterDecreased("dhw", int64(9), int64(2)))
	assert.Contains(t, sender.sent[0].msg, "Subject: dhw: 9 > 2\r\n")
	assert.True(t, strings.HasSuffix(sender.sent[0].msg, "\r\n\r\ncheck the pump"))
}

func TestNew_BadTemplate(t *testing.T) {
	_, err := New(config.MailConfig{}, config.ReportsConfig{
		CounterIncreased: config.ReportTemplate{Subject: "{{.Name"},
	}, nil, zerolog.Nop())
	assert.Error(t, err)
}
