// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package report renders threshold events and delivers them by mail or log
package report

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/heatpumpmon/internal/config"
)

// Sender delivers a complete RFC 5322 message
type Sender interface {
	Send(from string, to []string, msg []byte) error
}

// Event is the data a report template sees
type Event struct {
	Name      string
	Reference interface{}
	Actual    interface{}
}

type pair struct {
	subject *template.Template
	body    *template.Template
}

// Report implements threshold.Reporter
type Report struct {
	mail   config.MailConfig
	sender Sender
	log    zerolog.Logger
	now    func() time.Time

	queryErrors pair
	decreased   pair
	increased   pair
}

// New parses the report templates. sender may be nil when mails are disabled;
// otherwise nil selects SMTP delivery with the mail settings.
func New(mail config.MailConfig, reports config.ReportsConfig, sender Sender, log zerolog.Logger) (*Report, error) {
	r := &Report{
		mail:   mail,
		sender: sender,
		log:    log,
		now:    time.Now,
	}
	if r.sender == nil && mail.SendMails {
		r.sender = &SMTPSender{Config: mail}
	}

	var err error
	if r.queryErrors, err = parsePair("query_error_threshold_exceeded", reports.QueryErrorThresholdExceeded); err != nil {
		return nil, err
	}
	if r.decreased, err = parsePair("counter_decreased", reports.CounterDecreased); err != nil {
		return nil, err
	}
	if r.increased, err = parsePair("counter_increased", reports.CounterIncreased); err != nil {
		return nil, err
	}
	return r, nil
}

func parsePair(name string, t config.ReportTemplate) (pair, error) {
	subject, err := template.New(name + ".subject").Parse(t.Subject)
	if err != nil {
		return pair{}, fmt.Errorf("report %s subject: %w", name, err)
	}
	body, err := template.New(name + ".body").Parse(t.Body)
	if err != nil {
		return pair{}, fmt.Errorf("report %s body: %w", name, err)
	}
	return pair{subject: subject, body: body}, nil
}

// QueryErrorThresholdExceeded reports that the controller stopped answering
func (r *Report) QueryErrorThresholdExceeded() error {
	return r.send(r.queryErrors, Event{})
}

// CounterDecreased reports a counter that went down
func (r *Report) CounterDecreased(name string, reference, actual interface{}) error {
	return r.send(r.decreased, Event{Name: name, Reference: reference, Actual: actual})
}

// CounterIncreased reports a counter that went up
func (r *Report) CounterIncreased(name string, reference, actual interface{}) error {
	return r.send(r.increased, Event{Name: name, Reference: reference, Actual: actual})
}

func (r *Report) send(p pair, ev Event) error {
	var subject, body bytes.Buffer
	if err := p.subject.Execute(&subject, ev); err != nil {
		return fmt.Errorf("render subject: %w", err)
	}
	if err := p.body.Execute(&body, ev); err != nil {
		return fmt.Errorf("render body: %w", err)
	}

	if !r.mail.SendMails {
		r.log.Error().
			Str("subject", subject.String()).
			Str("details", body.String()).
			Msg("Report")
		return nil
	}

	from := r.mail.From
	if r.mail.Username != "" {
		from = r.mail.Username
	}
	msg := r.buildMessage(subject.String(), body.String())
	if err := r.sender.Send(from, r.mail.To, msg); err != nil {
		return fmt.Errorf("send report mail: %w", err)
	}
	r.log.Info().Str("subject", subject.String()).Strs("to", r.mail.To).Msg("Report mailed")
	return nil
}

func (r *Report) buildMessage(subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", r.mail.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(r.mail.To, ","))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", r.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return b.Bytes()
}

// SMTPSender delivers mail through an SMTP relay, with optional STARTTLS and
// PLAIN authentication.
type SMTPSender struct {
	Config config.MailConfig
}

// Send implements Sender
func (s *SMTPSender) Send(from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(s.Config.Host, strconv.Itoa(s.Config.Port))
	c, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	if s.Config.StartTLS {
		if err := c.StartTLS(&tls.Config{ServerName: s.Config.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.Config.Username != "" {
		auth := smtp.PlainAuth("", s.Config.Username, s.Config.Password, s.Config.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
