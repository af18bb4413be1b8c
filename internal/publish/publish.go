// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish sends poll results to an MQTT broker
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/heatpumpmon/internal/config"
	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

// PublishTimeout bounds the wait for a single publish acknowledgement
const PublishTimeout = 5 * time.Second

// Client is the part of mqtt.Client the publisher uses
type Client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// Publisher writes every field to <topic>/<field> and the full result as
// JSON to <topic>/state. <topic>/status carries online/offline.
type Publisher struct {
	client  Client
	topic   string
	retain  bool
	timeout time.Duration
	log     zerolog.Logger
}

// New creates a publisher connected through paho with auto reconnect
func New(cfg config.MQTTConfig, log zerolog.Logger) *Publisher {
	log = log.With().Str("component", "mqtt").Logger()
	status := cfg.Topic + "/status"

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetWill(status, "offline", 0, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")
		c.Publish(status, 0, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	retain := true
	if cfg.Retain != nil {
		retain = *cfg.Retain
	}
	return NewWithClient(mqtt.NewClient(opts), cfg.Topic, retain, log)
}

// NewWithClient creates a publisher on an existing client
func NewWithClient(client Client, topic string, retain bool, log zerolog.Logger) *Publisher {
	return &Publisher{
		client:  client,
		topic:   topic,
		retain:  retain,
		timeout: PublishTimeout,
		log:     log,
	}
}

// Connect starts the connection. A broker that is not reachable yet is
// retried in the background.
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.timeout) {
		p.log.Warn().Msg("Could not connect to MQTT initially, will retry in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Publish sends one poll result
func (p *Publisher) Publish(result lwz.Result) error {
	var errs []error
	for _, name := range result.SortedKeys() {
		if err := p.send(p.topic+"/"+name, lwz.FormatValue(result[name])); err != nil {
			errs = append(errs, err)
		}
	}

	state, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := p.send(p.topic+"/state", state); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Publisher) send(topic string, payload interface{}) error {
	token := p.client.Publish(topic, 0, p.retain, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Close marks the monitor offline and disconnects
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		if err := p.send(p.topic+"/status", "offline"); err != nil {
			p.log.Warn().Err(err).Msg("Failed to publish offline status")
		}
	}
	p.client.Disconnect(250)
}
