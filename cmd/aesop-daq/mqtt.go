// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"path"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-lpc/aesop/daq"
)

const mqttTimeout = 5 * time.Second

// publisher publishes the housekeeping records on a MQTT broker, under
// <prefix>/<topic>.
type publisher struct {
	cli    paho.Client
	prefix string
}

func newPublisher(cfg daq.MQTT) (*publisher, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true)

	cli := paho.NewClient(opts)
	tok := cli.Connect()
	if !tok.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("could not connect to %q: timeout", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("could not connect to %q: %w", cfg.Broker, err)
	}

	return &publisher{cli: cli, prefix: cfg.Topic}, nil
}

func (pub *publisher) Publish(topic string, payload []byte) error {
	tok := pub.cli.Publish(path.Join(pub.prefix, topic), 0, false, payload)
	if !tok.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("could not publish on %q: timeout", topic)
	}
	return tok.Error()
}

func (pub *publisher) Close() {
	pub.cli.Disconnect(250)
}

var _ daq.Publisher = (*publisher)(nil)
