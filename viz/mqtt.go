// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package viz

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-lpc/etroc/daq"
	"github.com/go-lpc/etroc/tdc"
)

// Client publishes messages on an MQTT broker.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Dial connects to the MQTT broker at addr (e.g. "tcp://localhost:1883").
func Dial(addr, id string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(addr)
	opts.SetClientID(id)
	opts.SetAutoReconnect(true)

	cli := mqtt.NewClient(opts)
	tok := cli.Connect()
	if !tok.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("viz: could not connect to MQTT broker %q: timeout", addr)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("viz: could not connect to MQTT broker %q: %w", addr, err)
	}
	return cli, nil
}

// Message is the payload published for the hits of a board.
type Message struct {
	Board string       `json:"board"`
	Seq   uint64       `json:"seq"`
	Hits  []tdc.Record `json:"hits"`
}

// Publisher publishes the hits of each batch on an MQTT topic per board.
type Publisher struct {
	cli     Client
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewPublisher returns a publisher sending messages with cli, on the
// "<prefix>/<board-name>" topics.
func NewPublisher(cli Client, prefix string) *Publisher {
	return &Publisher{
		cli:     cli,
		prefix:  prefix,
		timeout: 2 * time.Second,
	}
}

// Topic returns the topic of the hits of a board.
func (pub *Publisher) Topic(board string) string {
	return pub.prefix + "/" + board
}

// Plot publishes the hits of b, one message per board.
func (pub *Publisher) Plot(b daq.Batch) error {
	var (
		order []uint8
		hits  = make(map[uint8][]tdc.Record)
	)
	for _, rec := range b.Records {
		ch, ok := channel(rec)
		if !ok {
			continue
		}
		if _, dup := hits[ch]; !dup {
			order = append(order, ch)
		}
		hits[ch] = append(hits[ch], rec)
	}

	for _, ch := range order {
		name := boardName(b.Boards, ch)
		raw, err := json.Marshal(Message{Board: name, Seq: b.Seq, Hits: hits[ch]})
		if err != nil {
			return fmt.Errorf("viz: could not encode hits of board %q: %w", name, err)
		}

		topic := pub.Topic(name)
		tok := pub.cli.Publish(topic, pub.qos, false, raw)
		if !tok.WaitTimeout(pub.timeout) {
			return fmt.Errorf("viz: could not publish on %q: timeout", topic)
		}
		if err := tok.Error(); err != nil {
			return fmt.Errorf("viz: could not publish on %q: %w", topic, err)
		}
	}
	return nil
}

var (
	_ daq.Plotter = (*Publisher)(nil)
	_ Client      = (mqtt.Client)(nil)
)
