// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"github.com/go-lpc/etroc/tdc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the counters of the acquisition pipeline as
// Prometheus metrics.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	chunks  prometheus.Counter
	words   *prometheus.CounterVec
	records *prometheus.CounterVec
	dropped prometheus.Counter
	state   *prometheus.GaugeVec
}

// NewMetrics creates and registers the pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		chunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "etroc",
			Name:      "chunks_total",
			Help:      "Number of chunks read from the readout link.",
		}),
		words: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etroc",
			Name:      "lines_total",
			Help:      "Number of readout lines processed, per stage.",
		}, []string{"stage"}),
		records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etroc",
			Name:      "records_total",
			Help:      "Number of decoded records, per record kind.",
		}, []string{"kind"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "etroc",
			Name:      "viz_dropped_batches_total",
			Help:      "Number of batches dropped by the visualization feed.",
		}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "etroc",
			Name:      "stage_state",
			Help:      "State of a pipeline stage (0:idle, 1:running, 2:draining, 3:stopped).",
		}, []string{"stage"}),
	}
}

func (m *Metrics) addChunk(words int) {
	if m == nil {
		return
	}
	m.chunks.Inc()
	m.words.WithLabelValues(Receive.String()).Add(float64(words))
}

func (m *Metrics) addWords(stage Stage, n int) {
	if m == nil {
		return
	}
	m.words.WithLabelValues(stage.String()).Add(float64(n))
}

func (m *Metrics) addRecords(recs []tdc.Record) {
	if m == nil {
		return
	}
	for _, rec := range recs {
		m.records.WithLabelValues(rec.Kind().String()).Inc()
	}
}

func (m *Metrics) addDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) setState(stage Stage, state State) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(stage.String()).Set(float64(state))
}
