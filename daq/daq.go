// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq implements the acquisition pipeline of ETROC readout boards.
//
// The pipeline runs four stages concurrently:
//   - receive reads chunks of 32-bit lines from the readout link,
//   - persist writes raw chunks and translated records to disk,
//   - translate decodes chunks into TDC records,
//   - visualize hands batches of hits to a plotter.
//
// Stages are connected by bounded queues. When the acquisition stops,
// the stages stop in order (receive, translate, persist, visualize) and
// each of them drains its input queue before stopping.
package daq // import "github.com/go-lpc/etroc/daq"

import (
	"fmt"
	"sync/atomic"

	"github.com/go-lpc/etroc/tdc"
)

const (
	// MaxChunkSize is the maximum number of lines read from the link in
	// one call.
	MaxChunkSize = 65536
)

// Chunk is a sequence of readout lines, as read from the link.
type Chunk struct {
	Seq       uint64   // sequence number of the chunk in the run
	Timestamp uint16   // timestamp/testmode register value
	Words     []uint32 // readout lines
}

// Batch is a sequence of decoded records.
type Batch struct {
	Seq     uint64       // sequence number of the chunk the records were decoded from
	Records []tdc.Record // decoded records
	Boards  []tdc.Board  // boards of the link, indexed by channel
}

// Stage identifies a stage of the acquisition pipeline.
type Stage uint8

const (
	Receive Stage = iota
	Persist
	Translate
	Visualize

	numStages
)

func (s Stage) String() string {
	switch s {
	case Receive:
		return "receive"
	case Persist:
		return "persist"
	case Translate:
		return "translate"
	case Visualize:
		return "visualize"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// State is the state of a pipeline stage.
type State int32

const (
	Idle     State = iota // stage not started
	Running               // stage processing its input
	Draining              // stage input closed, flushing
	Stopped               // stage done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats holds the counters of an acquisition run.
type Stats struct {
	Chunks     uint64 `json:"chunks"`     // chunks received
	Words      uint64 `json:"words"`      // lines received
	Persisted  uint64 `json:"persisted"`  // lines written to the raw output
	Translated uint64 `json:"translated"` // lines translated
	Records    uint64 `json:"records"`    // records decoded
	Batches    uint64 `json:"batches"`    // batches written to the translated output
	Plotted    uint64 `json:"plotted"`    // batches handed to the plotter
	Dropped    uint64 `json:"dropped"`    // batches dropped by the visualization feed
	Discarded  uint64 `json:"discarded"`  // lines discarded after a translation failure
	Open       uint64 `json:"open"`       // records without trailer at the end of the run
}

type counters struct {
	chunks     atomic.Uint64
	words      atomic.Uint64
	persisted  atomic.Uint64
	translated atomic.Uint64
	records    atomic.Uint64
	batches    atomic.Uint64
	plotted    atomic.Uint64
	dropped    atomic.Uint64
	discarded  atomic.Uint64
	open       atomic.Uint64
}

func (c *counters) stats() Stats {
	return Stats{
		Chunks:     c.chunks.Load(),
		Words:      c.words.Load(),
		Persisted:  c.persisted.Load(),
		Translated: c.translated.Load(),
		Records:    c.records.Load(),
		Batches:    c.batches.Load(),
		Plotted:    c.plotted.Load(),
		Dropped:    c.dropped.Load(),
		Discarded:  c.discarded.Load(),
		Open:       c.open.Load(),
	}
}

// Plotter consumes batches of hits for live display.
type Plotter interface {
	Plot(b Batch) error
}

// isHit returns whether rec is a pixel hit.
func isHit(rec tdc.Record) bool {
	switch rec.Kind() {
	case tdc.KindData, tdc.KindHit:
		return true
	}
	return false
}
