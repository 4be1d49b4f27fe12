// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tdc decodes the binary stream of ETROC readout boards into
// TDC records.
//
// The readout board delivers 32-bit lines. A line is either an ETROC1
// hit, a control (timing) record or a 28-bit fragment of a 40-bit ETROC2
// word. ETROC2 fragments are reassembled per channel, classified and
// grouped until the channel's frame trailer is seen.
package tdc // import "github.com/go-lpc/etroc/tdc"

import (
	"golang.org/x/xerrors"
)

const (
	NumChannels = 4 // number of channels multiplexed on a readout link

	LineWidth    = 32 // width of a readout line
	WordWidth    = 40 // width of an ETROC2 word
	PatternWidth = 18 // width of the ETROC2 word pattern

	etroc1Width  = 29 // width of an ETROC1 payload
	etroc2Width  = 28 // width of an ETROC2 fragment
	controlWidth = 26 // width of a control payload
	boardIDWidth = 17 // width of an ETROC2 board identity
)

const (
	frameMarker = 0x1e5c // 001111001011100

	headerPattern   = frameMarker<<2 | 0x0 // frame header
	framePattern    = frameMarker<<2 | 0x1 // frame filler
	firmwarePattern = frameMarker<<2 | 0x3 // firmware filler
)

var (
	// ErrLengthMismatch is reported when a payload or a word does not have
	// the expected number of bits. Decoding proceeds with the available bits.
	ErrLengthMismatch = xerrors.New("tdc: length mismatch")

	// ErrReassemblyOverflow is returned when a channel buffer holds more
	// bits than an ETROC2 word. The reassembly of that stream can not be
	// trusted anymore.
	ErrReassemblyOverflow = xerrors.New("tdc: reassembly overflow")

	// ErrInvalidBoard is returned when a board identity is malformed or
	// collides with one of the ETROC2 frame patterns.
	ErrInvalidBoard = xerrors.New("tdc: invalid board")

	// ErrNoTrailer is reported when ETROC2 words are read out on a channel
	// without ETROC2 board identity. Frames of that channel never close.
	ErrNoTrailer = xerrors.New("tdc: no trailer identity")
)

// Chip generations.
const (
	ETROC1 = 1
	ETROC2 = 2
)

// Board describes a readout board plugged on a channel of the link.
type Board struct {
	Name string `json:"name" yaml:"name"`
	Type int    `json:"type" yaml:"type"` // chip generation
	Size int    `json:"size" yaml:"size"` // number of pixels
	ID   string `json:"id"   yaml:"id"`   // 17-bit identity, matched against frame trailers
}

// DefaultBoards returns the boards of the reference test stand.
func DefaultBoards() []Board {
	return []Board{
		{Name: "F28", Type: ETROC2, Size: 256, ID: "10111111100001111"},
		{Name: "F29", Type: ETROC1, Size: 16, ID: "00000000000000000"},
		{Name: "F30", Type: ETROC1, Size: 16, ID: "00000000000000000"},
		{Name: "F47", Type: ETROC1, Size: 16, ID: "00000000000000000"},
	}
}

// Option configures the decoding of a stream.
type Option func(*config)

type config struct {
	timestamp uint16
	warn      func(err error)
}

func newConfig(opts []Option) config {
	cfg := config{
		warn: func(error) {},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithTimestamp sets the timestamp/testmode register value the readout
// board was configured with.
func WithTimestamp(v uint16) Option {
	return func(cfg *config) {
		cfg.timestamp = v
	}
}

// WithWarn sets the function called with non-fatal decoding errors.
func WithWarn(f func(err error)) Option {
	return func(cfg *config) {
		if f == nil {
			f = func(error) {}
		}
		cfg.warn = f
	}
}
