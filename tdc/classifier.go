// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"golang.org/x/xerrors"
)

// Family is the family of a readout line, selected by its leading bits.
type Family uint8

const (
	FamilyETROC1  Family = iota // ETROC1 hit
	FamilyControl               // control and timing record
	FamilyETROC2                // ETROC2 word fragment
)

func (f Family) String() string {
	switch f {
	case FamilyETROC1:
		return "etroc1"
	case FamilyControl:
		return "control"
	case FamilyETROC2:
		return "etroc2"
	default:
		return "invalid"
	}
}

// rule matches the 18-bit pattern of an ETROC2 word.
type rule struct {
	kind   Kind
	match  func(ch uint8, pattern uint64) bool
	decode func(ch uint8, w Bits) Record
}

// Classifier decodes readout lines and ETROC2 words into records.
type Classifier struct {
	cfg      config
	trailers map[uint8]uint64 // trailer pattern per channel
	orphans  map[uint8]bool   // channels already reported without trailer pattern
	rules    []rule
}

// NewClassifier returns a classifier for the boards plugged on the link.
// The i-th board is read out on channel i.
func NewClassifier(boards []Board, opts ...Option) (*Classifier, error) {
	if len(boards) > NumChannels {
		return nil, xerrors.Errorf(
			"tdc: too many boards (got=%d, max=%d): %w",
			len(boards), NumChannels, ErrInvalidBoard,
		)
	}

	cls := &Classifier{
		cfg:      newConfig(opts),
		trailers: make(map[uint8]uint64, len(boards)),
		orphans:  make(map[uint8]bool),
	}
	for i, board := range boards {
		switch board.Type {
		case ETROC1:
			continue
		case ETROC2:
		default:
			return nil, xerrors.Errorf(
				"tdc: board %q has invalid chip type %d: %w",
				board.Name, board.Type, ErrInvalidBoard,
			)
		}
		id, err := ParseBits(board.ID)
		if err != nil || id.Len() != boardIDWidth {
			return nil, xerrors.Errorf(
				"tdc: board %q has invalid identity %q (want %d bits): %w",
				board.Name, board.ID, boardIDWidth, ErrInvalidBoard,
			)
		}
		switch id.Uint() {
		case headerPattern, framePattern, firmwarePattern:
			return nil, xerrors.Errorf(
				"tdc: board %q identity %q collides with a frame pattern: %w",
				board.Name, board.ID, ErrInvalidBoard,
			)
		}
		cls.trailers[uint8(i)] = id.Uint()
	}

	cls.rules = []rule{
		{
			kind:   KindHeader,
			match:  func(_ uint8, p uint64) bool { return p == headerPattern },
			decode: decodeHeader,
		},
		{
			kind: KindTrailer,
			match: func(ch uint8, p uint64) bool {
				id, ok := cls.trailers[ch]
				return ok && p == id
			},
			decode: decodeTrailer,
		},
		{
			kind:   KindFrameFiller,
			match:  func(_ uint8, p uint64) bool { return p == framePattern },
			decode: decodeFrameFiller,
		},
		{
			kind:   KindFirmwareFiller,
			match:  func(_ uint8, p uint64) bool { return p == firmwarePattern },
			decode: decodeFirmwareFiller,
		},
	}

	return cls, nil
}

// Family returns the family of a readout line.
func (cls *Classifier) Family(line Bits) Family {
	switch {
	case cls.cfg.timestamp == 1:
		// testmode and timestamp disabled: ETROC1 data only.
		return FamilyETROC1
	case line.Bit(0) == 0:
		return FamilyETROC1
	case line.Bit(1) == 0:
		return FamilyControl
	default:
		return FamilyETROC2
	}
}

// Legacy decodes an ETROC1 line.
func (cls *Classifier) Legacy(line Bits) Hit {
	var (
		ch   uint64
		data Bits
	)
	switch cls.cfg.timestamp {
	case 1, 3:
		ch = line.Field(0, 2)
		data = line.Slice(2, line.Len()-1) // drop the hit flag.
	default:
		ch = line.Field(1, 3)
		data = line.Slice(3, line.Len())
	}
	if data.Len() != etroc1Width {
		cls.cfg.warn(xerrors.Errorf(
			"tdc: ETROC1 payload %v has %d bits (want=%d): %w",
			data, data.Len(), etroc1Width, ErrLengthMismatch,
		))
	}
	return Hit{
		Chan: uint8(ch),
		TOT:  uint32(data.Field(0, 9)),
		TOA:  uint32(data.Field(9, 19)),
		CAL:  uint32(data.Field(19, data.Len())),
	}
}

// Control decodes a control line.
// Control returns false for lines that do not carry a timing record.
func (cls *Classifier) Control(line Bits) (Timing, bool) {
	if line.Len() < 6 || line.Field(2, 4) != 0 {
		return Timing{}, false
	}
	var (
		code = TimeCode(line.Field(4, 6))
		data = line.Slice(6, line.Len())
	)
	if data.Len() != controlWidth {
		cls.cfg.warn(xerrors.Errorf(
			"tdc: control payload %v has %d bits (want=%d): %w",
			data, data.Len(), controlWidth, ErrLengthMismatch,
		))
	}
	rec := Timing{Code: code}
	if code != FillerTime {
		rec.Value = data.Uint()
	}
	return rec, true
}

// Fragment extracts the channel and the ETROC2 word fragment of a line.
func (cls *Classifier) Fragment(line Bits) (uint8, Bits) {
	var (
		ch   = uint8(line.Field(2, 4))
		frag = line.Slice(4, line.Len())
	)
	if frag.Len() != etroc2Width {
		cls.cfg.warn(xerrors.Errorf(
			"tdc: ETROC2 fragment %v has %d bits (want=%d): %w",
			frag, frag.Len(), etroc2Width, ErrLengthMismatch,
		))
	}
	return ch, frag
}

// Word decodes a complete ETROC2 word read out on channel ch.
// The word patterns are tried in order: header, trailer of the channel's
// board, frame filler and firmware filler. A word matching none of them
// is a Data record if its leading bit is set.
func (cls *Classifier) Word(ch uint8, w Bits) Record {
	if w.Len() != WordWidth {
		cls.cfg.warn(xerrors.Errorf(
			"tdc: ETROC2 word %v has %d bits (want=%d): %w",
			w, w.Len(), WordWidth, ErrLengthMismatch,
		))
	}

	if _, ok := cls.trailers[ch]; !ok && !cls.orphans[ch] {
		cls.orphans[ch] = true
		cls.cfg.warn(xerrors.Errorf(
			"tdc: ETROC2 word on channel %d: %w", ch, ErrNoTrailer,
		))
	}

	p := w.Field(0, PatternWidth)
	for _, r := range cls.rules {
		if r.match(ch, p) {
			return r.decode(ch, w)
		}
	}

	if w.Bit(0) == 1 {
		return decodeData(ch, w)
	}
	return Unknown{Chan: ch, Word: w.Uint(), Len: w.Len()}
}

func decodeHeader(ch uint8, w Bits) Record {
	return Header{
		Chan:      ch,
		L1Counter: uint8(w.Field(18, 26)),
		Type:      uint8(w.Field(26, 28)),
		BCID:      uint16(w.Field(28, 40)),
	}
}

func decodeTrailer(ch uint8, w Bits) Record {
	return Trailer{
		Chan:   ch,
		ChipID: uint32(w.Field(1, 18)),
		Status: uint8(w.Field(18, 24)),
		Hits:   uint8(w.Field(24, 32)),
		CRC:    uint8(w.Field(32, 40)),
	}
}

func decodeFrameFiller(ch uint8, w Bits) Record {
	return FrameFiller{
		Chan:      ch,
		L1Counter: uint8(w.Field(18, 26)),
		EBS:       uint8(w.Field(26, 28)),
		BCID:      uint16(w.Field(28, 40)),
	}
}

func decodeFirmwareFiller(ch uint8, w Bits) Record {
	return FirmwareFiller{
		Chan:         ch,
		MissingCount: uint32(w.Field(18, 40)),
	}
}

func decodeData(ch uint8, w Bits) Record {
	return Data{
		Chan: ch,
		EA:   uint8(w.Field(1, 3)),
		Col:  uint8(w.Field(3, 7)),
		Row:  uint8(w.Field(7, 11)),
		TOA:  uint16(w.Field(11, 21)),
		TOT:  uint16(w.Field(21, 30)),
		CAL:  uint16(w.Field(30, 40)),
	}
}
