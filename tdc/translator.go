// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"golang.org/x/xerrors"
)

// Translator translates readout lines into TDC records.
//
// ETROC1 and control lines are translated on the fly. ETROC2 fragments
// are reassembled into words and the decoded records of a channel are
// only released once the frame trailer of that channel has been seen.
//
// A Translator is not safe for concurrent use.
type Translator struct {
	cls *Classifier
	asm *Reassembler
	trk *Tracker
}

// NewTranslator returns a translator for the boards plugged on the link.
func NewTranslator(boards []Board, opts ...Option) (*Translator, error) {
	cls, err := NewClassifier(boards, opts...)
	if err != nil {
		return nil, xerrors.Errorf("tdc: could not create classifier: %w", err)
	}
	return &Translator{
		cls: cls,
		asm: NewReassembler(WordWidth),
		trk: NewTracker(),
	}, nil
}

// Translate translates a readout line.
// The returned records are owned by the caller.
//
// Translate returns an error wrapping ErrReassemblyOverflow when the
// reassembly of a channel broke. The stream can not be translated
// any further.
func (tr *Translator) Translate(line Bits) ([]Record, error) {
	switch tr.cls.Family(line) {
	case FamilyETROC1:
		return []Record{tr.cls.Legacy(line)}, nil

	case FamilyControl:
		rec, ok := tr.cls.Control(line)
		if !ok {
			return nil, nil
		}
		return []Record{rec}, nil
	}

	ch, frag := tr.cls.Fragment(line)
	words, err := tr.asm.Feed(ch, frag)

	var out []Record
	for _, w := range words {
		grp, ok := tr.trk.Observe(ch, tr.cls.Word(ch, w))
		if !ok {
			continue
		}
		out = append(out, grp.Records...)
	}
	if err != nil {
		return out, xerrors.Errorf("tdc: could not reassemble ETROC2 word: %w", err)
	}
	return out, nil
}

// Open returns the number of records of channel ch waiting for a trailer.
func (tr *Translator) Open(ch uint8) int {
	return tr.trk.Open(ch)
}

// Pending returns the bits of channel ch waiting for the rest of a word.
func (tr *Translator) Pending(ch uint8) Bits {
	return tr.asm.Pending(ch)
}

// Discard drops the state of all channels and returns the number of
// records that were waiting for a trailer.
func (tr *Translator) Discard() int {
	tr.asm.Reset()
	return tr.trk.Discard()
}
