// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"golang.org/x/xerrors"
)

// Reassembler accumulates bit fragments into fixed-width words,
// independently for each channel.
type Reassembler struct {
	width   int
	pending map[uint8]Bits
}

// NewReassembler returns a reassembler of width-bit words.
func NewReassembler(width int) *Reassembler {
	if width <= 0 || width > MaxBits {
		panic(xerrors.Errorf("tdc: invalid word width %d", width))
	}
	return &Reassembler{
		width:   width,
		pending: make(map[uint8]Bits),
	}
}

// Width returns the width of reassembled words.
func (r *Reassembler) Width() int { return r.width }

// Feed appends frag to the pending bits of channel ch.
// Feed returns the words completed by frag, in order. Bits of frag past
// the last completed word are kept pending for the next call.
func (r *Reassembler) Feed(ch uint8, frag Bits) ([]Bits, error) {
	var (
		words []Bits
		cur   = r.pending[ch]
	)
	for frag.Len() > 0 {
		n := r.width - cur.Len()
		if n > frag.Len() {
			n = frag.Len()
		}
		cur = cur.Append(frag.Slice(0, n))
		frag = frag.Slice(n, frag.Len())
		if cur.Len() == r.width {
			words = append(words, cur)
			cur = Bits{}
		}
	}

	err := r.store(ch, cur)
	if err != nil {
		return words, err
	}
	return words, nil
}

func (r *Reassembler) store(ch uint8, bits Bits) error {
	if bits.Len() >= r.width {
		delete(r.pending, ch)
		return xerrors.Errorf(
			"tdc: channel %d holds %d bits (word=%d): %w",
			ch, bits.Len(), r.width, ErrReassemblyOverflow,
		)
	}
	if bits.Len() == 0 {
		delete(r.pending, ch)
		return nil
	}
	r.pending[ch] = bits
	return nil
}

// Pending returns the bits of channel ch not yet part of a word.
func (r *Reassembler) Pending(ch uint8) Bits {
	return r.pending[ch]
}

// Reset drops the pending bits of all channels and returns how many
// bits were dropped.
func (r *Reassembler) Reset() int {
	n := 0
	for ch, bits := range r.pending {
		n += bits.Len()
		delete(r.pending, ch)
	}
	return n
}
