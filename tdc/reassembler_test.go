// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"math/rand"
	"strings"
	"testing"

	"golang.org/x/xerrors"
)

func TestReassemblerFeed(t *testing.T) {
	for _, tc := range []struct {
		name    string
		frags   []string
		words   []string
		pending string
	}{
		{
			name:    "25+15",
			frags:   []string{strings.Repeat("1", 25), strings.Repeat("0", 15)},
			words:   []string{strings.Repeat("1", 25) + strings.Repeat("0", 15)},
			pending: "",
		},
		{
			name:    "25+25",
			frags:   []string{strings.Repeat("1", 25), strings.Repeat("01", 12) + "0"},
			words:   []string{strings.Repeat("1", 25) + "010101010101010"},
			pending: "1010101010",
		},
		{
			name:    "28+28",
			frags:   []string{strings.Repeat("0", 28), strings.Repeat("1", 28)},
			words:   []string{strings.Repeat("0", 28) + strings.Repeat("1", 12)},
			pending: strings.Repeat("1", 16),
		},
		{
			name:    "short",
			frags:   []string{"101"},
			pending: "101",
		},
		{
			name:    "exact",
			frags:   []string{strings.Repeat("10", 20)},
			words:   []string{strings.Repeat("10", 20)},
			pending: "",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				asm   = NewReassembler(WordWidth)
				words []string
			)
			for _, frag := range tc.frags {
				ws, err := asm.Feed(2, mustBits(t, frag))
				if err != nil {
					t.Fatalf("could not feed %q: %+v", frag, err)
				}
				for _, w := range ws {
					words = append(words, w.String())
				}
				if n := asm.Pending(2).Len(); n >= WordWidth {
					t.Fatalf("pending buffer too long: %d", n)
				}
			}

			if got, want := len(words), len(tc.words); got != want {
				t.Fatalf("invalid number of words: got=%d, want=%d", got, want)
			}
			for i := range words {
				if got, want := words[i], tc.words[i]; got != want {
					t.Fatalf("invalid word[%d]:\ngot= %q\nwant=%q", i, got, want)
				}
			}
			if got, want := asm.Pending(2).String(), tc.pending; got != want {
				t.Fatalf("invalid pending bits:\ngot= %q\nwant=%q", got, want)
			}
			if got := asm.Pending(1); got.Len() != 0 {
				t.Fatalf("channel 1 should be empty, got=%q", got)
			}
		})
	}
}

func TestReassemblerRoundTrip(t *testing.T) {
	var (
		rnd = rand.New(rand.NewSource(1234))
		asm = NewReassembler(WordWidth)
		in  = make(map[uint8]*strings.Builder)
		out = make(map[uint8]*strings.Builder)
	)
	for ch := uint8(0); ch < NumChannels; ch++ {
		in[ch] = new(strings.Builder)
		out[ch] = new(strings.Builder)
	}

	for i := 0; i < 10000; i++ {
		var (
			ch   = uint8(rnd.Intn(NumChannels))
			n    = 1 + rnd.Intn(etroc2Width)
			frag = NewBits(rnd.Uint64(), n)
		)
		in[ch].WriteString(frag.String())
		words, err := asm.Feed(ch, frag)
		if err != nil {
			t.Fatalf("could not feed fragment %d: %+v", i, err)
		}
		for _, w := range words {
			if w.Len() != WordWidth {
				t.Fatalf("invalid word length: %d", w.Len())
			}
			out[ch].WriteString(w.String())
		}
		if asm.Pending(ch).Len() >= WordWidth {
			t.Fatalf("pending buffer too long: %d", asm.Pending(ch).Len())
		}
	}

	pending := 0
	for ch := uint8(0); ch < NumChannels; ch++ {
		pending += asm.Pending(ch).Len()
		out[ch].WriteString(asm.Pending(ch).String())
		if got, want := out[ch].String(), in[ch].String(); got != want {
			t.Fatalf("channel %d: round trip failed", ch)
		}
	}

	if got, want := asm.Reset(), pending; got != want {
		t.Fatalf("invalid number of dropped bits: got=%d, want=%d", got, want)
	}
	for ch := uint8(0); ch < NumChannels; ch++ {
		if n := asm.Pending(ch).Len(); n != 0 {
			t.Fatalf("channel %d: pending bits after reset: %d", ch, n)
		}
	}
}

func TestReassemblerOverflow(t *testing.T) {
	asm := NewReassembler(WordWidth)

	err := asm.store(0, NewBits(0, WordWidth))
	if !xerrors.Is(err, ErrReassemblyOverflow) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrReassemblyOverflow)
	}

	err = asm.store(0, NewBits(0, WordWidth-1))
	if err != nil {
		t.Fatalf("could not store pending bits: %+v", err)
	}
}
