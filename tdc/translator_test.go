// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

// etroc2Lines splits a stream of ETROC2 words into readout lines of
// channel ch. The last fragment is padded with zeros.
func etroc2Lines(t *testing.T, ch uint8, stream string) []Bits {
	t.Helper()
	var lines []Bits
	for i := 0; i < len(stream); i += etroc2Width {
		j := i + etroc2Width
		frag := ""
		if j > len(stream) {
			frag = stream[i:] + strings.Repeat("0", j-len(stream))
		} else {
			frag = stream[i:j]
		}
		lines = append(lines, mustBits(t, "11", fmt.Sprintf("%02b", ch), frag))
	}
	return lines
}

func newTestTranslator(t *testing.T) *Translator {
	t.Helper()
	tr, err := NewTranslator([]Board{
		{Name: "F28", Type: ETROC2, Size: 256, ID: boardID},
		{Name: "F29", Type: ETROC2, Size: 256, ID: "10111111100001110"},
	})
	if err != nil {
		t.Fatalf("could not create translator: %+v", err)
	}
	return tr
}

func TestTranslator(t *testing.T) {
	const (
		hdr0  = "0" + marker + "00" + "00000001" + "00" + "000000000001"
		data0 = "1" + "01" + "0011" + "1001" + "0000000101" + "000000011" + "0001000000"
		trl0  = "0" + boardID + "000000" + "00000001" + "11110000"

		hdr1 = "0" + marker + "00" + "00000010" + "01" + "000000000010"
		fil1 = "0" + marker + "01" + "00000010" + "10" + "000000000011"
		trl1 = "0" + "10111111100001110" + "000000" + "00000000" + "00001111"
	)

	tr := newTestTranslator(t)

	var (
		lines0 = etroc2Lines(t, 0, hdr0+data0+trl0)
		lines1 = etroc2Lines(t, 1, hdr1+fil1+trl1)
		lines  = []Bits{mustBits(t, "10", "00", "00", "00000000000000000000000011")}
	)
	for i := range lines0 {
		lines = append(lines, lines0[i], lines1[i])
	}
	lines = append(lines, mustBits(t, "0", "11", "000000101", "0000001010", "0000001111"))

	var got []Record
	for i, line := range lines {
		recs, err := tr.Translate(line)
		if err != nil {
			t.Fatalf("could not translate line %d: %+v", i, err)
		}
		got = append(got, recs...)
	}

	want := []Record{
		Timing{Code: NormTrig, Value: 3},
		Header{Chan: 0, L1Counter: 1, Type: 0, BCID: 1},
		Data{Chan: 0, EA: 1, Col: 3, Row: 9, TOA: 5, TOT: 3, CAL: 64},
		Trailer{Chan: 0, ChipID: 0x17f0f, Status: 0, Hits: 1, CRC: 0xf0},
		Header{Chan: 1, L1Counter: 2, Type: 1, BCID: 2},
		FrameFiller{Chan: 1, L1Counter: 2, EBS: 2, BCID: 3},
		Trailer{Chan: 1, ChipID: 0x17f0e, Status: 0, Hits: 0, CRC: 0x0f},
		Hit{Chan: 3, TOT: 5, TOA: 10, CAL: 15},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid records:\ngot= %v\nwant=%v", got, want)
	}

	for ch := uint8(0); ch < 2; ch++ {
		if got, want := tr.Pending(ch).Len(), 5*etroc2Width-3*WordWidth; got != want {
			t.Fatalf("channel %d: invalid pending bits: got=%d, want=%d", ch, got, want)
		}
		if got, want := tr.Open(ch), 0; got != want {
			t.Fatalf("channel %d: invalid open records: got=%d, want=%d", ch, got, want)
		}
	}
}

func TestTranslatorOpenGroup(t *testing.T) {
	const (
		hdr  = "0" + marker + "00" + "00000001" + "00" + "000000000001"
		data = "1" + "01" + "0011" + "1001" + "0000000101" + "000000011" + "0001000000"
	)

	tr := newTestTranslator(t)
	for i, line := range etroc2Lines(t, 0, hdr+data) {
		recs, err := tr.Translate(line)
		if err != nil {
			t.Fatalf("could not translate line %d: %+v", i, err)
		}
		if len(recs) != 0 {
			t.Fatalf("line %d: unexpected records before trailer: %v", i, recs)
		}
	}

	if got, want := tr.Open(0), 2; got != want {
		t.Fatalf("invalid open records: got=%d, want=%d", got, want)
	}
	if got, want := tr.Pending(0).Len(), 3*etroc2Width-2*WordWidth; got != want {
		t.Fatalf("invalid pending bits: got=%d, want=%d", got, want)
	}
	if got, want := tr.Discard(), 2; got != want {
		t.Fatalf("invalid discarded records: got=%d, want=%d", got, want)
	}
	if got, want := tr.Pending(0).Len(), 0; got != want {
		t.Fatalf("invalid pending bits after discard: got=%d, want=%d", got, want)
	}
}
