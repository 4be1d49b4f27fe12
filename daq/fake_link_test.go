// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-lpc/etroc/tdc"
)

// fakeLink serves a fixed sequence of lines, then err (or io.EOF).
type fakeLink struct {
	mu     sync.Mutex
	words  []uint32
	chunk  int
	err    error
	closed bool
}

func (link *fakeLink) ReadWords(dst []uint32) (int, error) {
	link.mu.Lock()
	defer link.mu.Unlock()

	if len(link.words) == 0 {
		if link.err != nil {
			return 0, link.err
		}
		return 0, io.EOF
	}
	if link.chunk > 0 && len(dst) > link.chunk {
		dst = dst[:link.chunk]
	}
	n := copy(dst, link.words)
	link.words = link.words[n:]
	return n, nil
}

func (link *fakeLink) Close() error {
	link.mu.Lock()
	defer link.mu.Unlock()
	link.closed = true
	return nil
}

// genLink serves an endless stream of ETROC1 lines.
type genLink struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	chunk int
	delay time.Duration
}

func newGenLink(chunk int) *genLink {
	return &genLink{
		rnd:   rand.New(rand.NewSource(1234)),
		chunk: chunk,
		delay: 100 * time.Microsecond,
	}
}

func (link *genLink) ReadWords(dst []uint32) (int, error) {
	time.Sleep(link.delay)

	link.mu.Lock()
	defer link.mu.Unlock()
	if len(dst) > link.chunk {
		dst = dst[:link.chunk]
	}
	for i := range dst {
		dst[i] = link.rnd.Uint32() &^ (1 << 31) // leading 0: ETROC1 hit
	}
	return len(dst), nil
}

func (link *genLink) Close() error { return nil }

// etroc2Lines splits a stream of ETROC2 words into readout lines of
// channel ch. The last fragment is padded with zeros.
func etroc2Lines(t *testing.T, ch uint8, words ...string) []uint32 {
	t.Helper()
	const width = 28
	var (
		stream = strings.Join(words, "")
		lines  []uint32
	)
	for i := 0; i < len(stream); i += width {
		j := i + width
		frag := ""
		if j > len(stream) {
			frag = stream[i:] + strings.Repeat("0", j-len(stream))
		} else {
			frag = stream[i:j]
		}
		bits, err := tdc.ParseBits(frag)
		if err != nil {
			t.Fatalf("could not parse fragment %q: %+v", frag, err)
		}
		lines = append(lines, 0x3<<30|uint32(ch)<<28|uint32(bits.Uint()))
	}
	return lines
}

const (
	testHeader  = "0" + "001111001011100" + "00" + "00000001" + "00" + "000000000001"
	testData    = "1" + "01" + "0011" + "1001" + "0000000101" + "000000011" + "0001000000"
	testTrailer = "0" + "10111111100001111" + "000000" + "00000011" + "11110000"
)

// testStream returns the readout lines of n frames of channel 0, each
// holding 3 hits.
func testStream(t *testing.T, n int) []uint32 {
	t.Helper()
	var words []string
	for i := 0; i < n; i++ {
		words = append(words, testHeader, testData, testData, testData, testTrailer)
	}
	return etroc2Lines(t, 0, words...)
}

type memRaw struct {
	words  []uint32
	closed bool
}

func (w *memRaw) WriteChunk(c Chunk) error {
	w.words = append(w.words, c.Words...)
	return nil
}

func (w *memRaw) Close() error {
	w.closed = true
	return nil
}

type memRecords struct {
	recs   []tdc.Record
	closed bool
}

func (w *memRecords) WriteBatch(b Batch) error {
	w.recs = append(w.recs, b.Records...)
	return nil
}

func (w *memRecords) Close() error {
	w.closed = true
	return nil
}

type memPlotter struct {
	mu   sync.Mutex
	hits int
	n    int
}

func (plt *memPlotter) Plot(b Batch) error {
	plt.mu.Lock()
	defer plt.mu.Unlock()
	plt.n++
	plt.hits += len(b.Records)
	return nil
}
