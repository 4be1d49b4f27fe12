// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package viz

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/go-lpc/etroc/daq"
	"github.com/go-lpc/etroc/tdc"
	"go-hep.org/x/hep/hbook"
)

const (
	pixels = 16 // number of columns (and rows) of an ETROC2 pixel matrix
)

// Histos fills per-channel histograms of the hits it is handed.
//
// Histos is safe for concurrent use.
type Histos struct {
	mu  sync.Mutex
	chs map[uint8]*histos
}

type histos struct {
	toa *hbook.H1D
	tot *hbook.H1D
	cal *hbook.H1D
	hit *hbook.H2D // column x row hit map
}

func newHistos(name string) *histos {
	h := &histos{
		toa: hbook.NewH1D(1024, 0, 1024),
		tot: hbook.NewH1D(512, 0, 512),
		cal: hbook.NewH1D(1024, 0, 1024),
		hit: hbook.NewH2D(pixels, 0, pixels, pixels, 0, pixels),
	}
	h.toa.Annotation()["name"] = fmt.Sprintf("%s-toa", name)
	h.tot.Annotation()["name"] = fmt.Sprintf("%s-tot", name)
	h.cal.Annotation()["name"] = fmt.Sprintf("%s-cal", name)
	h.hit.Annotation()["name"] = fmt.Sprintf("%s-hitmap", name)
	return h
}

// NewHistos returns an empty set of histograms.
func NewHistos() *Histos {
	return &Histos{chs: make(map[uint8]*histos)}
}

// Plot fills the histograms with the hits of b.
func (hs *Histos) Plot(b daq.Batch) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	for _, rec := range b.Records {
		ch, ok := channel(rec)
		if !ok {
			continue
		}
		h, ok := hs.chs[ch]
		if !ok {
			h = newHistos(boardName(b.Boards, ch))
			hs.chs[ch] = h
		}

		switch rec := rec.(type) {
		case tdc.Data:
			h.toa.Fill(float64(rec.TOA), 1)
			h.tot.Fill(float64(rec.TOT), 1)
			h.cal.Fill(float64(rec.CAL), 1)
			h.hit.Fill(float64(rec.Col), float64(rec.Row), 1)
		case tdc.Hit:
			h.toa.Fill(float64(rec.TOA), 1)
			h.tot.Fill(float64(rec.TOT), 1)
			h.cal.Fill(float64(rec.CAL), 1)
		}
	}
	return nil
}

// Entries returns the number of hits seen on channel ch.
func (hs *Histos) Entries(ch uint8) int64 {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	h, ok := hs.chs[ch]
	if !ok {
		return 0
	}
	return h.toa.Entries()
}

// WriteYODA writes all histograms to w, in the YODA format.
func (hs *Histos) WriteYODA(w io.Writer) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	chs := make([]int, 0, len(hs.chs))
	for ch := range hs.chs {
		chs = append(chs, int(ch))
	}
	sort.Ints(chs)

	for _, ch := range chs {
		h := hs.chs[uint8(ch)]
		for _, v := range []interface {
			MarshalYODA() ([]byte, error)
		}{h.toa, h.tot, h.cal, h.hit} {
			raw, err := v.MarshalYODA()
			if err != nil {
				return fmt.Errorf("viz: could not marshal histogram of channel %d: %w", ch, err)
			}
			_, err = w.Write(raw)
			if err != nil {
				return fmt.Errorf("viz: could not write histogram of channel %d: %w", ch, err)
			}
		}
	}
	return nil
}

var (
	_ daq.Plotter = (*Histos)(nil)
)
