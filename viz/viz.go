// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package viz provides consumers of the visualization feed of the
// acquisition pipeline.
package viz // import "github.com/go-lpc/etroc/viz"

import (
	"errors"
	"fmt"

	"github.com/go-lpc/etroc/daq"
	"github.com/go-lpc/etroc/tdc"
)

// Multi returns a plotter handing batches to all the plotters.
func Multi(plts ...daq.Plotter) daq.Plotter {
	return multi(plts)
}

type multi []daq.Plotter

func (m multi) Plot(b daq.Batch) error {
	var errs []error
	for _, plt := range m {
		err := plt.Plot(b)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// boardName returns the name of the board read out on channel ch.
func boardName(boards []tdc.Board, ch uint8) string {
	if int(ch) < len(boards) && boards[ch].Name != "" {
		return boards[ch].Name
	}
	return fmt.Sprintf("ch%d", ch)
}

// channel returns the channel a hit was read out on.
func channel(rec tdc.Record) (uint8, bool) {
	switch rec := rec.(type) {
	case tdc.Data:
		return rec.Chan, true
	case tdc.Hit:
		return rec.Chan, true
	}
	return 0, false
}

var (
	_ daq.Plotter = (multi)(nil)
)
