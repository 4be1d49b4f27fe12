// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-lpc/etroc/daq"
)

const (
	header  = "0" + "001111001011100" + "00" + "00000001" + "00" + "000000000001"
	hit     = "1" + "01" + "0011" + "1001" + "0000000101" + "000000011" + "0001000000"
	trailer = "0" + "10111111100001111" + "000000" + "00000011" + "11110000"
)

// frames returns the readout lines of n frames of channel 0 with 2 hits each.
func frames(n int) []byte {
	var stream string
	for i := 0; i < n; i++ {
		stream += header + hit + hit + trailer
	}
	if r := len(stream) % 28; r != 0 {
		stream += strings.Repeat("0", 28-r)
	}

	var raw []byte
	for i := 0; i < len(stream); i += 28 {
		var v uint32 = 0x3 << 30
		for j, c := range stream[i : i+28] {
			if c == '1' {
				v |= 1 << (27 - j)
			}
		}
		raw = binary.BigEndian.AppendUint32(raw, v)
	}
	return raw
}

func fakeBoard(t *testing.T, raw []byte) string {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("could not create fake readout board: %+v", err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write(raw)
	}()
	return l.Addr().String()
}

func TestRun(t *testing.T) {
	const nframes = 50
	var (
		raw  = frames(nframes)
		tmp  = t.TempDir()
		yoda = filepath.Join(tmp, "hits.yoda")
		cfg  = daq.Default()
	)
	cfg.Addr = fakeBoard(t, raw)
	cfg.ChunkSize = 16
	cfg.Output.Dir = tmp
	cfg.Output.NumFiles = 0
	cfg.Output.LinesPerFile = 100
	cfg.Output.Raw = daq.RawCompact
	cfg.Viz.Enabled = true

	stats, err := run(context.Background(), cfg, yoda, "", "etroc")
	if err != nil {
		t.Fatalf("could not run etroc-daq: %+v", err)
	}

	nlines := uint64(len(raw) / 4)
	if got, want := stats.Words, nlines; got != want {
		t.Fatalf("invalid number of lines: got=%d, want=%d", got, want)
	}
	if got, want := stats.Records, uint64(4*nframes); got != want {
		t.Fatalf("invalid number of records: got=%d, want=%d", got, want)
	}

	files, err := filepath.Glob(filepath.Join(tmp, "raw_*.bin"))
	if err != nil {
		t.Fatalf("could not glob raw files: %+v", err)
	}
	if got, want := len(files), int((nlines+99)/100); got != want {
		t.Fatalf("invalid number of raw files: got=%d, want=%d", got, want)
	}

	files, err = filepath.Glob(filepath.Join(tmp, "tdc_*.txt"))
	if err != nil {
		t.Fatalf("could not glob translated files: %+v", err)
	}
	hits := 0
	for _, fname := range files {
		txt, err := os.ReadFile(fname)
		if err != nil {
			t.Fatalf("could not read translated output: %+v", err)
		}
		hits += strings.Count(string(txt), " DATA ")
	}
	if got, want := hits, 2*nframes; got != want {
		t.Fatalf("invalid number of hits: got=%d, want=%d", got, want)
	}

	fi, err := os.Stat(yoda)
	if err != nil {
		t.Fatalf("could not stat YODA file: %+v", err)
	}
	if fi.Size() == 0 {
		t.Fatalf("empty YODA file")
	}
}

func TestRunInvalid(t *testing.T) {
	cfg := daq.Default()
	cfg.Output.Raw = "all"
	_, err := run(context.Background(), cfg, "", "", "etroc")
	if err == nil {
		t.Fatalf("expected an error")
	}

	cfg = daq.Default()
	cfg.Addr = "localhost:0"
	cfg.Output.Dir = t.TempDir()
	_, err = run(context.Background(), cfg, "", "", "etroc")
	if err == nil {
		t.Fatalf("expected an error")
	}
}
