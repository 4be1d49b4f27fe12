// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// etroc-dump translates and displays raw ETROC data files.
//
// Raw files hold either one 32-character bit string per line (".txt")
// or 4 bytes per line (".bin"), possibly zstd-compressed (".zst").
//
// Usage: etroc-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> etroc-dump ./etroc-data/raw_000.txt
//	ETROC1 1 3 5 64
//	MSBTIME 42
//	ETROC2 0 HEADER L1COUNTER 00000001 TYPE 00 BCID 000000000001
//	ETROC2 0 DATA EA 01 COL 3 ROW 9 TOA 5 TOT 3 CAL 64
//	ETROC2 0 TRAILER CHIPID 10111111100001111 STATUS 000000 HITS 00000011 CRC 11110000
//	[...]
package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-lpc/etroc/daq"
	"github.com/go-lpc/etroc/internal/mmap"
	"github.com/go-lpc/etroc/tdc"
	"github.com/klauspost/compress/zstd"
)

func main() {
	log.SetPrefix("etroc-dump: ")
	log.SetFlags(0)

	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	var (
		fset = flag.NewFlagSet("etroc-dump", flag.ExitOnError)
		ts   = fset.Uint("ts", 0, "timestamp/testmode register value")
		cfg  = fset.String("cfg", "", "path to a run configuration file describing the boards")
		data = fset.Bool("data", false, "only display hits")
	)

	fset.Usage = func() {
		fmt.Printf(`etroc-dump translates and displays raw ETROC data files.

Usage: etroc-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> etroc-dump ./etroc-data/raw_000.txt
 ETROC1 1 3 5 64
 MSBTIME 42
 ETROC2 0 HEADER L1COUNTER 00000001 TYPE 00 BCID 000000000001
 ETROC2 0 DATA EA 01 COL 3 ROW 9 TOA 5 TOT 3 CAL 64
 ETROC2 0 TRAILER CHIPID 10111111100001111 STATUS 000000 HITS 00000011 CRC 11110000
 [...]

Options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse arguments: %+v", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		log.Fatalf("missing path to input raw file")
	}

	opts := options{
		boards: tdc.DefaultBoards(),
		ts:     uint16(*ts),
		data:   *data,
	}
	if *cfg != "" {
		run, err := daq.Load(*cfg)
		if err != nil {
			log.Fatalf("could not load run configuration: %+v", err)
		}
		opts.boards = run.Boards
		opts.ts = run.Timestamp
	}

	for _, fname := range fset.Args() {
		err := process(w, fname, opts)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

type options struct {
	boards []tdc.Board
	ts     uint16
	data   bool // only display hits
}

func process(w io.Writer, fname string, opts options) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	src, err := open(fname)
	if err != nil {
		return err
	}
	defer src.Close()

	tr, err := tdc.NewTranslator(
		opts.boards,
		tdc.WithTimestamp(opts.ts),
		tdc.WithWarn(func(err error) { log.Printf("%+v", err) }),
	)
	if err != nil {
		return fmt.Errorf("could not create translator: %w", err)
	}

	for i := 0; ; i++ {
		line, err := src.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("could not read line %d: %w", i, err)
		}

		recs, err := tr.Translate(line)
		for _, rec := range recs {
			if opts.data {
				switch rec.Kind() {
				case tdc.KindData, tdc.KindHit:
				default:
					continue
				}
			}
			fmt.Fprintf(wbuf, "%v\n", rec)
		}
		if err != nil {
			return fmt.Errorf("could not translate line %d: %w", i, err)
		}
	}

	if n := tr.Discard(); n > 0 {
		log.Printf("%s: %d records without frame trailer", fname, n)
	}

	return nil
}

// source is a sequence of raw readout lines.
type source interface {
	next() (tdc.Bits, error)
	Close() error
}

func open(fname string) (source, error) {
	var (
		ext = filepath.Ext(fname)
		zst = false
	)
	if ext == ".zst" {
		zst = true
		ext = filepath.Ext(strings.TrimSuffix(fname, ext))
	}

	switch {
	case ext == ".bin" && !zst:
		return openMmap(fname)
	case ext == ".bin":
		return openStream(fname, func(r io.Reader) lineReader { return &binLines{r: r} })
	default:
		return openStream(fname, func(r io.Reader) lineReader { return &textLines{sc: bufio.NewScanner(r)} })
	}
}

type mmapLines struct {
	h   *mmap.Handle
	cur int
}

func openMmap(fname string) (*mmapLines, error) {
	h, err := mmap.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("could not open %q: %w", fname, err)
	}
	if h.Len()%4 != 0 {
		_ = h.Close()
		return nil, fmt.Errorf("invalid compact raw file %q: size %d is not a multiple of 4", fname, h.Len())
	}
	return &mmapLines{h: h}, nil
}

func (src *mmapLines) next() (tdc.Bits, error) {
	if 4*src.cur >= src.h.Len() {
		return tdc.Bits{}, io.EOF
	}
	v := src.h.Uint32(src.cur)
	src.cur++
	return tdc.Line(v), nil
}

func (src *mmapLines) Close() error {
	return src.h.Close()
}

type lineReader interface {
	next() (tdc.Bits, error)
}

type stream struct {
	f  *os.File
	zr *zstd.Decoder
	lineReader
}

func openStream(fname string, mk func(r io.Reader) lineReader) (*stream, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("could not open %q: %w", fname, err)
	}

	src := &stream{f: f}
	var r io.Reader = f
	if filepath.Ext(fname) == ".zst" {
		src.zr, err = zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("could not create zstd reader for %q: %w", fname, err)
		}
		r = src.zr
	}
	src.lineReader = mk(r)
	return src, nil
}

func (src *stream) Close() error {
	if src.zr != nil {
		src.zr.Close()
	}
	return src.f.Close()
}

type textLines struct {
	sc *bufio.Scanner
}

func (src *textLines) next() (tdc.Bits, error) {
	for src.sc.Scan() {
		txt := strings.TrimSpace(src.sc.Text())
		if txt == "" {
			continue
		}
		return tdc.ParseBits(txt)
	}
	if err := src.sc.Err(); err != nil {
		return tdc.Bits{}, err
	}
	return tdc.Bits{}, io.EOF
}

type binLines struct {
	r   io.Reader
	buf [4]byte
}

func (src *binLines) next() (tdc.Bits, error) {
	_, err := io.ReadFull(src.r, src.buf[:])
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return tdc.Bits{}, fmt.Errorf("truncated compact raw line: %w", err)
		}
		return tdc.Bits{}, err
	}
	return tdc.Line(binary.BigEndian.Uint32(src.buf[:])), nil
}
