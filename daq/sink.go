// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-lpc/etroc/tdc"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// RawWriter writes raw chunks to durable storage.
type RawWriter interface {
	WriteChunk(c Chunk) error
	Close() error
}

// RecordWriter writes batches of decoded records to durable storage.
type RecordWriter interface {
	WriteBatch(b Batch) error
	Close() error
}

// rotator writes lines to a sequence of files, starting a new file
// every perFile lines.
type rotator struct {
	dir      string
	prefix   string
	ext      string
	compress bool
	perFile  int

	idx   int // index of the current file
	lines int // lines written to the current file

	f  *os.File
	zw *zstd.Encoder
	w  *bufio.Writer
}

func newRotator(out Output, prefix, ext string) (*rotator, error) {
	err := os.MkdirAll(out.Dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("daq: could not create output directory %q: %w", out.Dir, err)
	}
	return &rotator{
		dir:      out.Dir,
		prefix:   prefix,
		ext:      ext,
		compress: out.Compress,
		perFile:  out.LinesPerFile,
		idx:      -1,
	}, nil
}

func (rot *rotator) name(i int) string {
	fname := fmt.Sprintf("%s_%03d.%s", rot.prefix, i, rot.ext)
	if rot.compress {
		fname += ".zst"
	}
	return filepath.Join(rot.dir, fname)
}

// line returns the writer for the next line.
func (rot *rotator) line() (io.Writer, error) {
	if rot.w == nil || (rot.perFile > 0 && rot.lines >= rot.perFile) {
		err := rot.rotate()
		if err != nil {
			return nil, err
		}
	}
	rot.lines++
	return rot.w, nil
}

func (rot *rotator) rotate() error {
	err := rot.close()
	if err != nil {
		return err
	}

	rot.idx++
	rot.lines = 0

	fname := rot.name(rot.idx)
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("daq: could not create output file: %w", err)
	}
	rot.f = f

	var w io.Writer = f
	if rot.compress {
		rot.zw, err = zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("daq: could not create zstd writer for %q: %w", fname, err)
		}
		w = rot.zw
	}
	rot.w = bufio.NewWriter(w)
	return nil
}

func (rot *rotator) close() error {
	if rot.f == nil {
		return nil
	}
	defer func() {
		rot.f = nil
		rot.zw = nil
		rot.w = nil
	}()

	err := rot.w.Flush()
	if err != nil {
		_ = rot.f.Close()
		return fmt.Errorf("daq: could not flush %q: %w", rot.f.Name(), err)
	}

	if rot.zw != nil {
		err = rot.zw.Close()
		if err != nil {
			_ = rot.f.Close()
			return fmt.Errorf("daq: could not close zstd stream of %q: %w", rot.f.Name(), err)
		}
	}

	err = rot.f.Close()
	if err != nil {
		return fmt.Errorf("daq: could not close %q: %w", rot.f.Name(), err)
	}
	return nil
}

// NewRawWriter returns the raw output writer configured by out.
func NewRawWriter(out Output) (RawWriter, error) {
	switch out.Raw {
	case RawSkip:
		return discard{}, nil
	case RawFull:
		rot, err := newRotator(out, "raw", "txt")
		if err != nil {
			return nil, err
		}
		return &textRaw{rot: rot}, nil
	case RawCompact:
		rot, err := newRotator(out, "raw", "bin")
		if err != nil {
			return nil, err
		}
		return &compactRaw{rot: rot}, nil
	default:
		return nil, fmt.Errorf("daq: invalid raw output mode %q", out.Raw)
	}
}

// NewRecordWriter returns the translated output writer configured by out.
func NewRecordWriter(out Output) (RecordWriter, error) {
	if out.Translate == TranslateNone {
		return discard{}, nil
	}
	switch out.Format {
	case FormatText:
		rot, err := newRotator(out, "tdc", "txt")
		if err != nil {
			return nil, err
		}
		return &textRecords{rot: rot}, nil
	case FormatMsgpack:
		rot, err := newRotator(out, "tdc", "msgpack")
		if err != nil {
			return nil, err
		}
		recs := &msgpackRecords{rot: rot}
		recs.enc = msgpack.NewEncoder(&recs.buf)
		recs.enc.SetCustomStructTag("json")
		return recs, nil
	default:
		return nil, fmt.Errorf("daq: invalid output format %q", out.Format)
	}
}

type discard struct{}

func (discard) WriteChunk(Chunk) error { return nil }
func (discard) WriteBatch(Batch) error { return nil }
func (discard) Close() error           { return nil }

type textRaw struct {
	rot *rotator
}

func (raw *textRaw) WriteChunk(c Chunk) error {
	for _, word := range c.Words {
		w, err := raw.rot.line()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%032b\n", word)
		if err != nil {
			return fmt.Errorf("daq: could not write raw line: %w", err)
		}
	}
	return nil
}

func (raw *textRaw) Close() error { return raw.rot.close() }

type compactRaw struct {
	rot *rotator
	buf [4]byte
}

func (raw *compactRaw) WriteChunk(c Chunk) error {
	for _, word := range c.Words {
		w, err := raw.rot.line()
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint32(raw.buf[:], word)
		_, err = w.Write(raw.buf[:])
		if err != nil {
			return fmt.Errorf("daq: could not write raw word: %w", err)
		}
	}
	return nil
}

func (raw *compactRaw) Close() error { return raw.rot.close() }

type textRecords struct {
	rot *rotator
}

func (tr *textRecords) WriteBatch(b Batch) error {
	for _, rec := range b.Records {
		w, err := tr.rot.line()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, rec.String())
		if err != nil {
			return fmt.Errorf("daq: could not write record: %w", err)
		}
	}
	return nil
}

func (tr *textRecords) Close() error { return tr.rot.close() }

// entry is the msgpack encoding of a record.
type entry struct {
	Kind   string     `json:"kind"`
	Record tdc.Record `json:"rec"`
}

type msgpackRecords struct {
	rot *rotator
	buf bytes.Buffer
	enc *msgpack.Encoder
}

func (mr *msgpackRecords) WriteBatch(b Batch) error {
	for _, rec := range b.Records {
		mr.buf.Reset()
		err := mr.enc.Encode(entry{Kind: rec.Kind().String(), Record: rec})
		if err != nil {
			return fmt.Errorf("daq: could not encode record: %w", err)
		}
		w, err := mr.rot.line()
		if err != nil {
			return err
		}
		_, err = w.Write(mr.buf.Bytes())
		if err != nil {
			return fmt.Errorf("daq: could not write record: %w", err)
		}
	}
	return nil
}

func (mr *msgpackRecords) Close() error { return mr.rot.close() }

var (
	_ RawWriter    = (*discard)(nil)
	_ RawWriter    = (*textRaw)(nil)
	_ RawWriter    = (*compactRaw)(nil)
	_ RecordWriter = (*discard)(nil)
	_ RecordWriter = (*textRecords)(nil)
	_ RecordWriter = (*msgpackRecords)(nil)
)
