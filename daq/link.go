// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// Link is a readout link to an ETROC readout board.
type Link interface {
	// ReadWords reads up to len(dst) lines into dst.
	// ReadWords returns the number of lines read and any error encountered.
	// Lines read before an error are valid.
	// ReadWords returns (0, nil) when no data was available in time, and
	// io.EOF at the end of the stream. A stream ending in the middle of a
	// line yields io.ErrUnexpectedEOF.
	ReadWords(dst []uint32) (int, error)
	Close() error
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// StreamLink reads big-endian 32-bit lines from a byte stream.
type StreamLink struct {
	rc   io.ReadCloser
	dl   deadliner
	poll time.Duration

	buf  []byte
	tail int // number of bytes of an incomplete line at the start of buf
}

// NewStreamLink returns a link reading lines from rc.
// If rc supports read deadlines, ReadWords waits at most for the polling
// period before returning.
func NewStreamLink(rc io.ReadCloser) *StreamLink {
	link := &StreamLink{
		rc:   rc,
		poll: 100 * time.Millisecond,
	}
	if dl, ok := rc.(deadliner); ok {
		link.dl = dl
	}
	return link
}

// Dial connects to the readout board at addr.
func Dial(ctx context.Context, addr string) (*StreamLink, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("daq: could not dial readout board %q: %w", addr, err)
	}
	return NewStreamLink(conn), nil
}

func (link *StreamLink) ReadWords(dst []uint32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}

	sz := 4 * len(dst)
	if cap(link.buf) < sz {
		buf := make([]byte, sz)
		copy(buf, link.buf[:link.tail])
		link.buf = buf
	}
	link.buf = link.buf[:sz]

	if link.dl != nil {
		err := link.dl.SetReadDeadline(time.Now().Add(link.poll))
		if err != nil {
			return 0, fmt.Errorf("daq: could not set read deadline: %w", err)
		}
	}

	n, err := link.rc.Read(link.buf[link.tail:])
	n += link.tail

	nw := n / 4
	for i := range dst[:nw] {
		dst[i] = binary.BigEndian.Uint32(link.buf[4*i:])
	}
	link.tail = copy(link.buf, link.buf[4*nw:n])

	switch {
	case err == nil:
		return nw, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return nw, nil
	case errors.Is(err, io.EOF):
		if link.tail > 0 {
			return nw, fmt.Errorf("daq: stream ended with %d bytes of an incomplete line: %w", link.tail, io.ErrUnexpectedEOF)
		}
		return nw, io.EOF
	default:
		return nw, fmt.Errorf("daq: could not read from link: %w", err)
	}
}

func (link *StreamLink) Close() error {
	return link.rc.Close()
}

var (
	_ Link = (*StreamLink)(nil)
)
