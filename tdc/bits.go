// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"strings"

	"golang.org/x/xerrors"
)

// MaxBits is the maximum number of bits a Bits value can hold.
const MaxBits = 64

// Bits is an ordered sequence of at most 64 bits.
// Bits are indexed most significant first: index 0 is the leftmost bit
// of the binary string representation.
//
// The zero value is the empty sequence.
type Bits struct {
	v uint64
	n uint8
}

// NewBits returns the n low-order bits of v.
func NewBits(v uint64, n int) Bits {
	if n < 0 || n > MaxBits {
		panic(xerrors.Errorf("tdc: invalid bits length %d", n))
	}
	return Bits{v: v & mask(n), n: uint8(n)}
}

// Line returns the 32-bit sequence of a readout line.
func Line(v uint32) Bits {
	return Bits{v: uint64(v), n: LineWidth}
}

// ParseBits parses a string of '0' and '1' characters.
func ParseBits(s string) (Bits, error) {
	if len(s) > MaxBits {
		return Bits{}, xerrors.Errorf("tdc: bit string too long (%d > %d)", len(s), MaxBits)
	}
	var v uint64
	for i := 0; i < len(s); i++ {
		v <<= 1
		switch s[i] {
		case '0':
		case '1':
			v |= 1
		default:
			return Bits{}, xerrors.Errorf("tdc: invalid bit %q at index %d", s[i], i)
		}
	}
	return Bits{v: v, n: uint8(len(s))}, nil
}

func mask(n int) uint64 {
	if n >= MaxBits {
		return ^uint64(0)
	}
	return 1<<uint(n) - 1
}

// Len returns the number of bits.
func (b Bits) Len() int { return int(b.n) }

// Uint returns the bits as an unsigned integer.
func (b Bits) Uint() uint64 { return b.v }

// Bit returns the i-th bit, or 0 if i is out of range.
func (b Bits) Bit(i int) uint64 {
	if i < 0 || i >= int(b.n) {
		return 0
	}
	return (b.v >> uint(int(b.n)-1-i)) & 1
}

// Slice returns the bits in [i, j).
// Indices are clamped to the available bits, so that a short sequence
// yields a shorter (possibly empty) slice.
func (b Bits) Slice(i, j int) Bits {
	n := int(b.n)
	switch {
	case j > n:
		j = n
	case j < 0:
		j = 0
	}
	switch {
	case i < 0:
		i = 0
	case i > j:
		i = j
	}
	w := j - i
	return Bits{v: (b.v >> uint(n-j)) & mask(w), n: uint8(w)}
}

// Field returns the bits in [i, j) as an unsigned integer.
func (b Bits) Field(i, j int) uint64 {
	return b.Slice(i, j).v
}

// Append returns the concatenation of b and o.
func (b Bits) Append(o Bits) Bits {
	n := int(b.n) + int(o.n)
	if n > MaxBits {
		panic(xerrors.Errorf("tdc: bits overflow (%d+%d > %d)", b.n, o.n, MaxBits))
	}
	if o.n == 0 {
		return b
	}
	return Bits{v: b.v<<uint(o.n) | o.v, n: uint8(n)}
}

// String returns the binary string representation of b, most significant
// bit first.
func (b Bits) String() string {
	var sb strings.Builder
	sb.Grow(int(b.n))
	for i := 0; i < int(b.n); i++ {
		sb.WriteByte(byte('0' + b.Bit(i)))
	}
	return sb.String()
}
