// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

import (
	"fmt"
)

// Kind identifies the type of a decoded record.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindHeader
	KindTrailer
	KindFrameFiller
	KindFirmwareFiller
	KindData
	KindTiming
	KindHit
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "HEADER"
	case KindTrailer:
		return "TRAILER"
	case KindFrameFiller:
		return "FRAMEFILLER"
	case KindFirmwareFiller:
		return "FIRMWAREFILLER"
	case KindData:
		return "DATA"
	case KindTiming:
		return "TIMING"
	case KindHit:
		return "ETROC1"
	default:
		return "UNKNOWN"
	}
}

// Record is a decoded TDC record.
//
// String returns the text form of the record, as written in translated
// output files.
type Record interface {
	Kind() Kind
	String() string
}

// Header is an ETROC2 frame header.
type Header struct {
	Chan      uint8  `json:"ch"`
	L1Counter uint8  `json:"l1counter"`
	Type      uint8  `json:"type"`
	BCID      uint16 `json:"bcid"`
}

func (Header) Kind() Kind { return KindHeader }
func (rec Header) String() string {
	return fmt.Sprintf(
		"ETROC2 %d HEADER L1COUNTER %08b TYPE %02b BCID %012b",
		rec.Chan, rec.L1Counter, rec.Type, rec.BCID,
	)
}

// Trailer is an ETROC2 frame trailer. It closes the frame of a channel.
type Trailer struct {
	Chan   uint8  `json:"ch"`
	ChipID uint32 `json:"chipid"`
	Status uint8  `json:"status"`
	Hits   uint8  `json:"hits"`
	CRC    uint8  `json:"crc"`
}

func (Trailer) Kind() Kind { return KindTrailer }
func (rec Trailer) String() string {
	return fmt.Sprintf(
		"ETROC2 %d TRAILER CHIPID %017b STATUS %06b HITS %08b CRC %08b",
		rec.Chan, rec.ChipID, rec.Status, rec.Hits, rec.CRC,
	)
}

// FrameFiller is an ETROC2 idle word, sent when no data is pending.
type FrameFiller struct {
	Chan      uint8  `json:"ch"`
	L1Counter uint8  `json:"l1counter"`
	EBS       uint8  `json:"ebs"`
	BCID      uint16 `json:"bcid"`
}

func (FrameFiller) Kind() Kind { return KindFrameFiller }
func (rec FrameFiller) String() string {
	return fmt.Sprintf(
		"ETROC2 %d FRAMEFILLER L1COUNTER %08b EBS %02b BCID %012b",
		rec.Chan, rec.L1Counter, rec.EBS, rec.BCID,
	)
}

// FirmwareFiller is an idle word inserted by the readout board firmware.
type FirmwareFiller struct {
	Chan         uint8  `json:"ch"`
	MissingCount uint32 `json:"missingcount"`
}

func (FirmwareFiller) Kind() Kind { return KindFirmwareFiller }
func (rec FirmwareFiller) String() string {
	return fmt.Sprintf(
		"ETROC2 %d FIRMWAREFILLER MISSINGCOUNT %022b",
		rec.Chan, rec.MissingCount,
	)
}

// Data is an ETROC2 pixel hit.
type Data struct {
	Chan uint8  `json:"ch"`
	EA   uint8  `json:"ea"`  // enable bits
	Col  uint8  `json:"col"` // pixel column
	Row  uint8  `json:"row"` // pixel row
	TOA  uint16 `json:"toa"` // time of arrival
	TOT  uint16 `json:"tot"` // time over threshold
	CAL  uint16 `json:"cal"` // calibration code
}

func (Data) Kind() Kind { return KindData }
func (rec Data) String() string {
	return fmt.Sprintf(
		"ETROC2 %d DATA EA %02b COL %d ROW %d TOA %d TOT %d CAL %d",
		rec.Chan, rec.EA, rec.Col, rec.Row, rec.TOA, rec.TOT, rec.CAL,
	)
}

// TimeCode is the type of a control timing record.
type TimeCode uint8

const (
	NormTrig   TimeCode = 0x0 // normal trigger
	RandTrig   TimeCode = 0x1 // random trigger
	FillerTime TimeCode = 0x2 // filler
	MSBTime    TimeCode = 0x3 // most significant bits of the time counter
)

func (tc TimeCode) String() string {
	switch tc {
	case NormTrig:
		return "NORMTRIG"
	case RandTrig:
		return "RANDTRIG"
	case FillerTime:
		return "FILLERTIME"
	case MSBTime:
		return "MSBTIME"
	default:
		return fmt.Sprintf("TimeCode(%d)", uint8(tc))
	}
}

// Timing is a control record from the readout board, carrying a time
// measurement in clock cycles.
type Timing struct {
	Code  TimeCode `json:"code"`
	Value uint64   `json:"value"`
}

func (Timing) Kind() Kind { return KindTiming }
func (rec Timing) String() string {
	return fmt.Sprintf("%v %d", rec.Code, rec.Value)
}

// Hit is an ETROC1 hit.
type Hit struct {
	Chan uint8  `json:"ch"`
	TOT  uint32 `json:"tot"`
	TOA  uint32 `json:"toa"`
	CAL  uint32 `json:"cal"`
}

func (Hit) Kind() Kind { return KindHit }
func (rec Hit) String() string {
	return fmt.Sprintf("ETROC1 %d %d %d %d", rec.Chan, rec.TOT, rec.TOA, rec.CAL)
}

// Unknown is an ETROC2 word matching none of the known patterns.
type Unknown struct {
	Chan uint8  `json:"ch"`
	Word uint64 `json:"word"`
	Len  int    `json:"len"`
}

func (Unknown) Kind() Kind { return KindUnknown }
func (rec Unknown) String() string {
	return fmt.Sprintf("ETROC2 %d UNKNOWN %v", rec.Chan, NewBits(rec.Word, rec.Len))
}

var (
	_ Record = (*Header)(nil)
	_ Record = (*Trailer)(nil)
	_ Record = (*FrameFiller)(nil)
	_ Record = (*FirmwareFiller)(nil)
	_ Record = (*Data)(nil)
	_ Record = (*Timing)(nil)
	_ Record = (*Hit)(nil)
	_ Record = (*Unknown)(nil)
)
