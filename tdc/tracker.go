// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tdc

// Group is the ordered sequence of records of a channel, up to and
// including the trailer closing the frame.
type Group struct {
	Chan    uint8
	Records []Record
}

// Tracker groups the records of each channel between frame trailers.
type Tracker struct {
	open map[uint8][]Record
}

// NewTracker returns a new channel group tracker.
func NewTracker() *Tracker {
	return &Tracker{open: make(map[uint8][]Record)}
}

// Observe appends rec to the open group of channel ch.
// When rec is a Trailer, the completed group is returned and the channel
// starts a new group. The returned records are owned by the caller.
func (trk *Tracker) Observe(ch uint8, rec Record) (Group, bool) {
	recs := append(trk.open[ch], rec)
	if rec.Kind() != KindTrailer {
		trk.open[ch] = recs
		return Group{}, false
	}
	delete(trk.open, ch)
	return Group{Chan: ch, Records: recs}, true
}

// Open returns the number of records buffered for channel ch.
func (trk *Tracker) Open(ch uint8) int {
	return len(trk.open[ch])
}

// Discard drops all open groups and returns the number of records dropped.
func (trk *Tracker) Discard() int {
	n := 0
	for ch, recs := range trk.open {
		n += len(recs)
		delete(trk.open, ch)
	}
	return n
}
