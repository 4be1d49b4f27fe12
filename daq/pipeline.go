// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-lpc/etroc/tdc"
	"golang.org/x/sync/errgroup"
)

const maxVizRecords = 1 << 16 // max number of records buffered between two plots

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger of the pipeline.
func WithLogger(msg *log.Logger) Option {
	return func(p *Pipeline) {
		p.msg = msg
	}
}

// WithRawWriter sets the raw output of the pipeline, instead of the files
// described by the run configuration.
func WithRawWriter(w RawWriter) Option {
	return func(p *Pipeline) {
		p.raw = w
	}
}

// WithRecordWriter sets the translated output of the pipeline, instead of
// the files described by the run configuration.
func WithRecordWriter(w RecordWriter) Option {
	return func(p *Pipeline) {
		p.recs = w
	}
}

// WithPlotter sets the consumer of the visualization feed.
func WithPlotter(plt Plotter) Option {
	return func(p *Pipeline) {
		p.plot = plt
	}
}

// WithMetrics sets the Prometheus metrics updated by the pipeline.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline is an acquisition pipeline reading from an ETROC readout link.
type Pipeline struct {
	cfg  Config
	link Link
	msg  *log.Logger

	raw     RawWriter
	recs    RecordWriter
	plot    Plotter
	metrics *Metrics

	newTranslator func() (translator, error)

	states  [numStages]atomic.Int32
	onState func(stage Stage, state State)
	cnt     counters
}

// translator translates readout lines into records.
type translator interface {
	Translate(line tdc.Bits) ([]tdc.Record, error)
	Discard() int
}

// New creates a new acquisition pipeline reading from link.
func New(cfg Config, link Link, opts ...Option) (*Pipeline, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("daq: invalid run configuration: %w", err)
	}

	_, err = tdc.NewClassifier(cfg.Boards)
	if err != nil {
		return nil, fmt.Errorf("daq: invalid board table: %w", err)
	}

	p := &Pipeline{
		cfg:  cfg,
		link: link,
		msg:  log.New(os.Stdout, "daq: ", 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.newTranslator = func() (translator, error) {
		return tdc.NewTranslator(
			p.cfg.Boards,
			tdc.WithTimestamp(p.cfg.Timestamp),
			tdc.WithWarn(func(err error) { p.msg.Printf("%+v", err) }),
		)
	}
	return p, nil
}

// State returns the current state of a stage.
func (p *Pipeline) State(stage Stage) State {
	return State(p.states[stage].Load())
}

func (p *Pipeline) setState(stage Stage, state State) {
	p.states[stage].Store(int32(state))
	p.metrics.setState(stage, state)
	if p.onState != nil {
		p.onState(stage, state)
	}
}

// Stats returns the counters of the run.
func (p *Pipeline) Stats() Stats {
	return p.cnt.stats()
}

// Run runs the acquisition until ctx is done, the time budget of the run
// is exhausted, the requested number of lines was received or the link
// reached the end of its stream.
//
// Run returns once all stages have stopped, with the first error
// encountered by a stage.
// Run closes the outputs of the pipeline, but not its link.
func (p *Pipeline) Run(ctx context.Context) error {
	tr, err := p.newTranslator()
	if err != nil {
		return fmt.Errorf("daq: could not create translator: %w", err)
	}

	err = p.open()
	if err != nil {
		return err
	}

	var (
		qsize = p.cfg.QueueSize

		raw  = make(chan Chunk, qsize) // receive -> persist
		fwd  = make(chan Chunk, qsize) // persist -> translate
		out  = make(chan Batch, qsize) // translate -> persist
		feed = make(chan Batch, qsize) // translate -> visualize
		done = make(chan struct{})     // closed when acquisition is done

		grp errgroup.Group
	)

	rctx, stopRecv := context.WithCancel(ctx)
	defer stopRecv()

	if d := p.cfg.Duration.Duration; d > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(rctx, d)
		defer cancel()
	}

	grp.Go(func() error {
		defer close(raw)
		return p.receive(rctx, raw)
	})
	grp.Go(func() error {
		defer close(done)
		return p.persist(raw, fwd, out, stopRecv)
	})
	grp.Go(func() error {
		return p.translate(tr, fwd, out, feed, stopRecv)
	})
	grp.Go(func() error {
		return p.visualize(feed, done)
	})

	return grp.Wait()
}

func (p *Pipeline) open() error {
	if p.raw == nil {
		raw, err := NewRawWriter(p.cfg.Output)
		if err != nil {
			return fmt.Errorf("daq: could not open raw output: %w", err)
		}
		p.raw = raw
	}
	if p.recs == nil {
		recs, err := NewRecordWriter(p.cfg.Output)
		if err != nil {
			_ = p.raw.Close()
			return fmt.Errorf("daq: could not open translated output: %w", err)
		}
		p.recs = recs
	}
	return nil
}

func (p *Pipeline) receive(ctx context.Context, raw chan<- Chunk) error {
	p.setState(Receive, Running)
	defer p.setState(Receive, Stopped)

	var (
		seq  uint64
		max  = p.cfg.MaxWords()
		size = p.cfg.ChunkSize
	)
	for {
		select {
		case <-ctx.Done():
			p.setState(Receive, Draining)
			p.msg.Printf("receive: stop requested after %d chunks", seq)
			return nil
		default:
		}

		words := make([]uint32, size)
		n, err := p.link.ReadWords(words)
		if max > 0 {
			if left := max - p.cnt.words.Load(); uint64(n) >= left {
				n = int(left)
				err = errBudget
			}
		}
		if n > 0 {
			c := Chunk{
				Seq:       seq,
				Timestamp: p.cfg.Timestamp,
				Words:     words[:n:n],
			}
			seq++
			p.cnt.chunks.Add(1)
			p.cnt.words.Add(uint64(n))
			p.metrics.addChunk(n)
			raw <- c
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, errBudget):
			p.setState(Receive, Draining)
			p.msg.Printf("receive: requested number of lines received (%d)", max)
			return nil
		case errors.Is(err, io.EOF):
			p.setState(Receive, Draining)
			p.msg.Printf("receive: end of stream after %d chunks", seq)
			return nil
		default:
			p.setState(Receive, Draining)
			return fmt.Errorf("daq: could not receive chunk %d: %w", seq, err)
		}
	}
}

var errBudget = errors.New("daq: line budget exhausted")

func (p *Pipeline) persist(raw <-chan Chunk, fwd chan<- Chunk, out <-chan Batch, stopRecv func()) error {
	p.setState(Persist, Running)
	defer p.setState(Persist, Stopped)

	var failed error
	fail := func(err error) {
		if failed != nil {
			return
		}
		failed = err
		p.msg.Printf("persist: %+v", err)
		stopRecv()
	}

	write := func(b Batch, ok bool) bool {
		if !ok {
			return false
		}
		if failed != nil {
			return true
		}
		err := p.recs.WriteBatch(b)
		if err != nil {
			fail(fmt.Errorf("daq: could not write batch %d: %w", b.Seq, err))
			return true
		}
		p.cnt.batches.Add(1)
		return true
	}

	in := raw
	for in != nil || out != nil {
		select {
		case c, ok := <-in:
			if !ok {
				in = nil
				close(fwd)
				p.setState(Persist, Draining)
				continue
			}
			if failed == nil {
				err := p.raw.WriteChunk(c)
				if err != nil {
					fail(fmt.Errorf("daq: could not write chunk %d: %w", c.Seq, err))
				} else {
					p.cnt.persisted.Add(uint64(len(c.Words)))
					p.metrics.addWords(Persist, len(c.Words))
				}
			}

			// keep consuming translated batches while the forward
			// queue is full.
		forward:
			for {
				select {
				case fwd <- c:
					break forward
				case b, ok := <-out:
					if !write(b, ok) {
						out = nil
					}
				}
			}

		case b, ok := <-out:
			if !write(b, ok) {
				out = nil
			}
		}
	}

	errRaw := p.raw.Close()
	if errRaw != nil {
		errRaw = fmt.Errorf("daq: could not close raw output: %w", errRaw)
	}
	errRecs := p.recs.Close()
	if errRecs != nil {
		errRecs = fmt.Errorf("daq: could not close translated output: %w", errRecs)
	}

	switch {
	case failed != nil:
		return failed
	case errRaw != nil:
		return errRaw
	default:
		return errRecs
	}
}

func (p *Pipeline) translate(tr translator, fwd <-chan Chunk, out, feed chan<- Batch, stopRecv func()) error {
	p.setState(Translate, Running)
	defer close(feed)
	defer close(out)
	defer p.setState(Translate, Stopped)

	var failed error
	for c := range fwd {
		if failed != nil {
			p.cnt.discarded.Add(uint64(len(c.Words)))
			continue
		}

		var recs []tdc.Record
		for i, word := range c.Words {
			vs, err := tr.Translate(tdc.Line(word))
			recs = append(recs, vs...)
			if err != nil {
				failed = fmt.Errorf("daq: could not translate chunk %d: %w", c.Seq, err)
				p.msg.Printf("translate: %+v", failed)
				p.cnt.translated.Add(uint64(i + 1))
				p.cnt.discarded.Add(uint64(len(c.Words) - i - 1))
				stopRecv()
				break
			}
		}
		if failed == nil {
			p.cnt.translated.Add(uint64(len(c.Words)))
			p.metrics.addWords(Translate, len(c.Words))
		}

		if len(recs) == 0 {
			continue
		}
		p.cnt.records.Add(uint64(len(recs)))
		p.metrics.addRecords(recs)

		if p.cfg.Output.Translate != TranslateNone {
			keep := p.filter(recs, p.cfg.Output.Translate == TranslateData)
			if len(keep) > 0 {
				out <- Batch{Seq: c.Seq, Records: keep, Boards: p.cfg.Boards}
			}
		}

		if p.plot == nil {
			continue
		}
		if hits := p.filter(recs, true); len(hits) > 0 {
			select {
			case feed <- Batch{Seq: c.Seq, Records: hits, Boards: p.cfg.Boards}:
			default:
				p.cnt.dropped.Add(1)
				p.metrics.addDropped()
			}
		}
	}

	p.setState(Translate, Draining)
	if n := tr.Discard(); n > 0 {
		p.cnt.open.Add(uint64(n))
		p.msg.Printf("translate: %d records without frame trailer dropped", n)
	}

	return failed
}

// filter returns the hits of recs if hitsOnly is set, and recs otherwise.
func (p *Pipeline) filter(recs []tdc.Record, hitsOnly bool) []tdc.Record {
	if !hitsOnly {
		return recs
	}
	hits := make([]tdc.Record, 0, len(recs))
	for _, rec := range recs {
		if isHit(rec) {
			hits = append(hits, rec)
		}
	}
	return hits
}

func (p *Pipeline) visualize(feed <-chan Batch, done <-chan struct{}) error {
	p.setState(Visualize, Running)
	defer p.setState(Visualize, Stopped)

	if p.plot == nil {
		for range feed {
		}
		p.setState(Visualize, Draining)
		<-done
		return nil
	}

	every := p.cfg.Viz.Every.Duration
	if every <= 0 {
		every = time.Second
	}
	tck := time.NewTicker(every)
	defer tck.Stop()

	var cur Batch
	flush := func() {
		if len(cur.Records) == 0 {
			return
		}
		err := p.plot.Plot(cur)
		if err != nil {
			p.msg.Printf("visualize: could not plot batch %d: %+v", cur.Seq, err)
		}
		p.cnt.plotted.Add(1)
		cur = Batch{}
	}

	for {
		select {
		case b, ok := <-feed:
			if !ok {
				p.setState(Visualize, Draining)
				<-done
				flush()
				return nil
			}
			if len(cur.Records)+len(b.Records) > maxVizRecords {
				p.cnt.dropped.Add(1)
				p.metrics.addDropped()
				continue
			}
			cur.Seq = b.Seq
			cur.Boards = b.Boards
			cur.Records = append(cur.Records, b.Records...)
		case <-tck.C:
			flush()
		}
	}
}
