// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command etroc-tdaq starts a TDAQ node reading out ETROC boards.
//
// The node publishes the hits of each run on its /data output, as
// msgpack-encoded batches.
package main // import "github.com/go-lpc/etroc/cmd/etroc-tdaq"

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/etroc/daq"
	"github.com/go-lpc/etroc/tdc"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/xerrors"
)

func main() {
	cmd := flags.New()

	dev := newNode(daq.Default())
	if fname := os.Getenv("ETROC_CONFIG"); fname != "" {
		cfg, err := daq.Load(fname)
		if err != nil {
			log.Panicf("could not load run configuration: %+v", err)
		}
		dev.cfg = cfg
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/data", dev.output)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type node struct {
	cfg  daq.Config
	dial func(ctx context.Context, addr string) (daq.Link, error)
	msg  *log.Logger

	mu   sync.Mutex
	id   uint32 // current run number
	pipe *daq.Pipeline
	link daq.Link

	data    chan []byte // encoded hits, for the lifetime of the node
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func newNode(cfg daq.Config) *node {
	return &node{
		cfg: cfg,
		dial: func(ctx context.Context, addr string) (daq.Link, error) {
			return daq.Dial(ctx, addr)
		},
		msg:  log.New(os.Stdout, "etroc-tdaq: ", 0),
		data: make(chan []byte, 1024),
	}
}

func (dev *node) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := dev.configure(req.Body)
	if err != nil {
		ctx.Msg.Errorf("could not configure node: %+v", err)
		return err
	}
	return nil
}

func (dev *node) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	dev.reset()
	return nil
}

func (dev *node) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	dev.reset()
	return nil
}

func (dev *node) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	err := dev.start(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not start run: %+v", err)
		return err
	}
	return nil
}

func (dev *node) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	id, stats := dev.stats()
	ctx.Msg.Debugf(
		"received /stop command... -> run=%d lines=%d records=%d sent=%d dropped=%d",
		id, stats.Words, stats.Records, dev.sent.Load(), dev.dropped.Load(),
	)
	return nil
}

func (dev *node) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return nil
}

func (dev *node) output(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

func (dev *node) run(ctx tdaq.Context) error {
	return dev.acquire(ctx.Ctx)
}

// configure updates the run configuration with the JSON document raw.
// An empty document keeps the current configuration.
func (dev *node) configure(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	cfg := dev.cfg.Clone()
	err := json.Unmarshal(raw, &cfg)
	if err != nil {
		return xerrors.Errorf("could not decode run configuration: %w", err)
	}
	err = cfg.Validate()
	if err != nil {
		return xerrors.Errorf("invalid run configuration: %w", err)
	}
	dev.cfg = cfg
	return nil
}

func (dev *node) reset() {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.id = 0
	dev.pipe = nil
	dev.link = nil
	for drained := false; !drained; {
		select {
		case <-dev.data:
		default:
			drained = true
		}
	}
	dev.sent.Store(0)
	dev.dropped.Store(0)
}

// start connects to the readout board and prepares the pipeline of the
// next run.
func (dev *node) start(ctx context.Context) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.link != nil {
		return xerrors.Errorf("run %d still running", dev.id)
	}

	id := dev.id + 1
	cfg := dev.cfg
	cfg.Output.Dir = filepath.Join(cfg.Output.Dir, fmt.Sprintf("run_%03d", id))

	link, err := dev.dial(ctx, cfg.Addr)
	if err != nil {
		return xerrors.Errorf("could not connect to readout board: %w", err)
	}

	pipe, err := daq.New(
		cfg, link,
		daq.WithLogger(dev.msg),
		daq.WithPlotter(dev),
	)
	if err != nil {
		_ = link.Close()
		return xerrors.Errorf("could not create pipeline: %w", err)
	}

	dev.id = id
	dev.pipe = pipe
	dev.link = link
	dev.sent.Store(0)
	dev.dropped.Store(0)
	return nil
}

// acquire runs the pipeline prepared by start until ctx is done or the
// pipeline ends.
func (dev *node) acquire(ctx context.Context) error {
	dev.mu.Lock()
	var (
		id   = dev.id
		pipe = dev.pipe
		link = dev.link
	)
	dev.mu.Unlock()

	if pipe == nil {
		return xerrors.Errorf("no run to acquire")
	}
	defer func() {
		dev.mu.Lock()
		dev.link = nil
		dev.mu.Unlock()
	}()
	defer link.Close()

	err := pipe.Run(ctx)
	if err != nil {
		return xerrors.Errorf("could not run acquisition %d: %w", id, err)
	}
	return nil
}

// stats returns the current run number and its counters.
func (dev *node) stats() (uint32, daq.Stats) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.pipe == nil {
		return dev.id, daq.Stats{}
	}
	return dev.id, dev.pipe.Stats()
}

func (dev *node) current() uint32 {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.id
}

// Hit is a pixel hit published on the /data output.
type Hit struct {
	Board string `msgpack:"board"`
	Chan  uint8  `msgpack:"ch"`
	Col   uint8  `msgpack:"col"`
	Row   uint8  `msgpack:"row"`
	TOA   uint32 `msgpack:"toa"`
	TOT   uint32 `msgpack:"tot"`
	CAL   uint32 `msgpack:"cal"`
}

// Hits is a batch of hits published on the /data output.
type Hits struct {
	Run  uint32 `msgpack:"run"`
	Seq  uint64 `msgpack:"seq"`
	Hits []Hit  `msgpack:"hits"`
}

// Plot queues the hits of b for the /data output.
// Batches are dropped when the output lags behind.
func (dev *node) Plot(b daq.Batch) error {
	var (
		hits = Hits{Run: dev.current(), Seq: b.Seq, Hits: make([]Hit, 0, len(b.Records))}
		name = func(ch uint8) string {
			if int(ch) < len(b.Boards) {
				return b.Boards[ch].Name
			}
			return fmt.Sprintf("ch%d", ch)
		}
	)
	for _, rec := range b.Records {
		switch rec := rec.(type) {
		case tdc.Data:
			hits.Hits = append(hits.Hits, Hit{
				Board: name(rec.Chan),
				Chan:  rec.Chan,
				Col:   rec.Col,
				Row:   rec.Row,
				TOA:   uint32(rec.TOA),
				TOT:   uint32(rec.TOT),
				CAL:   uint32(rec.CAL),
			})
		case tdc.Hit:
			hits.Hits = append(hits.Hits, Hit{
				Board: name(rec.Chan),
				Chan:  rec.Chan,
				TOA:   rec.TOA,
				TOT:   rec.TOT,
				CAL:   rec.CAL,
			})
		}
	}
	if len(hits.Hits) == 0 {
		return nil
	}

	raw, err := msgpack.Marshal(hits)
	if err != nil {
		return xerrors.Errorf("could not encode hits of batch %d: %w", b.Seq, err)
	}

	select {
	case dev.data <- raw:
		dev.sent.Add(1)
	default:
		dev.dropped.Add(1)
	}
	return nil
}

var _ daq.Plotter = (*node)(nil)
