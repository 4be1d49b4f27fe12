// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Request is a request sent to the control server.
type Request struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Reply is the reply of the control server to a request.
type Reply struct {
	Msg    string            `json:"msg"`
	Run    uint32            `json:"run,omitempty"`
	States map[string]string `json:"states,omitempty"`
	Stats  *Stats            `json:"stats,omitempty"`
}

// Server controls acquisition runs through JSON requests over TCP.
//
// The server understands the following requests:
//   - configure: args holds the Config of the next runs,
//   - start: args holds the run number, as a one-element list of strings,
//   - stop: stops the current run and waits for all stages to stop,
//   - status: reports the state of the current run.
type Server struct {
	ctl net.Listener
	msg *log.Logger

	cfg  Config
	opts []Option

	// Dial connects to the readout board of a run.
	Dial func(ctx context.Context, addr string) (Link, error)

	// OnError is called when a run stops with an error.
	OnError func(run uint32, err error)

	cur *session
}

type session struct {
	id     uint32
	pipe   *Pipeline
	link   Link
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewServer creates a control server listening on addr.
// Pipelines of the runs are created with cfg and opts.
func NewServer(addr string, cfg Config, opts ...Option) (*Server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("daq: could not create control server on %q: %w", addr, err)
	}

	srv := &Server{
		ctl:  ctl,
		msg:  log.New(os.Stdout, "daq-srv: ", 0),
		cfg:  cfg,
		opts: opts,
		Dial: func(ctx context.Context, addr string) (Link, error) {
			return Dial(ctx, addr)
		},
	}
	return srv, nil
}

// Addr returns the address the server listens on.
func (srv *Server) Addr() net.Addr {
	return srv.ctl.Addr()
}

// Serve accepts and handles control connections, one at a time.
func (srv *Server) Serve() error {
	defer srv.Close()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			return fmt.Errorf("daq: could not accept connection: %w", err)
		}

		err = srv.handle(conn)
		if err != nil {
			srv.msg.Printf("could not handle connection: %+v", err)
			continue
		}
	}
}

// Close stops the current run and closes the server.
func (srv *Server) Close() error {
	if srv.cur != nil {
		_ = srv.stop()
	}
	return srv.ctl.Close()
}

func (srv *Server) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	dec := json.NewDecoder(conn)
	for {
		var req Request
		err := dec.Decode(&req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			srv.msg.Printf("could not decode command request: %+v", err)
			srv.reply(conn, Reply{}, err)
			return fmt.Errorf("daq: could not decode request: %w", err)
		}
		srv.msg.Printf("received request: name=%q", req.Name)

		switch strings.ToLower(req.Name) {
		case "configure":
			err = srv.configure(req.Args)
			if err != nil {
				srv.msg.Printf("could not configure: %+v", err)
			}
			srv.reply(conn, Reply{}, err)

		case "start":
			var args []string
			err = json.Unmarshal(req.Args, &args)
			if err == nil && len(args) != 1 {
				err = fmt.Errorf("invalid number of arguments (got=%d, want=1)", len(args))
			}
			if err != nil {
				srv.msg.Printf("could not decode %q payload: %+v", req.Name, err)
				srv.reply(conn, Reply{}, err)
				continue
			}

			run, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				srv.msg.Printf("could not decode run-nbr for start-run (args=%v): %+v", args, err)
				srv.reply(conn, Reply{}, err)
				continue
			}

			err = srv.start(uint32(run))
			if err != nil {
				srv.msg.Printf("could not start run %d: %+v", run, err)
			}
			srv.reply(conn, Reply{Run: uint32(run)}, err)

		case "stop":
			if srv.cur == nil {
				srv.reply(conn, Reply{}, fmt.Errorf("no run to stop"))
				continue
			}
			var (
				id    = srv.cur.id
				pipe  = srv.cur.pipe
				err   = srv.stop()
				stats = pipe.Stats()
			)
			if err != nil {
				srv.msg.Printf("could not stop run %d: %+v", id, err)
			}
			srv.reply(conn, Reply{Run: id, Stats: &stats}, err)

		case "status":
			if srv.cur == nil {
				srv.reply(conn, Reply{}, nil)
				continue
			}
			var (
				pipe  = srv.cur.pipe
				stats = pipe.Stats()
				rep   = Reply{
					Run:    srv.cur.id,
					States: make(map[string]string, numStages),
					Stats:  &stats,
				}
			)
			for stage := Stage(0); stage < numStages; stage++ {
				rep.States[stage.String()] = pipe.State(stage).String()
			}
			srv.reply(conn, rep, nil)

		default:
			srv.msg.Printf("unknown command name=%q, args=%q", req.Name, req.Args)
			srv.reply(conn, Reply{}, fmt.Errorf("unknown command %q", req.Name))
		}
	}
}

// configure merges the JSON document raw into the configuration of the
// next runs. The configuration is left untouched when raw is invalid.
func (srv *Server) configure(raw json.RawMessage) error {
	cfg := srv.cfg.Clone()
	err := json.Unmarshal(raw, &cfg)
	if err != nil {
		return fmt.Errorf("daq: could not decode configuration: %w", err)
	}
	err = cfg.Validate()
	if err != nil {
		return err
	}
	srv.cfg = cfg
	return nil
}

func (srv *Server) start(run uint32) error {
	if srv.cur != nil {
		select {
		case <-srv.cur.done:
			// previous run ended on its own.
			_ = srv.stop()
		default:
			return fmt.Errorf("run %d still running", srv.cur.id)
		}
	}

	cfg := srv.cfg.Clone()
	cfg.Output.Dir = filepath.Join(cfg.Output.Dir, fmt.Sprintf("run_%03d", run))

	ctx, cancel := context.WithCancel(context.Background())
	link, err := srv.Dial(ctx, cfg.Addr)
	if err != nil {
		cancel()
		return fmt.Errorf("daq: could not connect to readout board: %w", err)
	}

	pipe, err := New(cfg, link, srv.opts...)
	if err != nil {
		cancel()
		_ = link.Close()
		return fmt.Errorf("daq: could not create pipeline: %w", err)
	}

	cur := &session{
		id:     run,
		pipe:   pipe,
		link:   link,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(cur.done)
		cur.err = pipe.Run(ctx)
		if cur.err != nil && srv.OnError != nil {
			srv.OnError(cur.id, cur.err)
		}
	}()
	srv.cur = cur

	return nil
}

func (srv *Server) stop() error {
	cur := srv.cur
	srv.cur = nil
	cur.cancel()
	defer cur.link.Close()

	const timeout = 10 * time.Second
	tck := time.NewTimer(timeout)
	defer tck.Stop()

	select {
	case <-cur.done:
	case <-tck.C:
		return fmt.Errorf("daq: could not stop run %d (timeout=%v)", cur.id, timeout)
	}

	if cur.err != nil {
		return fmt.Errorf("daq: error during run %d: %w", cur.id, cur.err)
	}
	return nil
}

func (srv *Server) reply(conn net.Conn, rep Reply, err error) {
	rep.Msg = "ok"
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
	}

	_ = json.NewEncoder(conn).Encode(rep)
}
