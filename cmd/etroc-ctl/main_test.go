// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"testing"

	"github.com/go-lpc/etroc/daq"
)

func TestParse(t *testing.T) {
	load := func(fname string) (daq.Config, error) {
		if fname != "run.yaml" {
			return daq.Config{}, fmt.Errorf("no such file %q", fname)
		}
		cfg := daq.Default()
		cfg.ChunkSize = 64
		return cfg, nil
	}

	for _, tc := range []struct {
		line string
		name string
		args string
		err  string
	}{
		{line: "start 42", name: "start", args: `["42"]`},
		{line: "START   7", name: "start", args: `["7"]`},
		{line: "stop", name: "stop"},
		{line: "status", name: "status"},
		{line: "start", err: "usage: start RUN"},
		{line: "start run", err: `invalid run number "run"`},
		{line: "start -1", err: `invalid run number "-1"`},
		{line: "stop now", err: "usage: stop"},
		{line: "configure", err: "usage: configure FILE"},
		{line: "configure nope.yaml", err: `no such file "nope.yaml"`},
		{line: "reset", err: `unknown command "reset"`},
	} {
		t.Run(tc.line, func(t *testing.T) {
			req, err := parse(tc.line, load)
			switch {
			case tc.err != "":
				if err == nil || !strings.Contains(err.Error(), tc.err) {
					t.Fatalf("invalid error: got=%v, want=%q", err, tc.err)
				}
				return
			case err != nil:
				t.Fatalf("could not parse %q: %+v", tc.line, err)
			}
			if got, want := req.Name, tc.name; got != want {
				t.Fatalf("invalid name: got=%q, want=%q", got, want)
			}
			if got, want := string(req.Args), tc.args; got != want {
				t.Fatalf("invalid args: got=%q, want=%q", got, want)
			}
		})
	}

	req, err := parse("configure run.yaml", load)
	if err != nil {
		t.Fatalf("could not parse configure: %+v", err)
	}
	var cfg daq.Config
	err = json.Unmarshal(req.Args, &cfg)
	if err != nil {
		t.Fatalf("could not decode configuration: %+v", err)
	}
	if got, want := cfg.ChunkSize, 64; got != want {
		t.Fatalf("invalid chunk size: got=%d, want=%d", got, want)
	}
}

func TestClient(t *testing.T) {
	srv, err := daq.NewServer(
		"localhost:0", daq.Default(),
		daq.WithLogger(log.New(io.Discard, "daq: ", 0)),
	)
	if err != nil {
		t.Fatalf("could not create server: %+v", err)
	}
	defer srv.Close()

	go func() {
		_ = srv.Serve()
	}()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("could not dial server: %+v", err)
	}
	defer conn.Close()

	cli := newClient(conn)
	for _, tc := range []struct {
		line string
		want string
	}{
		{"status", "ok\n"},
		{"stop", "no run to stop\n"},
	} {
		req, err := parse(tc.line, daq.Load)
		if err != nil {
			t.Fatalf("could not parse %q: %+v", tc.line, err)
		}
		rep, err := cli.send(req)
		if err != nil {
			t.Fatalf("could not send %q: %+v", tc.line, err)
		}
		out := new(strings.Builder)
		display(out, rep)
		if got, want := out.String(), tc.want; got != want {
			t.Fatalf("invalid %q reply:\ngot= %q\nwant=%q", tc.line, got, want)
		}
	}
}

func TestDisplay(t *testing.T) {
	out := new(strings.Builder)
	display(out, daq.Reply{
		Msg: "ok",
		Run: 42,
		States: map[string]string{
			"visualize": "running",
			"receive":   "stopped",
		},
		Stats: &daq.Stats{Words: 10, Records: 8, Dropped: 1},
	})
	want := "ok run=42\n  receive=stopped visualize=running\n  lines=10 records=8 dropped=1\n"
	if got := out.String(); got != want {
		t.Fatalf("invalid display:\ngot= %q\nwant=%q", got, want)
	}
}
