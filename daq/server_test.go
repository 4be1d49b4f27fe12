// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/etroc/tdc"
)

func TestServer(t *testing.T) {
	tmp := t.TempDir()

	srv, err := NewServer(
		"localhost:0", Default(),
		WithLogger(log.New(io.Discard, "daq: ", 0)),
	)
	if err != nil {
		t.Fatalf("could not create server: %+v", err)
	}
	srv.msg = log.New(io.Discard, "daq-srv: ", 0)
	srv.Dial = func(ctx context.Context, addr string) (Link, error) {
		return newGenLink(128), nil
	}
	errc := make(chan error, 1)
	srv.OnError = func(run uint32, err error) {
		errc <- err
	}

	go func() {
		_ = srv.Serve()
	}()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("could not dial server: %+v", err)
	}
	defer conn.Close()

	var (
		enc = json.NewEncoder(conn)
		dec = json.NewDecoder(conn)
	)

	send := func(name string, args interface{}) Reply {
		t.Helper()
		req := Request{Name: name}
		if args != nil {
			raw, err := json.Marshal(args)
			if err != nil {
				t.Fatalf("could not encode %q args: %+v", name, err)
			}
			req.Args = raw
		}
		err := enc.Encode(req)
		if err != nil {
			t.Fatalf("could not send %q request: %+v", name, err)
		}
		var rep Reply
		err = dec.Decode(&rep)
		if err != nil {
			t.Fatalf("could not decode %q reply: %+v", name, err)
		}
		return rep
	}

	for _, tc := range []struct {
		name string
		args interface{}
		want string
	}{
		{"configure", map[string]interface{}{"chunk_size": 0}, "invalid chunk size"},
		{"configure", map[string]interface{}{"output": map[string]interface{}{"raw": "none"}}, "invalid raw output mode"},
		{"start", []string{"1", "2"}, "invalid number of arguments"},
		{"start", []string{"run"}, "invalid syntax"},
		{"stop", nil, "no run to stop"},
		{"reset", nil, `unknown command "reset"`},
	} {
		rep := send(tc.name, tc.args)
		if !strings.Contains(rep.Msg, tc.want) {
			t.Fatalf("invalid %q reply: got=%q, want=%q", tc.name, rep.Msg, tc.want)
		}
	}

	rep := send("configure", map[string]interface{}{
		"chunk_size": 64,
		"output": map[string]interface{}{
			"dir":            tmp,
			"lines_per_file": 1000,
			"num_files":      0,
			"raw":            "compact",
			"format":         "msgpack",
		},
	})
	if rep.Msg != "ok" {
		t.Fatalf("could not configure server: %s", rep.Msg)
	}

	rep = send("start", []string{"42"})
	if rep.Msg != "ok" || rep.Run != 42 {
		t.Fatalf("could not start run: %+v", rep)
	}

	rep = send("start", []string{"43"})
	if want := "run 42 still running"; !strings.Contains(rep.Msg, want) {
		t.Fatalf("invalid start reply: got=%q, want=%q", rep.Msg, want)
	}

	time.Sleep(50 * time.Millisecond)

	rep = send("status", nil)
	if rep.Msg != "ok" || rep.Run != 42 {
		t.Fatalf("invalid status reply: %+v", rep)
	}
	if got, want := rep.States["receive"], "running"; got != want {
		t.Fatalf("invalid receive state: got=%q, want=%q", got, want)
	}
	if rep.Stats == nil || rep.Stats.Words == 0 {
		t.Fatalf("no data received: %+v", rep.Stats)
	}

	rep = send("stop", nil)
	if rep.Msg != "ok" || rep.Run != 42 {
		t.Fatalf("could not stop run: %+v", rep)
	}
	if rep.Stats == nil {
		t.Fatalf("missing run statistics")
	}
	if got, want := rep.Stats.Persisted, rep.Stats.Words; got != want {
		t.Fatalf("invalid persisted lines: got=%d, want=%d", got, want)
	}

	fi, err := os.Stat(filepath.Join(tmp, "run_042", "raw_000.bin"))
	if err != nil {
		t.Fatalf("could not stat raw output: %+v", err)
	}
	if fi.Size() == 0 {
		t.Fatalf("empty raw output")
	}
	_, err = os.Stat(filepath.Join(tmp, "run_042", "tdc_000.msgpack"))
	if err != nil {
		t.Fatalf("could not stat translated output: %+v", err)
	}

	rep = send("status", nil)
	if rep.Msg != "ok" || rep.Run != 0 || rep.Stats != nil {
		t.Fatalf("invalid idle status reply: %+v", rep)
	}

	select {
	case err := <-errc:
		t.Fatalf("unexpected run error: %+v", err)
	default:
	}

	_ = conn.Close()
	err = srv.Close()
	if err != nil {
		t.Fatalf("could not close server: %+v", err)
	}
}

func TestServerConfigureRejected(t *testing.T) {
	srv, err := NewServer("localhost:0", Default())
	if err != nil {
		t.Fatalf("could not create server: %+v", err)
	}
	defer srv.Close()

	want := srv.cfg.Clone()
	for _, tc := range []struct {
		name string
		args string
	}{
		{"invalid-chunk", `{"chunk_size":0,"boards":[{"name":"B0","type":2,"id":"11111111111111111"}]}`},
		{"invalid-board", `{"boards":[{"name":"B0","type":2,"id":"00111100101110000"}]}`},
		{"invalid-json", `{"boards":[{"name":"B0","type":"etroc2"}]}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := srv.configure(json.RawMessage(tc.args))
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !reflect.DeepEqual(srv.cfg, want) {
				t.Fatalf("configuration modified:\ngot= %+v\nwant=%+v", srv.cfg, want)
			}
		})
	}

	err = srv.configure(json.RawMessage(`{"boards":[{"name":"B0","type":2,"size":256,"id":"11111111111111111"}]}`))
	if err != nil {
		t.Fatalf("could not configure server: %+v", err)
	}
	if got, want := srv.cfg.Boards, []tdc.Board{{Name: "B0", Type: tdc.ETROC2, Size: 256, ID: "11111111111111111"}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid boards:\ngot= %+v\nwant=%+v", got, want)
	}
	if got, want := tdc.DefaultBoards()[0].Name, "F28"; got != want {
		t.Fatalf("default boards modified: got=%q, want=%q", got, want)
	}
}
