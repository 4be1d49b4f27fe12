// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command etroc-ctl is an interactive client of etroc-srv.
//
// Usage: etroc-ctl [OPTIONS]
//
// Example:
//
//	$> etroc-ctl -addr localhost:8877
//	etroc> configure ./run.yaml
//	ok
//	etroc> start 42
//	ok
//	etroc> status
//	ok run=42
//	  persist=running receive=running translate=running visualize=running
//	  lines=1234567 records=1234567 dropped=0
//	etroc> stop
//	ok
//	etroc> quit
package main // import "github.com/go-lpc/etroc/cmd/etroc-ctl"

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/etroc/daq"
	"github.com/peterh/liner"
)

func main() {
	var (
		addr = flag.String("addr", "localhost:8877", "[ip]:port of etroc-srv")
	)

	log.SetPrefix("etroc-ctl: ")
	log.SetFlags(0)

	flag.Parse()

	err := run(*addr)
	if err != nil {
		log.Fatalf("could not run etroc-ctl: %+v", err)
	}
}

func run(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not dial etroc-srv %q: %w", addr, err)
	}
	defer conn.Close()

	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	hist := filepath.Join(os.TempDir(), ".etroc-ctl.history")
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	cli := newClient(conn)
	for {
		line, err := term.Prompt("etroc> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		if line == "quit" || line == "exit" {
			return nil
		}

		req, err := parse(line, daq.Load)
		if err != nil {
			fmt.Printf("error: %+v\n", err)
			continue
		}

		rep, err := cli.send(req)
		if err != nil {
			return fmt.Errorf("could not send %q request: %w", req.Name, err)
		}
		display(os.Stdout, rep)
	}
}

// parse parses a command line into a request.
// load loads the run configuration of a configure command.
func parse(line string, load func(fname string) (daq.Config, error)) (daq.Request, error) {
	if strings.TrimSpace(line) == "" {
		return daq.Request{}, fmt.Errorf("empty command")
	}
	var (
		toks = strings.Fields(line)
		req  = daq.Request{Name: strings.ToLower(toks[0])}
		args = toks[1:]
	)

	switch req.Name {
	case "configure":
		if len(args) != 1 {
			return req, fmt.Errorf("usage: configure FILE")
		}
		cfg, err := load(args[0])
		if err != nil {
			return req, err
		}
		req.Args, err = json.Marshal(cfg)
		if err != nil {
			return req, fmt.Errorf("could not encode run configuration: %w", err)
		}

	case "start":
		if len(args) != 1 {
			return req, fmt.Errorf("usage: start RUN")
		}
		_, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return req, fmt.Errorf("invalid run number %q: %w", args[0], err)
		}
		req.Args, _ = json.Marshal(args)

	case "stop", "status":
		if len(args) != 0 {
			return req, fmt.Errorf("usage: %s", req.Name)
		}

	default:
		return req, fmt.Errorf("unknown command %q (want: configure, start, stop, status, quit)", toks[0])
	}

	return req, nil
}

type client struct {
	enc *json.Encoder
	dec *json.Decoder
}

func newClient(conn io.ReadWriter) *client {
	return &client{
		enc: json.NewEncoder(conn),
		dec: json.NewDecoder(conn),
	}
}

func (cli *client) send(req daq.Request) (daq.Reply, error) {
	var rep daq.Reply
	err := cli.enc.Encode(req)
	if err != nil {
		return rep, fmt.Errorf("could not encode request: %w", err)
	}
	err = cli.dec.Decode(&rep)
	if err != nil {
		return rep, fmt.Errorf("could not decode reply: %w", err)
	}
	return rep, nil
}

func display(w io.Writer, rep daq.Reply) {
	if rep.Run == 0 && rep.Stats == nil {
		fmt.Fprintf(w, "%s\n", rep.Msg)
		return
	}
	fmt.Fprintf(w, "%s run=%d\n", rep.Msg, rep.Run)

	if len(rep.States) > 0 {
		keys := make([]string, 0, len(rep.States))
		for k := range rep.States {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		states := make([]string, len(keys))
		for i, k := range keys {
			states[i] = k + "=" + rep.States[k]
		}
		fmt.Fprintf(w, "  %s\n", strings.Join(states, " "))
	}

	if rep.Stats != nil {
		fmt.Fprintf(w, "  lines=%d records=%d dropped=%d\n",
			rep.Stats.Words, rep.Stats.Records, rep.Stats.Dropped,
		)
	}
}
