// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/etroc/tdc"
)

func TestLoad(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "run.yaml")
	err := os.WriteFile(fname, []byte(`
addr: "localhost:1024"
chunk_size: 1024
timestamp: 3
duration: 1m30s
boards:
  - name: F28
    type: 2
    size: 256
    id: "10111111100001111"
  - name: F29
    type: 1
    size: 16
output:
  dir: /data/etroc
  num_files: 10
  raw: compact
  compress: true
  format: msgpack
viz:
  enabled: true
  every: 500ms
`), 0644)
	if err != nil {
		t.Fatalf("could not write config file: %+v", err)
	}

	cfg, err := Load(fname)
	if err != nil {
		t.Fatalf("could not load config file: %+v", err)
	}

	want := Default()
	want.Addr = "localhost:1024"
	want.ChunkSize = 1024
	want.Timestamp = 3
	want.Duration = Duration{90 * time.Second}
	want.Boards = []tdc.Board{
		{Name: "F28", Type: tdc.ETROC2, Size: 256, ID: "10111111100001111"},
		{Name: "F29", Type: tdc.ETROC1, Size: 16},
	}
	want.Output.Dir = "/data/etroc"
	want.Output.NumFiles = 10
	want.Output.Raw = RawCompact
	want.Output.Compress = true
	want.Output.Format = FormatMsgpack
	want.Viz = Viz{Enabled: true, Every: Duration{500 * time.Millisecond}}

	got, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("could not encode config: %+v", err)
	}
	exp, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("could not encode config: %+v", err)
	}
	if string(got) != string(exp) {
		t.Fatalf("invalid config:\ngot= %s\nwant=%s", got, exp)
	}

	if got, want := cfg.MaxWords(), uint64(500000); got != want {
		t.Fatalf("invalid max number of lines: got=%d, want=%d", got, want)
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	for _, tc := range []struct {
		name string
		cfg  string
		want string
	}{
		{"duration", "duration: forever\n", `invalid duration "forever"`},
		{"chunk", "chunk_size: 100000\n", "invalid chunk size 100000"},
		{"format", "output:\n  format: csv\n", `invalid output format "csv"`},
		{"yaml", "output: [\n", "could not decode config file"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := filepath.Join(dir, tc.name+".yaml")
			err := os.WriteFile(fname, []byte(tc.cfg), 0644)
			if err != nil {
				t.Fatalf("could not write config file: %+v", err)
			}
			_, err = Load(fname)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("invalid error:\ngot= %v\nwant=%s", err, tc.want)
			}
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		edit func(cfg *Config)
		want string
	}{
		{"default", func(*Config) {}, ""},
		{"no-dir", func(cfg *Config) { cfg.Output.Dir = "" }, "missing output directory"},
		{
			"no-dir-no-output",
			func(cfg *Config) {
				cfg.Output.Dir = ""
				cfg.Output.Raw = RawSkip
				cfg.Output.Translate = TranslateNone
			},
			"",
		},
		{"queue", func(cfg *Config) { cfg.QueueSize = -1 }, "invalid queue size -1"},
		{"boards", func(cfg *Config) { cfg.Boards = make([]tdc.Board, 5) }, "too many boards"},
		{"board-id", func(cfg *Config) { cfg.Boards[0].ID = "00111100101110001" }, "collides with a frame pattern"},
		{"translate", func(cfg *Config) { cfg.Output.Translate = "hits" }, `invalid translation mode "hits"`},
		{
			"viz",
			func(cfg *Config) {
				cfg.Viz.Enabled = true
				cfg.Viz.Every = Duration{}
			},
			"invalid visualization cadence",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.edit(&cfg)
			err := cfg.Validate()
			switch {
			case tc.want == "" && err != nil:
				t.Fatalf("unexpected error: %+v", err)
			case tc.want != "" && err == nil:
				t.Fatalf("expected an error")
			case tc.want != "" && !strings.Contains(err.Error(), tc.want):
				t.Fatalf("invalid error:\ngot= %v\nwant=%s", err, tc.want)
			}
		})
	}
}

func TestDurationJSON(t *testing.T) {
	var v struct {
		D Duration `json:"d"`
	}
	err := json.Unmarshal([]byte(`{"d":"2m5s"}`), &v)
	if err != nil {
		t.Fatalf("could not decode duration: %+v", err)
	}
	if got, want := v.D.Duration, 125*time.Second; got != want {
		t.Fatalf("invalid duration: got=%v, want=%v", got, want)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("could not encode duration: %+v", err)
	}
	if got, want := string(raw), `{"d":"2m5s"}`; got != want {
		t.Fatalf("invalid encoding: got=%s, want=%s", got, want)
	}

	err = json.Unmarshal([]byte(`{"d":""}`), &v)
	if err != nil {
		t.Fatalf("could not decode empty duration: %+v", err)
	}
	if v.D.Duration != 0 {
		t.Fatalf("invalid empty duration: %v", v.D)
	}
}
