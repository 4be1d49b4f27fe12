// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-lpc/etroc/tdc"
	"gopkg.in/yaml.v3"
)

// RawMode selects how raw chunks are written to disk.
type RawMode string

const (
	RawFull    RawMode = "full"    // one 32-character bit string per line
	RawCompact RawMode = "compact" // 4 bytes (big-endian) per line
	RawSkip    RawMode = "skip"    // no raw output
)

// TranslateMode selects which decoded records are written to disk.
type TranslateMode string

const (
	TranslateFull TranslateMode = "full" // all records
	TranslateData TranslateMode = "data" // only hits
	TranslateNone TranslateMode = "none" // no translated output
)

// Format is the encoding of translated records.
type Format string

const (
	FormatText    Format = "text"
	FormatMsgpack Format = "msgpack"
)

// Config describes an acquisition run.
type Config struct {
	Addr      string      `json:"addr"       yaml:"addr"`       // address of the readout board
	ChunkSize int         `json:"chunk_size" yaml:"chunk_size"` // number of lines per link read
	Timestamp uint16      `json:"timestamp"  yaml:"timestamp"`  // timestamp/testmode register value
	Boards    []tdc.Board `json:"boards"     yaml:"boards"`     // boards, indexed by channel
	Duration  Duration    `json:"duration"   yaml:"duration"`   // time budget of the run. 0: unbounded
	QueueSize int         `json:"queue_size" yaml:"queue_size"` // capacity of the inter-stage queues

	Output Output `json:"output" yaml:"output"`
	Viz    Viz    `json:"viz"    yaml:"viz"`
}

// Output describes the files written by a run.
type Output struct {
	Dir          string        `json:"dir"            yaml:"dir"`
	LinesPerFile int           `json:"lines_per_file" yaml:"lines_per_file"` // 0: a single file
	NumFiles     int           `json:"num_files"      yaml:"num_files"`      // 0: unbounded run
	Raw          RawMode       `json:"raw"            yaml:"raw"`
	Compress     bool          `json:"compress"       yaml:"compress"` // zstd-compress output files
	Translate    TranslateMode `json:"translate"      yaml:"translate"`
	Format       Format        `json:"format"         yaml:"format"`
}

// Viz describes the visualization feed.
type Viz struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Every   Duration `json:"every"   yaml:"every"` // plotting cadence
}

// Default returns the default configuration of a run.
func Default() Config {
	return Config{
		Addr:      "192.168.2.3:1024",
		ChunkSize: MaxChunkSize,
		Boards:    tdc.DefaultBoards(),
		QueueSize: 64,
		Output: Output{
			Dir:          "etroc-data",
			LinesPerFile: 50000,
			NumFiles:     1,
			Raw:          RawFull,
			Translate:    TranslateFull,
			Format:       FormatText,
		},
		Viz: Viz{
			Every: Duration{time.Second},
		},
	}
}

// Load loads a run configuration from a YAML file.
// Fields missing from the file keep their default value.
func Load(fname string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(fname)
	if err != nil {
		return cfg, fmt.Errorf("daq: could not read config file %q: %w", fname, err)
	}

	err = yaml.Unmarshal(raw, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("daq: could not decode config file %q: %w", fname, err)
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, fmt.Errorf("daq: invalid config file %q: %w", fname, err)
	}

	return cfg, nil
}

// Clone returns a copy of cfg that shares no memory with cfg.
func (cfg Config) Clone() Config {
	cfg.Boards = append([]tdc.Board(nil), cfg.Boards...)
	return cfg
}

// MaxWords returns the number of lines after which a run stops,
// or 0 for an unbounded run.
func (cfg Config) MaxWords() uint64 {
	if cfg.Output.LinesPerFile <= 0 || cfg.Output.NumFiles <= 0 {
		return 0
	}
	return uint64(cfg.Output.LinesPerFile) * uint64(cfg.Output.NumFiles)
}

// Validate checks the configuration is consistent.
func (cfg Config) Validate() error {
	var errs []error
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > MaxChunkSize {
		errs = append(errs, fmt.Errorf("invalid chunk size %d (max=%d)", cfg.ChunkSize, MaxChunkSize))
	}
	if cfg.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("invalid queue size %d", cfg.QueueSize))
	}
	if cfg.Duration.Duration < 0 {
		errs = append(errs, fmt.Errorf("invalid duration %v", cfg.Duration))
	}
	if len(cfg.Boards) > tdc.NumChannels {
		errs = append(errs, fmt.Errorf("too many boards (got=%d, max=%d)", len(cfg.Boards), tdc.NumChannels))
	} else if _, err := tdc.NewClassifier(cfg.Boards); err != nil {
		errs = append(errs, err)
	}
	if cfg.Output.LinesPerFile < 0 {
		errs = append(errs, fmt.Errorf("invalid number of lines per file %d", cfg.Output.LinesPerFile))
	}
	if cfg.Output.NumFiles < 0 {
		errs = append(errs, fmt.Errorf("invalid number of files %d", cfg.Output.NumFiles))
	}
	switch cfg.Output.Raw {
	case RawFull, RawCompact, RawSkip:
	default:
		errs = append(errs, fmt.Errorf("invalid raw output mode %q", cfg.Output.Raw))
	}
	switch cfg.Output.Translate {
	case TranslateFull, TranslateData, TranslateNone:
	default:
		errs = append(errs, fmt.Errorf("invalid translation mode %q", cfg.Output.Translate))
	}
	switch cfg.Output.Format {
	case FormatText, FormatMsgpack:
	default:
		errs = append(errs, fmt.Errorf("invalid output format %q", cfg.Output.Format))
	}
	if cfg.Output.Dir == "" && (cfg.Output.Raw != RawSkip || cfg.Output.Translate != TranslateNone) {
		errs = append(errs, fmt.Errorf("missing output directory"))
	}
	if cfg.Viz.Enabled && cfg.Viz.Every.Duration <= 0 {
		errs = append(errs, fmt.Errorf("invalid visualization cadence %v", cfg.Viz.Every))
	}
	return errors.Join(errs...)
}

// Duration is a time.Duration encoded as a string ("10s", "5m30s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	err := node.Decode(&s)
	if err != nil {
		return err
	}
	return d.parse(s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(p []byte) error {
	var s string
	err := json.Unmarshal(p, &s)
	if err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}
