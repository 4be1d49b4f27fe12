// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command etroc-daq runs an ETROC data acquisition in stand-alone mode.
//
// The acquisition runs until the requested number of lines was received,
// the time budget of the run is exhausted, the readout board closes the
// connection or etroc-daq receives an interrupt signal.
package main // import "github.com/go-lpc/etroc/cmd/etroc-daq"

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-lpc/etroc"
	"github.com/go-lpc/etroc/daq"
	"github.com/go-lpc/etroc/viz"
	"github.com/sbinet/pmon"
)

func main() {
	var (
		cfgFile = flag.String("cfg", "", "path to a YAML run configuration file")
		addr    = flag.String("addr", "", "[address]:port of the readout board")
		odir    = flag.String("o", "", "output directory")
		nfiles  = flag.Int("n", -1, "number of files to write (0: unbounded run)")
		nlines  = flag.Int("lines", -1, "number of lines per file")
		dur     = flag.Duration("d", 0, "time budget of the run (0: unbounded)")
		ts      = flag.Int("ts", 0, "timestamp/testmode register value")
		raw     = flag.String("raw", "", "raw output mode (full, compact, skip)")
		trans   = flag.String("translate", "", "translation mode (full, data, none)")
		format  = flag.String("format", "", "format of translated records (text, msgpack)")
		zst     = flag.Bool("zstd", false, "compress output files with zstd")

		yoda   = flag.String("yoda", "", "path to a YODA file where to store histograms of the hits")
		broker = flag.String("mqtt", "", "MQTT broker where to publish hits (e.g. tcp://localhost:1883)")
		topic  = flag.String("topic", "etroc", "prefix of the MQTT topics")
		every  = flag.Duration("every", 0, "visualization cadence")

		doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq = flag.Duration("freq", 1*time.Second, "pmon frequency")

		vers = flag.Bool("version", false, "display version and exit")
	)

	log.SetPrefix("etroc-daq: ")
	log.SetFlags(0)

	flag.Parse()

	if *vers {
		v, sum := etroc.Version()
		fmt.Printf("etroc-daq version=%q sum=%q\n", v, sum)
		return
	}

	cfg := daq.Default()
	if *cfgFile != "" {
		var err error
		cfg, err = daq.Load(*cfgFile)
		if err != nil {
			log.Fatalf("could not load run configuration: %+v", err)
		}
	}

	// flags override the configuration file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "o":
			cfg.Output.Dir = *odir
		case "n":
			cfg.Output.NumFiles = *nfiles
		case "lines":
			cfg.Output.LinesPerFile = *nlines
		case "d":
			cfg.Duration = daq.Duration{Duration: *dur}
		case "ts":
			cfg.Timestamp = uint16(*ts)
		case "raw":
			cfg.Output.Raw = daq.RawMode(*raw)
		case "translate":
			cfg.Output.Translate = daq.TranslateMode(*trans)
		case "format":
			cfg.Output.Format = daq.Format(*format)
		case "zstd":
			cfg.Output.Compress = *zst
		case "every":
			cfg.Viz.Every = daq.Duration{Duration: *every}
		}
	})
	if *yoda != "" || *broker != "" {
		cfg.Viz.Enabled = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *doMon {
		err := monitor(cfg.Output.Dir, *doFreq)
		if err != nil {
			log.Fatalf("could not start monitoring: %+v", err)
		}
	}

	stats, err := run(ctx, cfg, *yoda, *broker, *topic)
	if err != nil {
		log.Fatalf("could not run etroc-daq: %+v", err)
	}

	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		log.Fatalf("could not encode run statistics: %+v", err)
	}
	log.Printf("run statistics:\n%s", out)
}

func run(ctx context.Context, cfg daq.Config, yoda, broker, topic string) (daq.Stats, error) {
	var (
		stats daq.Stats
		plts  []daq.Plotter
		hists *viz.Histos
	)

	err := cfg.Validate()
	if err != nil {
		return stats, fmt.Errorf("invalid run configuration: %w", err)
	}

	if yoda != "" {
		hists = viz.NewHistos()
		plts = append(plts, hists)
	}

	if broker != "" {
		cli, err := viz.Dial(broker, "etroc-daq")
		if err != nil {
			return stats, fmt.Errorf("could not connect to MQTT broker: %w", err)
		}
		defer cli.Disconnect(250)
		plts = append(plts, viz.NewPublisher(cli, topic))
	}

	link, err := daq.Dial(ctx, cfg.Addr)
	if err != nil {
		return stats, fmt.Errorf("could not connect to readout board: %w", err)
	}
	defer link.Close()

	var opts []daq.Option
	if len(plts) > 0 {
		opts = append(opts, daq.WithPlotter(viz.Multi(plts...)))
	}

	pipe, err := daq.New(cfg, link, opts...)
	if err != nil {
		return stats, fmt.Errorf("could not create acquisition pipeline: %w", err)
	}

	log.Printf("running acquisition from %q...", cfg.Addr)
	err = pipe.Run(ctx)
	stats = pipe.Stats()
	if err != nil {
		return stats, fmt.Errorf("could not run acquisition: %w", err)
	}
	log.Printf("running acquisition from %q... [done]", cfg.Addr)

	if hists != nil {
		err = writeYODA(yoda, hists)
		if err != nil {
			return stats, err
		}
	}

	return stats, nil
}

func writeYODA(fname string, hists *viz.Histos) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create YODA file: %w", err)
	}
	defer f.Close()

	err = hists.WriteYODA(f)
	if err != nil {
		return fmt.Errorf("could not write histograms: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close YODA file: %w", err)
	}
	return nil
}

func monitor(dir string, freq time.Duration) error {
	if dir == "" {
		dir = "."
	}
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("could not create pmon directory: %w", err)
	}

	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return fmt.Errorf("could not start monitoring etroc-daq (pid=%d): %w", pid, err)
	}
	f, err := os.Create(filepath.Join(dir, "etroc-daq-pmon.log"))
	if err != nil {
		return fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		defer f.Close()
		log.Printf("run pmon (pid=%d)...", pid)
		err := p.Run()
		if err != nil {
			log.Printf("could not monitor etroc-daq: %+v", err)
		}
	}()
	return nil
}
