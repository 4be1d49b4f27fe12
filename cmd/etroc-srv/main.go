// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command etroc-srv runs the control server of ETROC acquisition runs.
//
// etroc-srv receives JSON requests (configure, start, stop, status) on
// its control port, exposes the acquisition metrics for Prometheus and
// sends a mail alert when a run fails.
package main // import "github.com/go-lpc/etroc/cmd/etroc-srv"

import (
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-lpc/etroc/daq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	mail "gopkg.in/gomail.v2"
)

func main() {
	var (
		addr    = flag.String("addr", ":8877", "[ip]:port to listen on for control requests")
		web     = flag.String("http", ":9100", "[ip]:port to serve metrics on")
		cfgFile = flag.String("cfg", "", "path to a YAML run configuration file")
		odir    = flag.String("o", "", "output directory of the runs")
	)

	log.SetPrefix("etroc-srv: ")
	log.SetFlags(0)

	flag.Parse()

	cfg := daq.Default()
	if *cfgFile != "" {
		var err error
		cfg, err = daq.Load(*cfgFile)
		if err != nil {
			log.Fatalf("could not load run configuration: %+v", err)
		}
	}
	if *odir != "" {
		cfg.Output.Dir = *odir
	}

	err := run(*addr, *web, cfg)
	if err != nil {
		log.Fatalf("could not run etroc-srv: %+v", err)
	}
}

func run(addr, web string, cfg daq.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := daq.NewServer(addr, cfg, daq.WithMetrics(daq.NewMetrics(reg)))
	if err != nil {
		return fmt.Errorf("could not create control server: %w", err)
	}
	defer srv.Close()

	srv.OnError = func(run uint32, err error) {
		log.Printf("run %d failed: %+v", run, err)
		alertMail(run, err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		log.Printf("serving metrics on %q...", web)
		err := http.ListenAndServe(web, mux)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("could not serve metrics: %+v", err)
		}
	}()

	log.Printf("running etroc-srv server on %q...", srv.Addr())
	return srv.Serve()
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = targets(os.Getenv("MAIL_TGTS"))
)

func alertMail(run uint32, err error) {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	msg := newAlert(alertMailUsr, alertMailTgts, run, err)
	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err = dial.DialAndSend(msg)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}

func newAlert(from string, tgts []string, run uint32, err error) *mail.Message {
	host, _ := os.Hostname()

	msg := mail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("Bcc", tgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[etroc-srv] run %d failed", run))
	msg.SetBody("text/plain", fmt.Sprintf("host:  %s\nrun:   %d\nerror: %+v\n",
		host, run, err,
	))
	return msg
}

func targets(s string) []string {
	var tgts []string
	for _, tgt := range strings.Split(s, ",") {
		tgt = strings.TrimSpace(tgt)
		if tgt == "" {
			continue
		}
		tgts = append(tgts, tgt)
	}
	return tgts
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
