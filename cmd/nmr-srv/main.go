// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nmr-srv starts a TDAQ server driving the NMR acquisition board.
//
// Usage: nmr-srv [TDAQ-OPTIONS] [OPTIONS]
//
// Each run performs one acquisition, configured with the /config command,
// and publishes the content of the resulting sample file on /samples.
// The acquisition profile selected on the command line applies until a
// /config command overrides it.
package main // import "github.com/go-lpc/nmr/cmd/nmr-srv"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/nmr/acq"
)

func main() {
	var (
		devmem   = flag.String("dev-mem", "/dev/mem", "path to the physical memory device")
		devcma   = flag.String("dev-cma", "/dev/cma", "path to the contiguous memory allocator device")
		odir     = flag.String("o", ".", "output directory for sample files")
		profile  = flag.String("profile", "v1", "built-in acquisition profile ("+strings.Join(acq.Profiles(), "|")+")")
		cfgFile  = flag.String("cfg", "", "path to an acquisition profile file (TOML, YAML or JSON)")
		timeout  = flag.Duration("timeout", 0, "maximum time spent waiting for an acquisition (0: no limit)")
		maxPolls = flag.Int("max-polls", 0, "maximum number of status polls (0: no limit)")
		window   = flag.Bool("hold-window", false, "hold the run bit for the whole excitation+acquisition window")
	)

	cmd := flags.New()

	p := params{
		set:      make(map[string]bool),
		profile:  *profile,
		cfgFile:  *cfgFile,
		timeout:  *timeout,
		maxPolls: *maxPolls,
		window:   *window,
	}
	flag.Visit(func(f *flag.Flag) { p.set[f.Name] = true })

	cfg, tm, err := p.config()
	if err != nil {
		log.Fatalf("invalid acquisition profile: %+v", err)
	}

	dev := acq.NewServer(*devmem, *odir, acq.WithDevCMA(*devcma))
	err = dev.SetProfile(cfg, tm)
	if err != nil {
		log.Fatalf("could not set acquisition profile: %+v", err)
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/samples", dev.Samples)

	srv.RunHandle(dev.Loop)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type params struct {
	set map[string]bool // flags explicitly set

	profile string
	cfgFile string

	timeout  time.Duration
	maxPolls int
	window   bool
}

// config returns the initial acquisition profile of the server.
func (p params) config() (acq.Config, acq.Timing, error) {
	var (
		cfg acq.Config
		tm  acq.Timing
		err error
	)

	switch p.cfgFile {
	case "":
		cfg, tm, err = acq.Profile(p.profile)
	default:
		if p.set["profile"] {
			return cfg, tm, fmt.Errorf("-profile and -cfg are mutually exclusive")
		}
		cfg, tm, err = acq.LoadProfile(p.cfgFile)
	}
	if err != nil {
		return cfg, tm, fmt.Errorf("could not load acquisition profile: %w", err)
	}

	if p.set["timeout"] {
		tm.Timeout = p.timeout
	}
	if p.set["max-polls"] {
		if p.maxPolls < 0 {
			return cfg, tm, fmt.Errorf("%w: invalid maximum number of polls %d", acq.ErrConfig, p.maxPolls)
		}
		tm.MaxPolls = p.maxPolls
	}
	if p.set["hold-window"] {
		tm.HoldWindow = p.window
	}

	return cfg, tm, nil
}
