// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"log"
	"os"
	"time"
)

type config struct {
	timing Timing
	devcma string
	alloc  Allocator

	msg     *log.Logger
	sleep   func(time.Duration)
	observe func(n int, sts uint8)
}

func newConfig() config {
	_, timing, _ := Profile("v1")
	return config{
		timing: timing,
		devcma: "/dev/cma",
		msg:    log.New(os.Stdout, "acq: ", 0),
		sleep:  time.Sleep,
	}
}

// Option configures a Device or a Sequencer.
type Option func(*config)

// WithTiming sets all the delays of the control sequence.
func WithTiming(tm Timing) Option {
	return func(cfg *config) {
		cfg.timing = tm
	}
}

// WithSettle sets the delay after releasing reset.
func WithSettle(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timing.Settle = d
	}
}

// WithHold sets the duration of the run pulse.
func WithHold(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timing.Hold = d
	}
}

// WithPoll sets the status polling interval.
func WithPoll(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timing.Poll = d
	}
}

// WithMaxPolls bounds the number of status polls.
// A zero value means no limit.
func WithMaxPolls(n int) Option {
	return func(cfg *config) {
		cfg.timing.MaxPolls = n
	}
}

// WithTimeout bounds the time spent polling the status window.
// A zero value means no limit.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timing.Timeout = d
	}
}

// WithDevCMA sets the contiguous memory allocator device.
func WithDevCMA(fname string) Option {
	return func(cfg *config) {
		cfg.devcma = fname
	}
}

// WithAllocator sets the sample buffer allocator.
// It takes precedence over WithDevCMA.
func WithAllocator(alloc Allocator) Option {
	return func(cfg *config) {
		cfg.alloc = alloc
	}
}

// WithLogger sets the logger used to report progress.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithSleep replaces the function used to wait between control edges.
func WithSleep(sleep func(time.Duration)) Option {
	return func(cfg *config) {
		cfg.sleep = sleep
	}
}

// WithObserver registers a function called after each status poll,
// with the 1-based poll number and the status byte.
func WithObserver(f func(n int, sts uint8)) Option {
	return func(cfg *config) {
		cfg.observe = f
	}
}
