// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/go-lpc/nmr/internal/mmap"
)

// Device is an NMR acquisition peripheral.
type Device struct {
	mu  sync.Mutex
	msg *log.Logger
	mem struct {
		fd  *os.File
		cfg *mmap.Handle
		sts *mmap.Handle
	}

	alloc Allocator
	seq   *Sequencer
}

// NewDevice maps the configuration and status windows of the
// peripheral from devmem, usually /dev/mem.
func NewDevice(devmem string, opts ...Option) (*Device, error) {
	mem, err := os.OpenFile(devmem, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open %q: %w", ErrMap, devmem, err)
	}
	defer func() {
		if err != nil {
			_ = mem.Close()
		}
	}()

	span := os.Getpagesize()
	cfg, err := mmap.Map(mem, CfgBase, span)
	if err != nil {
		return nil, fmt.Errorf("%w: could not map configuration window: %w", ErrMap, err)
	}
	defer func() {
		if err != nil {
			_ = cfg.Close()
		}
	}()

	sts, err := mmap.Map(mem, StsBase, span)
	if err != nil {
		return nil, fmt.Errorf("%w: could not map status window: %w", ErrMap, err)
	}

	dev := newDevice(cfg, sts, opts...)
	dev.mem.fd = mem
	dev.mem.cfg = cfg
	dev.mem.sts = sts

	return dev, nil
}

func newDevice(cfg, sts Window, opts ...Option) *Device {
	conf := newConfig()
	for _, opt := range opts {
		opt(&conf)
	}

	dev := &Device{
		msg:   conf.msg,
		alloc: conf.alloc,
		seq:   newSequencer(cfg, sts, conf),
	}
	if dev.alloc == nil {
		dev.alloc = cmaAllocator{dev: conf.devcma}
	}
	return dev
}

// Acquire performs a single acquisition described by cfg and writes the
// samples to the new file fname.
//
// The file is created, with its header, before the FPGA is armed.
// It is removed if the acquisition fails.
func (dev *Device) Acquire(ctx context.Context, cfg Config, fname string) (err error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err = cfg.Validate()
	if err != nil {
		return err
	}

	buf, err := dev.alloc.Alloc(cfg.Bytes())
	if err != nil {
		if !errors.Is(err, ErrAlloc) {
			err = fmt.Errorf("%w: %w", ErrAlloc, err)
		}
		return fmt.Errorf("acq: could not allocate %d bytes: %w", cfg.Bytes(), err)
	}
	defer func() {
		e := buf.Close()
		if e != nil && err == nil {
			err = fmt.Errorf("%w: could not release sample buffer: %w", ErrAlloc, e)
		}
	}()

	f, err := Create(fname)
	if err != nil {
		return fmt.Errorf("acq: could not create output file: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		_ = f.Close()
		_ = os.Remove(fname)
	}()

	err = f.WriteHeader(cfg.Header())
	if err != nil {
		return fmt.Errorf("acq: could not write output file header: %w", err)
	}

	dev.msg.Printf(
		"acquiring %d samples (phase-step=%d, f=%.3f kHz, window=%v) at 0x%08x...",
		cfg.Samples, cfg.PhaseStep, cfg.Frequency()/1e3, cfg.Window(), buf.Addr,
	)
	err = dev.seq.Run(ctx, cfg, buf.Addr)
	if err != nil {
		return fmt.Errorf("acq: could not run acquisition: %w", err)
	}

	err = f.AppendSamples(buf, int(cfg.Samples))
	if err != nil {
		return fmt.Errorf("acq: could not save samples: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("acq: could not close output file: %w", err)
	}
	dev.msg.Printf("samples written to %q", fname)

	return nil
}

// SetTiming changes the delays and polling bounds of the next
// acquisitions.
func (dev *Device) SetTiming(tm Timing) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.seq.timing = tm
}

// Abort puts the FPGA back in reset.
func (dev *Device) Abort() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.seq.Abort()
}

// State returns the state of the control sequence.
func (dev *Device) State() State {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.seq.State()
}

// Status returns the content of the status register.
func (dev *Device) Status() (uint8, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.seq.Status()
}

// DumpRegisters writes the content of all registers to w.
func (dev *Device) DumpRegisters(w io.Writer) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.seq.DumpRegisters(w)
}

// Close unmaps the register windows.
func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	var errs []error
	if dev.mem.sts != nil {
		if err := dev.mem.sts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("acq: could not unmap status window: %w", err))
		}
		dev.mem.sts = nil
	}
	if dev.mem.cfg != nil {
		if err := dev.mem.cfg.Close(); err != nil {
			errs = append(errs, fmt.Errorf("acq: could not unmap configuration window: %w", err))
		}
		dev.mem.cfg = nil
	}
	if dev.mem.fd != nil {
		if err := dev.mem.fd.Close(); err != nil {
			errs = append(errs, fmt.Errorf("acq: could not close %q: %w", dev.mem.fd.Name(), err))
		}
		dev.mem.fd = nil
	}
	return errors.Join(errs...)
}

// Run performs a single acquisition on the peripheral exposed by devmem
// and writes the samples to fname.
func Run(ctx context.Context, devmem string, cfg Config, fname string, opts ...Option) error {
	err := cfg.Validate()
	if err != nil {
		return err
	}

	dev, err := NewDevice(devmem, opts...)
	if err != nil {
		return err
	}
	defer dev.Close()

	err = dev.Acquire(ctx, cfg, fname)
	if err != nil {
		return err
	}

	return dev.Close()
}
