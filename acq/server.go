// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/oklog/ulid/v2"
)

type device interface {
	Acquire(ctx context.Context, cfg Config, fname string) error
	SetTiming(tm Timing)
	Abort() error
	Close() error
}

var _ device = (*Device)(nil)

// Server exposes an acquisition device as a TDAQ process.
//
// Each run performs a single acquisition, configured with the /config
// command, and publishes the resulting sample file on its output.
// Commands are served while an acquisition is polling: /reset and /quit
// interrupt it.
type Server struct {
	msg    *log.Logger
	devmem string
	odir   string
	opts   []Option

	newDevice func(devmem string, opts ...Option) (device, error)

	mu     sync.Mutex
	cfg    Config
	timing Timing
	dev    device
	cancel context.CancelFunc // interrupts the running acquisition, if any
	data   chan []byte
	last   string // name of the last sample file
}

// NewServer returns a server driving the peripheral exposed by devmem,
// writing sample files under odir.
//
// The acquisition timing is taken from opts, and defaults to the v1 profile.
func NewServer(devmem, odir string, opts ...Option) *Server {
	cfg, _, _ := Profile("v1")
	conf := newConfig()
	for _, opt := range opts {
		opt(&conf)
	}
	return &Server{
		msg:    log.New(os.Stdout, "acq-srv: ", 0),
		devmem: devmem,
		odir:   odir,
		opts:   opts,
		cfg:    cfg,
		timing: conf.timing,
		newDevice: func(devmem string, opts ...Option) (device, error) {
			return NewDevice(devmem, opts...)
		},
		data: make(chan []byte, 1),
	}
}

// OnConfig decodes the acquisition configuration from the request.
func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := srv.configure(req.Body)
	if err != nil {
		ctx.Msg.Errorf("could not configure acquisition: %+v", err)
		return err
	}
	ctx.Msg.Infof("configuration: %+v", srv.config())
	return nil
}

// OnInit opens the device.
func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := srv.init()
	if err != nil {
		ctx.Msg.Errorf("could not open device: %+v", err)
		return err
	}
	return nil
}

// OnReset puts the FPGA back in reset and drops pending outputs.
func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	err := srv.reset()
	if err != nil {
		ctx.Msg.Errorf("could not reset device: %+v", err)
		return err
	}
	return nil
}

// OnStart validates the configuration before the run starts.
func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	err := srv.config().Validate()
	if err != nil {
		ctx.Msg.Errorf("invalid configuration: %+v", err)
		return err
	}
	return nil
}

// OnStop reports the last sample file.
func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	srv.mu.Lock()
	last := srv.last
	srv.mu.Unlock()
	ctx.Msg.Debugf("received /stop command... -> file=%q", last)
	return nil
}

// OnQuit closes the device.
func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	err := srv.close()
	if err != nil {
		ctx.Msg.Errorf("could not close device: %+v", err)
		return err
	}
	return nil
}

// Samples publishes the content of the sample files, header included.
func (srv *Server) Samples(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.data:
		dst.Body = data
	}
	return nil
}

// Loop performs the acquisition of a run and waits for the run to stop.
func (srv *Server) Loop(ctx tdaq.Context) error {
	fname, err := srv.acquire(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not acquire samples: %+v", err)
		return err
	}
	ctx.Msg.Infof("samples written to %q", fname)

	<-ctx.Ctx.Done()
	return nil
}

// SetProfile sets the configuration and timing of the next runs.
func (srv *Server) SetProfile(cfg Config, tm Timing) error {
	err := cfg.Validate()
	if err != nil {
		return err
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.cfg = cfg
	srv.timing = tm
	return nil
}

func (srv *Server) config() Config {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.cfg
}

func (srv *Server) profile() (Config, Timing) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.cfg, srv.timing
}

const (
	cfgWords    = 8 // acquisition words of a /config request
	timingWords = 6 // optional timing words of a /config request
)

// configure decodes a configuration, as a sequence of u32 values:
// samples, decimation, amplitude, phase-step, excitation, acquisition,
// gain and number of files.
//
// These may be followed by the timing of the control sequence:
// settle (µs), hold (µs), poll period (µs), timeout (ms, 0: none),
// maximum number of polls (0: none) and hold-window (0 or 1).
// Without these, the current timing is kept.
func (srv *Server) configure(body []byte) error {
	switch len(body) {
	case 4 * cfgWords, 4 * (cfgWords + timingWords):
	default:
		return fmt.Errorf(
			"%w: invalid configuration size (got=%d, want=%d or %d)",
			ErrConfig, len(body), 4*cfgWords, 4*(cfgWords+timingWords),
		)
	}

	var (
		dec = tdaq.NewDecoder(bytes.NewReader(body))
		cfg Config
	)
	cfg.Samples = dec.ReadU32()
	cfg.Decimation = dec.ReadU32()
	amp := dec.ReadU32()
	cfg.PhaseStep = dec.ReadU32()
	cfg.Excitation = dec.ReadU32()
	cfg.Acquisition = dec.ReadU32()
	cfg.Gain = int32(dec.ReadU32())
	cfg.Files = int32(dec.ReadU32())

	_, tm := srv.profile()
	if len(body) > 4*cfgWords {
		tm.Settle = time.Duration(dec.ReadU32()) * time.Microsecond
		tm.Hold = time.Duration(dec.ReadU32()) * time.Microsecond
		tm.Poll = time.Duration(dec.ReadU32()) * time.Microsecond
		tm.Timeout = time.Duration(dec.ReadU32()) * time.Millisecond
		tm.MaxPolls = int(dec.ReadU32())
		switch v := dec.ReadU32(); v {
		case 0, 1:
			tm.HoldWindow = v == 1
		default:
			return fmt.Errorf("%w: invalid hold-window flag %d", ErrConfig, v)
		}
	}
	if err := dec.Err(); err != nil {
		return fmt.Errorf("%w: could not decode configuration: %w", ErrConfig, err)
	}

	if amp > 0xffff {
		return fmt.Errorf("%w: amplitude %d out of range", ErrConfig, amp)
	}
	cfg.Amplitude = uint16(amp)

	return srv.SetProfile(cfg, tm)
}

func (srv *Server) init() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev != nil {
		return nil
	}
	dev, err := srv.newDevice(srv.devmem, srv.opts...)
	if err != nil {
		return fmt.Errorf("acq: could not create device: %w", err)
	}
	srv.dev = dev
	return nil
}

func (srv *Server) reset() error {
	srv.mu.Lock()
	select {
	case <-srv.data:
	default:
	}
	dev, cancel := srv.dev, srv.cancel
	srv.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if dev == nil {
		return nil
	}
	return dev.Abort()
}

// acquire performs one acquisition into a new file under the output
// directory. The server lock is not held while the device runs.
func (srv *Server) acquire(ctx context.Context) (string, error) {
	srv.mu.Lock()
	var (
		dev = srv.dev
		cfg = srv.cfg
		tm  = srv.timing
	)
	switch {
	case dev == nil:
		srv.mu.Unlock()
		return "", fmt.Errorf("%w: device not initialized", ErrState)
	case srv.cancel != nil:
		srv.mu.Unlock()
		return "", fmt.Errorf("%w: acquisition already running", ErrState)
	}
	ctx, cancel := context.WithCancel(ctx)
	srv.cancel = cancel
	srv.mu.Unlock()

	defer func() {
		srv.mu.Lock()
		srv.cancel = nil
		srv.mu.Unlock()
		cancel()
	}()

	fname := filepath.Join(srv.odir, "nmr-"+ulid.Make().String()+".bin")
	dev.SetTiming(tm)
	err := dev.Acquire(ctx, cfg, fname)
	if err != nil {
		return "", err
	}
	srv.msg.Printf("run file: %q", fname)

	raw, err := os.ReadFile(fname)
	if err != nil {
		return fname, fmt.Errorf("%w: could not read back %q: %w", ErrFile, fname, err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.last = fname

	// keep only the latest acquisition.
	select {
	case <-srv.data:
	default:
	}
	srv.data <- raw

	return fname, nil
}

func (srv *Server) close() error {
	srv.mu.Lock()
	dev, cancel := srv.dev, srv.cancel
	srv.dev = nil
	srv.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if dev == nil {
		return nil
	}
	return dev.Close()
}
