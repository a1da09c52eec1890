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
	"time"

	"github.com/cenkalti/backoff"
)

// State is the state of the acquisition control sequence.
type State uint8

const (
	Idle        State = iota // no acquisition in progress, reset asserted or never configured
	Configured               // parameters written to the configuration window
	HeldInReset              // reset asserted, run cleared
	Armed                    // reset released, FSM settling
	Running                  // run pulse issued, waiting for completion
	Complete                 // status reported the end of the acquisition
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Configured:
		return "configured"
	case HeldInReset:
		return "held-in-reset"
	case Armed:
		return "armed"
	case Running:
		return "running"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("State(%d)", uint8(st))
	}
}

var errNotDone = errors.New("acq: acquisition not done")

// Sequencer drives the reset/run choreography of the acquisition FSM.
//
// Transitions must be taken in order:
//
//	Idle -> Configured -> HeldInReset -> Armed -> Running -> Complete
//
// Once the FPGA has been released from reset, any failure puts it back
// in reset before the error is returned, and the sequencer goes back
// to Idle.
type Sequencer struct {
	brd   board
	state State
	cfg   Config

	msg     *log.Logger
	timing  Timing
	sleep   func(time.Duration)
	observe func(n int, sts uint8)
}

// NewSequencer returns a sequencer driving the configuration window cfg
// and reading the status window sts.
func NewSequencer(cfg, sts Window, opts ...Option) *Sequencer {
	conf := newConfig()
	for _, opt := range opts {
		opt(&conf)
	}
	return newSequencer(cfg, sts, conf)
}

func newSequencer(cfg, sts Window, conf config) *Sequencer {
	seq := &Sequencer{
		msg:     conf.msg,
		timing:  conf.timing,
		sleep:   conf.sleep,
		observe: conf.observe,
	}
	seq.brd = newBoard(conf.msg)
	seq.brd.bindCfg(cfg)
	seq.brd.bindSts(sts)
	if seq.sleep == nil {
		seq.sleep = func(time.Duration) {}
	}
	return seq
}

// State returns the current state of the sequencer.
func (seq *Sequencer) State() State { return seq.state }

// Timing returns the delays used by the sequencer.
func (seq *Sequencer) Timing() Timing { return seq.timing }

func (seq *Sequencer) expect(op string, states ...State) error {
	for _, st := range states {
		if seq.state == st {
			return nil
		}
	}
	return fmt.Errorf("%w: %s in state %v", ErrState, op, seq.state)
}

// Configure writes the acquisition parameters, in register order, with
// the physical address addr of the sample buffer.
// Nothing is written when cfg is invalid.
func (seq *Sequencer) Configure(cfg Config, addr uint32) error {
	err := seq.expect("configure", Idle, Configured, Complete)
	if err != nil {
		return err
	}
	err = cfg.Validate()
	if err != nil {
		return err
	}

	regs := &seq.brd.regs
	regs.amp.w(cfg.Amplitude)
	regs.addr.w(addr)
	regs.count.w(uint32(cfg.Bytes() - 1))
	regs.phase.w(cfg.PhaseStep)
	regs.exc.w(cfg.Excitation)
	regs.acq.w(cfg.Acquisition)

	if err := seq.brd.clear(); err != nil {
		seq.state = Idle
		return fmt.Errorf("acq: could not configure acquisition: %w", err)
	}

	seq.cfg = cfg
	seq.state = Configured
	return nil
}

// HoldReset asserts reset and clears run, in a single control write.
func (seq *Sequencer) HoldReset() error {
	err := seq.expect("hold-reset", Configured)
	if err != nil {
		return err
	}

	ctrl := seq.brd.regs.ctrl
	ctrl.w((ctrl.r() | ctrlReset) &^ ctrlRun)
	if err := seq.brd.clear(); err != nil {
		return fmt.Errorf("acq: could not assert reset: %w", err)
	}

	seq.state = HeldInReset
	return nil
}

// Release de-asserts reset and waits for the FSM to settle.
func (seq *Sequencer) Release() error {
	err := seq.expect("release", HeldInReset)
	if err != nil {
		return err
	}

	ctrl := seq.brd.regs.ctrl
	ctrl.w(ctrl.r() &^ ctrlReset)
	if err := seq.brd.clear(); err != nil {
		return seq.fail(fmt.Errorf("acq: could not release reset: %w", err))
	}
	seq.state = Armed
	seq.sleep(seq.timing.Settle)
	return nil
}

// Start issues the run pulse: run is set, held, then cleared.
func (seq *Sequencer) Start() error {
	err := seq.expect("start", Armed)
	if err != nil {
		return err
	}

	ctrl := seq.brd.regs.ctrl
	ctrl.w(ctrl.r() | ctrlRun)
	if err := seq.brd.clear(); err != nil {
		return seq.fail(fmt.Errorf("acq: could not set run: %w", err))
	}
	hold := seq.timing.hold(seq.cfg)
	if win := seq.cfg.Window(); hold < win {
		seq.msg.Printf("run pulse (%v) shorter than the excitation+acquisition window (%v)", hold, win)
	}
	seq.sleep(hold)
	ctrl.w(ctrl.r() &^ ctrlRun)
	if err := seq.brd.clear(); err != nil {
		return seq.fail(fmt.Errorf("acq: could not clear run: %w", err))
	}

	seq.state = Running
	return nil
}

// Wait polls the status window until the acquisition completes.
// It returns the number of polls performed: when the done bit shows up
// at the K-th read following K-1 negative reads, Wait returns K.
// Wait performs no register writes while polling.
func (seq *Sequencer) Wait(ctx context.Context) (int, error) {
	err := seq.expect("wait", Running)
	if err != nil {
		return 0, err
	}

	pctx := ctx
	if seq.timing.Timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, seq.timing.Timeout)
		defer cancel()
	}

	var (
		n   int
		sts = seq.brd.regs.status
		bo  = seq.backoff(pctx)
	)
	op := func() error {
		n++
		v := sts.r()
		if err := seq.brd.clear(); err != nil {
			return backoff.Permanent(err)
		}
		if seq.observe != nil {
			seq.observe(n, v)
		}
		if v&stsDone == 0 {
			return errNotDone
		}
		return nil
	}

	err = backoff.Retry(op, bo)
	switch {
	case err == nil:
		seq.state = Complete
		return n, nil
	case ctx.Err() != nil:
		return n, seq.fail(fmt.Errorf("acq: acquisition interrupted after %d polls: %w", n, ctx.Err()))
	case errors.Is(err, errNotDone):
		return n, seq.fail(fmt.Errorf("%w after %d polls", ErrTimeout, n))
	default:
		return n, seq.fail(fmt.Errorf("acq: could not poll status: %w", err))
	}
}

func (seq *Sequencer) backoff(ctx context.Context) backoff.BackOff {
	var bo backoff.BackOff = backoff.NewConstantBackOff(seq.timing.Poll)
	switch n := seq.timing.MaxPolls; {
	case n == 1:
		bo = &backoff.StopBackOff{}
	case n > 1:
		bo = backoff.WithMaxRetries(bo, uint64(n-1))
	}
	return backoff.WithContext(bo, ctx)
}

// Run drives a complete acquisition, from configuration to completion.
func (seq *Sequencer) Run(ctx context.Context, cfg Config, addr uint32) error {
	err := seq.Configure(cfg, addr)
	if err != nil {
		return err
	}

	err = seq.HoldReset()
	if err != nil {
		return err
	}

	err = seq.Release()
	if err != nil {
		return err
	}

	err = seq.Start()
	if err != nil {
		return err
	}

	n, err := seq.Wait(ctx)
	if err != nil {
		return err
	}
	seq.msg.Printf("acquisition complete after %d polls", n)
	return nil
}

// Abort puts the FPGA back in reset, with run cleared, and returns the
// sequencer to Idle.
func (seq *Sequencer) Abort() error {
	seq.state = Idle
	ctrl := seq.brd.regs.ctrl
	ctrl.w((ctrl.r() | ctrlReset) &^ ctrlRun)
	if err := seq.brd.clear(); err != nil {
		return fmt.Errorf("acq: could not quiesce FPGA: %w", err)
	}
	return nil
}

func (seq *Sequencer) fail(err error) error {
	if e := seq.Abort(); e != nil {
		seq.msg.Printf("%+v", e)
	}
	return err
}

// DumpRegisters writes the content of the configuration and status
// registers to w.
func (seq *Sequencer) DumpRegisters(w io.Writer) error {
	return seq.brd.dump(w)
}

// Status returns the content of the status register.
func (seq *Sequencer) Status() (uint8, error) {
	v := seq.brd.regs.status.r()
	if err := seq.brd.clear(); err != nil {
		return 0, fmt.Errorf("acq: could not read status: %w", err)
	}
	return v, nil
}
