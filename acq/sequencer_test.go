// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"strings"
	"testing"
	"time"
)

func newTestSequencer(cfg *fakeCfg, sts *fakeSts, opts ...Option) (*Sequencer, *sleeper) {
	var slp sleeper
	opts = append([]Option{
		WithLogger(discard()),
		WithTiming(Timing{Settle: 1 * time.Second, Hold: 3 * time.Second}),
		WithSleep(slp.sleep),
	}, opts...)
	return NewSequencer(cfg, sts, opts...), &slp
}

func TestSequencerRun(t *testing.T) {
	var (
		cfg = new(fakeCfg)
		sts = doneAfter(2)
		run = Config{
			Samples:     1024,
			Decimation:  100,
			Amplitude:   0x400,
			PhaseStep:   8589934,
			Excitation:  25e6,
			Acquisition: 250e6,
			Files:       1,
		}
		addr = uint32(0x1e000000)
	)

	seq, slp := newTestSequencer(cfg, sts)
	if got, want := seq.State(), Idle; got != want {
		t.Fatalf("invalid initial state: got=%v, want=%v", got, want)
	}

	err := seq.Run(context.Background(), run, addr)
	if err != nil {
		t.Fatalf("could not run sequence: %+v", err)
	}

	if got, want := seq.State(), Complete; got != want {
		t.Fatalf("invalid final state: got=%v, want=%v", got, want)
	}

	want := []write{
		{off: regAmplitude, v: 0x400, n: 2},
		{off: regAddr, v: addr, n: 4},
		{off: regCount, v: 1024*4 - 1, n: 4},
		{off: regPhase, v: 8589934, n: 4},
		{off: regExcitation, v: 25e6, n: 4},
		{off: regAcquisition, v: 250e6, n: 4},
		{off: regCtrl, v: ctrlReset, n: 1}, // hold reset
		{off: regCtrl, v: 0, n: 1},         // release
		{off: regCtrl, v: ctrlRun, n: 1},   // run
		{off: regCtrl, v: 0, n: 1},         // end of run pulse
	}
	if got := cfg.writes; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid register writes:\ngot= %v\nwant=%v", got, want)
	}

	if got, want := slp.delays, []time.Duration{1 * time.Second, 3 * time.Second}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid delays: got=%v, want=%v", got, want)
	}

	if got, want := sts.reads, 3; got != want {
		t.Fatalf("invalid number of status reads: got=%d, want=%d", got, want)
	}
}

func TestSequencerControlBits(t *testing.T) {
	var (
		cfg = new(fakeCfg)
		sts = doneAfter(0)
	)
	cfg.mem[regCtrl] = 0xf0 // unrelated control bits are preserved

	var seen []uint8
	seq, _ := newTestSequencer(cfg, sts)
	seq.sleep = func(time.Duration) { seen = append(seen, cfg.ctrl()) }

	err := seq.Run(context.Background(), testConfig(), 0x1000)
	if err != nil {
		t.Fatalf("could not run sequence: %+v", err)
	}

	// control byte while settling, then while holding the run pulse.
	if got, want := seen, []uint8{0xf0, 0xf0 | ctrlRun}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid control sequence: got=%#x, want=%#x", got, want)
	}
	if got, want := cfg.ctrl(), uint8(0xf0); got != want {
		t.Fatalf("invalid final control byte: got=0x%x, want=0x%x", got, want)
	}
}

func TestSequencerWaitPolls(t *testing.T) {
	for _, k := range []int{0, 1, 2, 5, 10, 100} {
		t.Run("", func(t *testing.T) {
			var (
				cfg = new(fakeCfg)
				sts = doneAfter(k)
			)
			seq, _ := newTestSequencer(cfg, sts)

			var (
				writes int
				polls  []int
			)
			seq.observe = func(n int, v uint8) {
				polls = append(polls, n)
				if len(cfg.writes) != writes {
					t.Errorf("register written while polling: %v", cfg.writes[writes:])
				}
			}

			for _, step := range []func() error{
				func() error { return seq.Configure(testConfig(), 0x1000) },
				seq.HoldReset,
				seq.Release,
				seq.Start,
			} {
				if err := step(); err != nil {
					t.Fatalf("could not prepare sequencer: %+v", err)
				}
			}
			writes = len(cfg.writes)

			n, err := seq.Wait(context.Background())
			if err != nil {
				t.Fatalf("could not wait for completion: %+v", err)
			}

			if got, want := n, k+1; got != want {
				t.Fatalf("invalid number of polls: got=%d, want=%d", got, want)
			}
			if got, want := sts.reads, k+1; got != want {
				t.Fatalf("invalid number of status reads: got=%d, want=%d", got, want)
			}
			if got, want := len(polls), k+1; got != want {
				t.Fatalf("invalid number of notifications: got=%d, want=%d", got, want)
			}
			if got, want := len(cfg.writes), writes; got != want {
				t.Fatalf("register written while polling: got=%d writes, want=%d", got, want)
			}
		})
	}
}

func TestSequencerOutOfOrder(t *testing.T) {
	for _, tc := range []struct {
		name  string
		steps func(seq *Sequencer) error
		state State
	}{
		{
			name:  "release-before-configure",
			steps: func(seq *Sequencer) error { return seq.Release() },
		},
		{
			name:  "start-before-configure",
			steps: func(seq *Sequencer) error { return seq.Start() },
		},
		{
			name:  "hold-before-configure",
			steps: func(seq *Sequencer) error { return seq.HoldReset() },
		},
		{
			name: "wait-before-start",
			steps: func(seq *Sequencer) error {
				_, err := seq.Wait(context.Background())
				return err
			},
		},
		{
			name: "start-before-release",
			steps: func(seq *Sequencer) error {
				err := seq.Configure(testConfig(), 0x1000)
				if err != nil {
					return err
				}
				err = seq.HoldReset()
				if err != nil {
					return err
				}
				return seq.Start()
			},
			state: HeldInReset,
		},
		{
			name: "configure-while-armed",
			steps: func(seq *Sequencer) error {
				err := seq.Configure(testConfig(), 0x1000)
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
				return seq.Configure(testConfig(), 0x1000)
			},
			state: Armed,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			seq, _ := newTestSequencer(new(fakeCfg), doneAfter(0))
			err := tc.steps(seq)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("invalid error: got=%+v, want=%v", err, ErrConfig)
			}
			if !errors.Is(err, ErrState) {
				t.Fatalf("invalid error: got=%+v, want=%v", err, ErrState)
			}
			if got, want := seq.State(), tc.state; got != want {
				t.Fatalf("invalid state: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestSequencerInvalidConfig(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  func(cfg *Config)
	}{
		{"zero-samples", func(cfg *Config) { cfg.Samples = 0 }},
		{"too-many-samples", func(cfg *Config) { cfg.Samples = MaxSamples + 1 }},
		{"zero-decimation", func(cfg *Config) { cfg.Decimation = 0 }},
		{"zero-files", func(cfg *Config) { cfg.Files = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := new(fakeCfg)
			seq, _ := newTestSequencer(cfg, doneAfter(0))

			run := testConfig()
			tc.cfg(&run)

			err := seq.Run(context.Background(), run, 0x1000)
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("invalid error: got=%+v, want=%v", err, ErrConfig)
			}
			if got := len(cfg.writes); got != 0 {
				t.Fatalf("registers written with an invalid configuration: %v", cfg.writes)
			}
			if got, want := seq.State(), Idle; got != want {
				t.Fatalf("invalid state: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestSequencerMaxSamples(t *testing.T) {
	cfg := new(fakeCfg)
	seq, _ := newTestSequencer(cfg, doneAfter(0))

	run := testConfig()
	run.Samples = MaxSamples
	err := seq.Configure(run, 0x1000)
	if err != nil {
		t.Fatalf("could not configure maximum sample count: %+v", err)
	}
	if got, want := cfg.u32(regCount), uint32(MaxSamples*4-1); got != want {
		t.Fatalf("invalid byte count: got=%d, want=%d", got, want)
	}
}

func assertQuiesced(t *testing.T, cfg *fakeCfg, seq *Sequencer) {
	t.Helper()
	if got := cfg.ctrl(); got&ctrlReset == 0 || got&ctrlRun != 0 {
		t.Fatalf("FPGA not quiesced: ctrl=0x%x", got)
	}
	if got, want := seq.State(), Idle; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestSequencerMaxPolls(t *testing.T) {
	for _, n := range []int{1, 2, 3, 10} {
		t.Run("", func(t *testing.T) {
			var (
				cfg = new(fakeCfg)
				sts = &fakeSts{} // never done
			)
			seq, _ := newTestSequencer(cfg, sts, WithMaxPolls(n))

			err := seq.Run(context.Background(), testConfig(), 0x1000)
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("invalid error: got=%+v, want=%v", err, ErrTimeout)
			}
			if got, want := sts.reads, n; got != want {
				t.Fatalf("invalid number of polls: got=%d, want=%d", got, want)
			}
			assertQuiesced(t, cfg, seq)
		})
	}
}

func TestSequencerTimeout(t *testing.T) {
	var (
		cfg = new(fakeCfg)
		sts = &fakeSts{}
	)
	seq, _ := newTestSequencer(cfg, sts,
		WithPoll(100*time.Microsecond),
		WithTimeout(5*time.Millisecond),
	)

	err := seq.Run(context.Background(), testConfig(), 0x1000)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, ErrTimeout)
	}
	if sts.reads == 0 {
		t.Fatalf("status never polled")
	}
	assertQuiesced(t, cfg, seq)
}

func TestSequencerCancel(t *testing.T) {
	var (
		cfg = new(fakeCfg)
		sts = &fakeSts{}
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seq, _ := newTestSequencer(cfg, sts,
		WithPoll(100*time.Microsecond),
		WithObserver(func(n int, v uint8) {
			if n == 3 {
				cancel()
			}
		}),
	)

	err := seq.Run(ctx, testConfig(), 0x1000)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, context.Canceled)
	}
	if got, want := sts.reads, 3; got != want {
		t.Fatalf("invalid number of polls: got=%d, want=%d", got, want)
	}
	assertQuiesced(t, cfg, seq)
}

func TestSequencerRegisterFailure(t *testing.T) {
	t.Run("config-window", func(t *testing.T) {
		cfg := &fakeCfg{err: io.ErrClosedPipe}
		seq, _ := newTestSequencer(cfg, doneAfter(0))

		err := seq.Run(context.Background(), testConfig(), 0x1000)
		if !errors.Is(err, ErrMap) {
			t.Fatalf("invalid error: got=%+v, want=%v", err, ErrMap)
		}
		if !errors.Is(err, io.ErrClosedPipe) {
			t.Fatalf("invalid error: got=%+v, want=%v", err, io.ErrClosedPipe)
		}
		if got, want := seq.State(), Idle; got != want {
			t.Fatalf("invalid state: got=%v, want=%v", got, want)
		}
	})

	t.Run("status-window", func(t *testing.T) {
		var (
			cfg = new(fakeCfg)
			sts = &fakeSts{err: io.ErrUnexpectedEOF}
		)
		seq, _ := newTestSequencer(cfg, sts)

		err := seq.Run(context.Background(), testConfig(), 0x1000)
		if !errors.Is(err, ErrMap) {
			t.Fatalf("invalid error: got=%+v, want=%v", err, ErrMap)
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("invalid error: got=%+v, want=%v", err, io.ErrUnexpectedEOF)
		}
		assertQuiesced(t, cfg, seq)
	})
}

func TestSequencerHoldWindow(t *testing.T) {
	cfg := new(fakeCfg)
	seq, slp := newTestSequencer(cfg, doneAfter(0), WithTiming(Timing{
		Settle:     100 * time.Microsecond,
		Hold:       100 * time.Microsecond,
		HoldWindow: true,
	}))

	run := testConfig()
	run.Excitation = 25e6   // 200ms
	run.Acquisition = 250e6 // 2s

	err := seq.Run(context.Background(), run, 0x1000)
	if err != nil {
		t.Fatalf("could not run sequence: %+v", err)
	}

	want := []time.Duration{100 * time.Microsecond, 2200 * time.Millisecond}
	if got := slp.delays; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid delays: got=%v, want=%v", got, want)
	}
}

func TestSequencerHoldNotice(t *testing.T) {
	for _, tc := range []struct {
		name string
		tm   Timing
		want bool
	}{
		{"short", Timing{Hold: 100 * time.Microsecond}, true},
		{"long", Timing{Hold: 3 * time.Second}, false},
		{"window", Timing{Hold: 100 * time.Microsecond, HoldWindow: true}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			o := new(strings.Builder)
			seq, _ := newTestSequencer(
				new(fakeCfg), doneAfter(0),
				WithTiming(tc.tm), WithLogger(log.New(o, "", 0)),
			)

			run := testConfig()
			run.Excitation = 25e6   // 200ms
			run.Acquisition = 250e6 // 2s

			err := seq.Run(context.Background(), run, 0x1000)
			if err != nil {
				t.Fatalf("could not run sequence: %+v", err)
			}

			const notice = "shorter than the excitation+acquisition window (2.2s)"
			if got, want := strings.Contains(o.String(), notice), tc.want; got != want {
				t.Fatalf("invalid notice: got=%v, want=%v\n%s", got, want, o.String())
			}
		})
	}
}

func TestSequencerRepeat(t *testing.T) {
	var (
		cfg = new(fakeCfg)
		sts = &fakeSts{script: []uint8{stsDone}}
	)
	seq, _ := newTestSequencer(cfg, sts)

	err := seq.Run(context.Background(), testConfig(), 0x1000)
	if err != nil {
		t.Fatalf("could not run first sequence: %+v", err)
	}
	first := append([]write(nil), cfg.writes...)
	cfg.writes = cfg.writes[:0]

	err = seq.Run(context.Background(), testConfig(), 0x1000)
	if err != nil {
		t.Fatalf("could not run second sequence: %+v", err)
	}

	if !reflect.DeepEqual(cfg.writes, first) {
		t.Fatalf("runs differ:\ngot= %v\nwant=%v", cfg.writes, first)
	}
}

func TestSequencerAbort(t *testing.T) {
	cfg := new(fakeCfg)
	cfg.mem[regCtrl] = ctrlRun
	seq, _ := newTestSequencer(cfg, doneAfter(0))

	err := seq.Abort()
	if err != nil {
		t.Fatalf("could not abort: %+v", err)
	}
	assertQuiesced(t, cfg, seq)
}

func TestSequencerDumpRegisters(t *testing.T) {
	var (
		cfg = new(fakeCfg)
		sts = &fakeSts{script: []uint8{stsDone}}
		o   strings.Builder
	)
	seq, _ := newTestSequencer(cfg, sts)
	err := seq.Configure(testConfig(), 0xcafe0000)
	if err != nil {
		t.Fatalf("could not configure: %+v", err)
	}

	err = seq.DumpRegisters(&o)
	if err != nil {
		t.Fatalf("could not dump registers: %+v", err)
	}

	for _, want := range []string{
		"cfg.ctrl=        0x00 (reset=0 run=0)\n",
		"cfg.amplitude=   0x0400\n",
		"cfg.addr=        0xcafe0000\n",
		"cfg.count=       0x00000fff\n",
		"cfg.phase=       0x0083126e\n",
		"sts=             0x01 (done=1)\n",
	} {
		if !strings.Contains(o.String(), want) {
			t.Fatalf("missing %q in register dump:\n%s", want, o.String())
		}
	}

	sts.err = io.ErrClosedPipe
	err = seq.DumpRegisters(io.Discard)
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, io.ErrClosedPipe)
	}
}

func TestStateString(t *testing.T) {
	for _, tc := range []struct {
		st   State
		want string
	}{
		{Idle, "idle"},
		{Configured, "configured"},
		{HeldInReset, "held-in-reset"},
		{Armed, "armed"},
		{Running, "running"},
		{Complete, "complete"},
		{State(42), "State(42)"},
	} {
		if got := tc.st.String(); got != tc.want {
			t.Fatalf("invalid state name: got=%q, want=%q", got, tc.want)
		}
	}
}
