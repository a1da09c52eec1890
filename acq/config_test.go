// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func TestPhaseStep(t *testing.T) {
	for _, tc := range []struct {
		hz   float64
		want uint32
		err  error
	}{
		{hz: 0, want: 0},
		{hz: 250e3, want: 8589934},
		{hz: 1e6, want: 34359738},
		{hz: 10.7e6, want: 367649200},
		{hz: -1, err: ErrConfig},
		{hz: ClockFreq, err: ErrConfig},
		{hz: math.NaN(), err: ErrConfig},
	} {
		got, err := PhaseStep(tc.hz)
		if !errors.Is(err, tc.err) {
			t.Fatalf("invalid error for %g Hz: got=%v, want=%v", tc.hz, err, tc.err)
		}
		if got != tc.want {
			t.Fatalf("invalid phase step for %g Hz: got=%d, want=%d", tc.hz, got, tc.want)
		}
	}

	cfg := Config{PhaseStep: 8589934}
	if got, want := cfg.Frequency(), 250e3; math.Abs(got-want) > 1 {
		t.Fatalf("invalid frequency: got=%g, want=%g", got, want)
	}
}

func TestCycles(t *testing.T) {
	for _, tc := range []struct {
		d    time.Duration
		want uint32
		err  error
	}{
		{d: 0, want: 0},
		{d: 8 * time.Nanosecond, want: 1},
		{d: 200 * time.Millisecond, want: 25e6},
		{d: 2 * time.Second, want: 250e6},
		{d: -time.Second, err: ErrConfig},
		{d: time.Minute, err: ErrConfig},
	} {
		got, err := Cycles(tc.d)
		if !errors.Is(err, tc.err) {
			t.Fatalf("invalid error for %v: got=%v, want=%v", tc.d, err, tc.err)
		}
		if got != tc.want {
			t.Fatalf("invalid cycles for %v: got=%d, want=%d", tc.d, got, tc.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
		err  error
	}{
		{"ok", Config{Samples: 1, Decimation: 1, Files: 1}, nil},
		{"max", Config{Samples: MaxSamples, Decimation: 1, Files: 1}, nil},
		{"zero-samples", Config{Samples: 0, Decimation: 1, Files: 1}, ErrConfig},
		{"too-many-samples", Config{Samples: MaxSamples + 1, Decimation: 1, Files: 1}, ErrConfig},
		{"zero-decimation", Config{Samples: 1, Decimation: 0, Files: 1}, ErrConfig},
		{"zero-files", Config{Samples: 1, Decimation: 1, Files: 0}, ErrConfig},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if !errors.Is(err, tc.err) {
				t.Fatalf("invalid error: got=%v, want=%v", err, tc.err)
			}
		})
	}
}

func TestConfigWindow(t *testing.T) {
	cfg := Config{Excitation: 25e6, Acquisition: 250e6}
	if got, want := cfg.Window(), 2200*time.Millisecond; got != want {
		t.Fatalf("invalid window: got=%v, want=%v", got, want)
	}

	cfg = Config{Excitation: math.MaxUint32, Acquisition: math.MaxUint32}
	if got := cfg.Window(); got <= 0 {
		t.Fatalf("invalid window: got=%v", got)
	}

	if got, want := (Config{Samples: 1024}).Bytes(), 4096; got != want {
		t.Fatalf("invalid size: got=%d, want=%d", got, want)
	}
}

func TestProfile(t *testing.T) {
	if got, want := Profiles(), []string{"v1", "v2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid profiles: got=%v, want=%v", got, want)
	}

	for _, tc := range []struct {
		name   string
		cfg    Config
		timing Timing
	}{
		{
			name: "v1",
			cfg: Config{
				Samples: 1024, Decimation: 100, Amplitude: 1024,
				PhaseStep: 8589934, Excitation: 250e6, Acquisition: 250e6,
				Files: 1,
			},
			timing: Timing{Settle: time.Second, Hold: 3 * time.Second, Poll: 2 * time.Second},
		},
		{
			name: "v2",
			cfg: Config{
				Samples: 1024, Decimation: 100, Amplitude: 1024,
				PhaseStep: 34359738, Excitation: 25e6, Acquisition: 250e6,
				Files: 1,
			},
			timing: Timing{
				Settle: 100 * time.Microsecond,
				Hold:   100 * time.Microsecond,
				Poll:   200 * time.Microsecond,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg, tm, err := Profile(tc.name)
			if err != nil {
				t.Fatalf("could not load profile: %+v", err)
			}
			if cfg != tc.cfg {
				t.Fatalf("invalid config:\ngot= %+v\nwant=%+v", cfg, tc.cfg)
			}
			if tm != tc.timing {
				t.Fatalf("invalid timing:\ngot= %+v\nwant=%+v", tm, tc.timing)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("invalid built-in profile: %+v", err)
			}
		})
	}

	_, _, err := Profile("v3")
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrConfig)
	}
}

func TestTimingHold(t *testing.T) {
	cfg := Config{Excitation: 25e6, Acquisition: 250e6}
	for _, tc := range []struct {
		tm   Timing
		want time.Duration
	}{
		{Timing{Hold: time.Second}, time.Second},
		{Timing{Hold: time.Second, HoldWindow: true}, 2200 * time.Millisecond},
		{Timing{Hold: 3 * time.Second, HoldWindow: true}, 3 * time.Second},
	} {
		if got := tc.tm.hold(cfg); got != tc.want {
			t.Fatalf("invalid hold for %+v: got=%v, want=%v", tc.tm, got, tc.want)
		}
	}
}
