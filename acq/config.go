// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Config holds the parameters of a single acquisition.
type Config struct {
	Samples     uint32 // number of sample pairs to acquire
	Decimation  uint32 // decimation factor, recorded in the file header
	Amplitude   uint16 // excitation amplitude
	PhaseStep   uint32 // DDS phase step, see PhaseStep
	Excitation  uint32 // excitation duration, in clock cycles
	Acquisition uint32 // acquisition duration, in clock cycles
	Gain        int32  // front-end gain, recorded in the file header
	Files       int32  // number of files of the run, recorded in the file header
}

// Validate checks the configuration can be programmed into the device.
func (cfg Config) Validate() error {
	switch {
	case cfg.Samples == 0:
		return fmt.Errorf("%w: zero sample count", ErrConfig)
	case cfg.Samples > MaxSamples:
		return fmt.Errorf("%w: sample count %d exceeds maximum (%d)", ErrConfig, cfg.Samples, MaxSamples)
	case cfg.Decimation == 0:
		return fmt.Errorf("%w: zero decimation", ErrConfig)
	case cfg.Files < 1:
		return fmt.Errorf("%w: invalid number of files (%d)", ErrConfig, cfg.Files)
	}
	return nil
}

// Bytes returns the size in bytes of the sample buffer.
func (cfg Config) Bytes() int {
	return int(cfg.Samples) * sampleSize
}

// Window returns the duration of the excitation and acquisition phases.
func (cfg Config) Window() time.Duration {
	cycles := uint64(cfg.Excitation) + uint64(cfg.Acquisition)
	return time.Duration(cycles * uint64(time.Second) / ClockFreq)
}

// Frequency returns the excitation frequency, in Hz, of the configured
// phase step.
func (cfg Config) Frequency() float64 {
	return float64(cfg.PhaseStep) * ClockFreq / (1 << 32)
}

// Header returns the file header describing this acquisition.
func (cfg Config) Header() Header {
	return Header{
		Samples:    int32(cfg.Samples),
		Decimation: int32(cfg.Decimation),
		Files:      cfg.Files,
		Gain:       cfg.Gain,
	}
}

// PhaseStep returns the DDS phase step producing an excitation at
// frequency hz: floor(hz * 2^32 / ClockFreq).
func PhaseStep(hz float64) (uint32, error) {
	if hz < 0 || hz >= ClockFreq || math.IsNaN(hz) {
		return 0, fmt.Errorf("%w: frequency %g Hz out of range [0, %g)", ErrConfig, hz, ClockFreq)
	}
	return uint32(math.Floor(hz * (1 << 32) / ClockFreq)), nil
}

// Cycles returns the number of FPGA clock cycles spanning d.
func Cycles(d time.Duration) (uint32, error) {
	v := math.Round(d.Seconds() * ClockFreq)
	if v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: duration %v out of range", ErrConfig, d)
	}
	return uint32(v), nil
}

// Timing holds the delays of the control sequence.
type Timing struct {
	Settle time.Duration // delay after releasing reset
	Hold   time.Duration // duration of the run pulse

	// HoldWindow extends the run pulse to cover the excitation and
	// acquisition window when that window is longer than Hold.
	HoldWindow bool

	Poll     time.Duration // status polling interval
	MaxPolls int           // maximum number of status polls, 0 for no limit
	Timeout  time.Duration // maximum time spent polling, 0 for no limit
}

func (tm Timing) hold(cfg Config) time.Duration {
	if !tm.HoldWindow {
		return tm.Hold
	}
	return max(tm.Hold, cfg.Window())
}

type profile struct {
	cfg    Config
	timing Timing
}

var profiles = map[string]profile{
	// v1 is the slow test sequence, with all parameters compiled in.
	"v1": {
		cfg: Config{
			Samples:     1024,
			Decimation:  100,
			Amplitude:   1024,
			PhaseStep:   8589934, // 250 kHz
			Excitation:  250e6,
			Acquisition: 250e6,
			Files:       1,
		},
		timing: Timing{
			Settle: 1 * time.Second,
			Hold:   3 * time.Second,
			Poll:   2 * time.Second,
		},
	},
	// v2 is the fast sequence, where the phase step is usually
	// provided on the command line.
	"v2": {
		cfg: Config{
			Samples:     1024,
			Decimation:  100,
			Amplitude:   1024,
			PhaseStep:   34359738, // 1 MHz
			Excitation:  25e6,
			Acquisition: 250e6,
			Files:       1,
		},
		timing: Timing{
			Settle: 100 * time.Microsecond,
			Hold:   100 * time.Microsecond,
			Poll:   200 * time.Microsecond,
		},
	},
}

// Profile returns the configuration and timing of a built-in profile.
func Profile(name string) (Config, Timing, error) {
	p, ok := profiles[name]
	if !ok {
		return Config{}, Timing{}, fmt.Errorf("%w: unknown profile %q", ErrConfig, name)
	}
	return p.cfg, p.timing, nil
}

// Profiles returns the names of the built-in profiles.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for k := range profiles {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
