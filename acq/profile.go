// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/viper"
)

// LoadProfile reads an acquisition profile from the named file
// (TOML, YAML or JSON, selected from the file extension).
//
// The file selects a built-in profile with the "profile" key (v1 by
// default), then overrides its values:
//
//	profile = "v2"
//
//	[acquisition]
//	samples     = 2048
//	decimation  = 100
//	amplitude   = 1024
//	larmor      = 250e3   # Hz, or phase-step = 8589934
//	excitation  = "200ms" # or excitation-cycles = 25000000
//	acquisition = "2s"    # or acquisition-cycles = 250000000
//	gain        = 0
//	files       = 1
//
//	[timing]
//	settle     = "100us"
//	hold       = "100us"
//	hold-window = false
//	poll       = "200us"
//	max-polls  = 0
//	timeout    = "10s"
func LoadProfile(fname string) (Config, Timing, error) {
	v := viper.New()
	v.SetConfigFile(fname)
	v.SetDefault("profile", "v1")

	err := v.ReadInConfig()
	if err != nil {
		return Config{}, Timing{}, fmt.Errorf("%w: could not read profile %q: %w", ErrConfig, fname, err)
	}

	cfg, tm, err := Profile(v.GetString("profile"))
	if err != nil {
		return cfg, tm, fmt.Errorf("acq: could not load profile %q: %w", fname, err)
	}

	err = loadConfig(v.Sub("acquisition"), &cfg)
	if err != nil {
		return cfg, tm, fmt.Errorf("acq: could not load profile %q: %w", fname, err)
	}
	loadTiming(v.Sub("timing"), &tm)

	err = cfg.Validate()
	if err != nil {
		return cfg, tm, fmt.Errorf("acq: invalid profile %q: %w", fname, err)
	}
	return cfg, tm, nil
}

func loadConfig(v *viper.Viper, cfg *Config) error {
	if v == nil {
		return nil
	}

	if v.IsSet("samples") {
		cfg.Samples = v.GetUint32("samples")
	}
	if v.IsSet("decimation") {
		cfg.Decimation = v.GetUint32("decimation")
	}
	if v.IsSet("amplitude") {
		amp := v.GetUint32("amplitude")
		if amp > math.MaxUint16 {
			return fmt.Errorf("%w: amplitude %d out of range", ErrConfig, amp)
		}
		cfg.Amplitude = uint16(amp)
	}
	if v.IsSet("gain") {
		cfg.Gain = v.GetInt32("gain")
	}
	if v.IsSet("files") {
		cfg.Files = v.GetInt32("files")
	}

	switch {
	case v.IsSet("phase-step"):
		cfg.PhaseStep = v.GetUint32("phase-step")
	case v.IsSet("larmor"):
		step, err := PhaseStep(v.GetFloat64("larmor"))
		if err != nil {
			return fmt.Errorf("acq: invalid larmor frequency: %w", err)
		}
		cfg.PhaseStep = step
	}

	for _, p := range []struct {
		key string
		ptr *uint32
	}{
		{"excitation", &cfg.Excitation},
		{"acquisition", &cfg.Acquisition},
	} {
		switch {
		case v.IsSet(p.key + "-cycles"):
			*p.ptr = v.GetUint32(p.key + "-cycles")
		case v.IsSet(p.key):
			n, err := Cycles(v.GetDuration(p.key))
			if err != nil {
				return fmt.Errorf("acq: invalid %s duration: %w", p.key, err)
			}
			*p.ptr = n
		}
	}

	return nil
}

func loadTiming(v *viper.Viper, tm *Timing) {
	if v == nil {
		return
	}

	for _, p := range []struct {
		key string
		ptr *time.Duration
	}{
		{"settle", &tm.Settle},
		{"hold", &tm.Hold},
		{"poll", &tm.Poll},
		{"timeout", &tm.Timeout},
	} {
		if v.IsSet(p.key) {
			*p.ptr = v.GetDuration(p.key)
		}
	}
	if v.IsSet("hold-window") {
		tm.HoldWindow = v.GetBool("hold-window")
	}
	if v.IsSet("max-polls") {
		tm.MaxPolls = v.GetInt("max-polls")
	}
}
