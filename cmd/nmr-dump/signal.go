// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"math/cmplx"
	"strconv"
	"strings"

	"github.com/go-lpc/nmr/acq"
	"gonum.org/v1/gonum/dsp/fourier"
)

// signal is the average of one or more acquisitions, in volts.
type signal struct {
	hdr  acq.Header
	rate float64      // sampling rate, in Hz
	ch   [2][]float64 // channels 1 and 2
}

func (sig *signal) len() int { return len(sig.ch[0]) }

// load reads and averages the named sample files.
func load(fnames []string) (*signal, error) {
	var sig *signal
	for _, fname := range fnames {
		rec, err := acq.ReadFile(fname)
		if err != nil {
			return nil, err
		}
		if rec.Decimation <= 0 {
			return nil, fmt.Errorf("invalid decimation %d in %q", rec.Decimation, fname)
		}

		if sig == nil {
			sig = &signal{
				hdr:  rec.Header,
				rate: acq.ClockFreq / float64(rec.Decimation),
				ch: [2][]float64{
					make([]float64, rec.Len()),
					make([]float64, rec.Len()),
				},
			}
		}
		if rec.Samples != sig.hdr.Samples || rec.Decimation != sig.hdr.Decimation {
			return nil, fmt.Errorf(
				"inconsistent file %q: samples=%d decimation=%d, want samples=%d decimation=%d",
				fname, rec.Samples, rec.Decimation, sig.hdr.Samples, sig.hdr.Decimation,
			)
		}

		for i := range sig.ch {
			for j, v := range rec.Volts(i + 1) {
				sig.ch[i][j] += v
			}
		}
	}
	if sig == nil {
		return nil, fmt.Errorf("no sample file")
	}

	norm := 1 / float64(len(fnames))
	for i := range sig.ch {
		for j := range sig.ch[i] {
			sig.ch[i][j] *= norm
		}
	}
	return sig, nil
}

// times returns the acquisition time of each sample, in seconds.
func (sig *signal) times() []float64 {
	ts := make([]float64, sig.len())
	for i := range ts {
		ts[i] = float64(i) / sig.rate
	}
	return ts
}

// spectrum returns the frequencies (Hz) and normalized magnitudes of the
// positive half of the spectrum of channel ch (0 or 1).
func (sig *signal) spectrum(ch int) (freqs, mags []float64) {
	n := sig.len()
	if n == 0 {
		return nil, nil
	}
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, sig.ch[ch])

	freqs = make([]float64, len(coeffs))
	mags = make([]float64, len(coeffs))
	for i, c := range coeffs {
		freqs[i] = fft.Freq(i) * sig.rate
		mags[i] = cmplx.Abs(c) / float64(n)
	}
	return freqs, mags
}

// center subtracts its mean from each channel, to put the baseline at zero.
func (sig *signal) center() {
	for i := range sig.ch {
		if len(sig.ch[i]) == 0 {
			continue
		}
		mean := 0.0
		for _, v := range sig.ch[i] {
			mean += v
		}
		mean /= float64(len(sig.ch[i]))
		for j := range sig.ch[i] {
			sig.ch[i][j] -= mean
		}
	}
}

// bandpass removes the spectral components outside of [lo, hi] Hz.
func (sig *signal) bandpass(lo, hi float64) error {
	if lo < 0 || hi <= lo {
		return fmt.Errorf("invalid band [%g, %g] Hz", lo, hi)
	}
	n := sig.len()
	if n == 0 {
		return nil
	}

	fft := fourier.NewFFT(n)
	for i := range sig.ch {
		coeffs := fft.Coefficients(nil, sig.ch[i])
		for j := range coeffs {
			if f := fft.Freq(j) * sig.rate; f < lo || f > hi {
				coeffs[j] = 0
			}
		}
		// Sequence is unnormalized.
		for j, v := range fft.Sequence(nil, coeffs) {
			sig.ch[i][j] = v / float64(n)
		}
	}
	return nil
}

// parseBand parses a frequency band, in Hz, written as "lo:hi".
func parseBand(s string) (lo, hi float64, err error) {
	slo, shi, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid band %q (want lo:hi)", s)
	}
	lo, err = strconv.ParseFloat(strings.TrimSpace(slo), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid band lower bound %q: %w", slo, err)
	}
	hi, err = strconv.ParseFloat(strings.TrimSpace(shi), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid band upper bound %q: %w", shi, err)
	}
	if lo < 0 || hi <= lo {
		return 0, 0, fmt.Errorf("invalid band [%g, %g] Hz", lo, hi)
	}
	return lo, hi, nil
}
