// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/sbinet/npyio"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// export writes the requested outputs concurrently.
func export(sig *signal, opts options) error {
	var grp errgroup.Group
	if opts.npy != "" {
		grp.Go(func() error {
			return writeNpy(opts.npy, sig)
		})
	}
	if opts.png != "" {
		grp.Go(func() error {
			return plotSignal(opts.png, sig)
		})
	}
	if opts.fft != "" {
		grp.Go(func() error {
			return plotSpectrum(opts.fft, sig, opts.fmin, opts.fmax)
		})
	}
	return grp.Wait()
}

// writeNpy writes the signal as a (samples, 2) float64 array.
func writeNpy(fname string, sig *signal) error {
	m := mat.NewDense(sig.len(), 2, nil)
	m.SetCol(0, sig.ch[0])
	m.SetCol(1, sig.ch[1])

	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create npy file: %w", err)
	}
	defer f.Close()

	err = npyio.Write(f, m)
	if err != nil {
		return fmt.Errorf("could not write npy file %q: %w", fname, err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close npy file %q: %w", fname, err)
	}
	return nil
}

func xys(xs, ys []float64) plotter.XYs {
	pts := make(plotter.XYs, len(xs))
	for i := range pts {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	return pts
}

func plotSignal(fname string, sig *signal) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("FID (%d samples, decimation=%d)", sig.len(), sig.hdr.Decimation)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Amplitude (V)"
	p.Add(plotter.NewGrid())

	ts := sig.times()
	err := plotutil.AddLines(p,
		"IN1", xys(ts, sig.ch[0]),
		"IN2", xys(ts, sig.ch[1]),
	)
	if err != nil {
		return fmt.Errorf("could not create signal plot: %w", err)
	}

	err = p.Save(20*vg.Centimeter, 10*vg.Centimeter, fname)
	if err != nil {
		return fmt.Errorf("could not save signal plot %q: %w", fname, err)
	}
	return nil
}

func plotSpectrum(fname string, sig *signal, fmin, fmax float64) error {
	p := plot.New()
	p.Title.Text = "Spectrum"
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "Magnitude (V)"
	p.Add(plotter.NewGrid())

	var lines []any
	for i, name := range []string{"IN1", "IN2"} {
		freqs, mags := sig.spectrum(i)
		lo, hi := window(freqs, fmin, fmax)
		lines = append(lines, name, xys(freqs[lo:hi], mags[lo:hi]))
	}
	err := plotutil.AddLines(p, lines...)
	if err != nil {
		return fmt.Errorf("could not create spectrum plot: %w", err)
	}

	err = p.Save(20*vg.Centimeter, 10*vg.Centimeter, fname)
	if err != nil {
		return fmt.Errorf("could not save spectrum plot %q: %w", fname, err)
	}
	return nil
}

// window returns the range of increasing freqs within [fmin, fmax].
// A zero fmax selects all frequencies above fmin.
func window(freqs []float64, fmin, fmax float64) (lo, hi int) {
	hi = len(freqs)
	for lo < hi && freqs[lo] < fmin {
		lo++
	}
	if fmax <= 0 {
		return lo, hi
	}
	for hi > lo && freqs[hi-1] > fmax {
		hi--
	}
	return lo, hi
}
