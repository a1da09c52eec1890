// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nmr-dump displays, averages and exports NMR sample files.
//
// Usage: nmr-dump [OPTIONS] file1.bin [file2.bin [...]]
//
// Multiple files are averaged together: they must share the same
// number of samples and decimation.
//
// Example:
//
//	$> nmr-dump -n 4 fid.bin
//	$> nmr-dump -npy fid.npy -png fid.png -fft spectrum.png run-*.bin
package main // import "github.com/go-lpc/nmr/cmd/nmr-dump"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

func main() {
	var (
		n    = flag.Int("n", 10, "number of sample pairs to print (-1: all)")
		npy  = flag.String("npy", "", "path to a NumPy file to export the (averaged) signal, in volts")
		png  = flag.String("png", "", "path to an image of the (averaged) signal")
		fft  = flag.String("fft", "", "path to an image of the spectrum of the (averaged) signal")
		fmin = flag.Float64("fmin", 0, "lower bound of the displayed spectrum (Hz)")
		fmax = flag.Float64("fmax", 0, "upper bound of the displayed spectrum (Hz, 0: Nyquist frequency)")
		ctr  = flag.Bool("center", true, "subtract the mean of the (averaged) signal to center its baseline")
		band = flag.String("band", "", "band-pass filter the (averaged) signal, as lo:hi in Hz")
	)

	log.SetPrefix("nmr-dump: ")
	log.SetFlags(0)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `nmr-dump displays, averages and exports NMR sample files.

Usage: nmr-dump [OPTIONS] file1.bin [file2.bin [...]]

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing input sample file")
	}

	opts := options{
		n:      *n,
		npy:    *npy,
		png:    *png,
		fft:    *fft,
		fmin:   *fmin,
		fmax:   *fmax,
		center: *ctr,
	}
	if *band != "" {
		lo, hi, err := parseBand(*band)
		if err != nil {
			log.Fatalf("could not parse band: %+v", err)
		}
		opts.band = []float64{lo, hi}
	}

	err := process(os.Stdout, flag.Args(), opts)
	if err != nil {
		log.Fatalf("could not process sample files: %+v", err)
	}
}

type options struct {
	n      int // number of sample pairs to print
	npy    string
	png    string
	fft    string
	fmin   float64
	fmax   float64
	center bool      // subtract the baseline
	band   []float64 // band-pass [lo, hi] in Hz, if any
}

func process(w io.Writer, fnames []string, opts options) error {
	sig, err := load(fnames)
	if err != nil {
		return err
	}
	if opts.center {
		sig.center()
	}
	if len(opts.band) == 2 {
		err = sig.bandpass(opts.band[0], opts.band[1])
		if err != nil {
			return fmt.Errorf("could not filter signal: %w", err)
		}
	}

	fmt.Fprintf(w, "files:      %d\n", len(fnames))
	fmt.Fprintf(w, "samples:    %d\n", sig.hdr.Samples)
	fmt.Fprintf(w, "decimation: %d\n", sig.hdr.Decimation)
	fmt.Fprintf(w, "nfiles:     %d\n", sig.hdr.Files)
	fmt.Fprintf(w, "gain:       %d\n", sig.hdr.Gain)
	fmt.Fprintf(w, "rate:       %g Hz\n", sig.rate)
	fmt.Fprintf(w, "duration:   %g s\n", float64(sig.len())/sig.rate)

	n := opts.n
	if n < 0 || n > sig.len() {
		n = sig.len()
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(w, "%5d: %+.6f %+.6f\n", i, sig.ch[0][i], sig.ch[1][i])
	}

	return export(sig, opts)
}
