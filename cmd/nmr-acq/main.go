// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nmr-acq runs NMR acquisitions and saves the samples.
//
// Usage: nmr-acq [OPTIONS] [phase-step]
//
// By default, nmr-acq runs the compiled-in "v1" profile.
// When a phase step is given on the command line, the "v2" profile is
// used instead, unless another profile is explicitly requested.
//
// With -sweep=N, N acquisitions are run in a row: the i-th one (from 0)
// is excited at the base frequency plus i times -step-freq, for a
// duration extended by i times -step-exc. Files are then suffixed
// with the index of the acquisition (fid-000.bin, fid-001.bin, ...).
//
// Example:
//
//	$> nmr-acq -o fid.bin
//	$> nmr-acq -o fid.bin 8589934
//	$> nmr-acq -profile=v2 -larmor=250e3 -exc=200ms -acq=2s -timeout=10s -o fid.bin
//	$> nmr-acq -cfg=run.toml -spin -log=/var/log/nmr-acq.log
//	$> nmr-acq -larmor=250e3 -sweep=20 -step-freq=100 -o fid.bin
//	$> nmr-acq -sweep=10 -step-exc=10us -o p90.bin
package main // import "github.com/go-lpc/nmr/cmd/nmr-acq"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-lpc/nmr"
	"github.com/go-lpc/nmr/acq"
	"github.com/oklog/ulid/v2"
	"github.com/sbinet/pmon"
	"github.com/theckman/yacspin"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	var (
		p params

		profile  = flag.String("profile", "v1", "built-in acquisition profile ("+strings.Join(acq.Profiles(), "|")+")")
		cfgFile  = flag.String("cfg", "", "path to an acquisition profile file (TOML, YAML or JSON)")
		oname    = flag.String("o", "", "path to output file (default: nmr-<id>.bin)")
		samples  = flag.Uint("n", 0, "number of sample pairs to acquire")
		dec      = flag.Uint("dec", 0, "decimation factor")
		amp      = flag.Uint("amp", 0, "excitation amplitude")
		gain     = flag.Int("gain", 0, "gain value recorded in the file header")
		files    = flag.Int("files", 0, "number of files recorded in the file header")
		larmor   = flag.Float64("larmor", 0, "Larmor (excitation) frequency in Hz")
		exc      = flag.Duration("exc", 0, "excitation duration")
		acqd     = flag.Duration("acq", 0, "acquisition duration")
		window   = flag.Bool("hold-window", false, "hold the run bit for the whole excitation+acquisition window")
		timeout  = flag.Duration("timeout", 0, "maximum time spent waiting for the acquisition (0: no limit)")
		maxPolls = flag.Int("max-polls", 0, "maximum number of status polls (0: no limit)")
		nsweep   = flag.Int("sweep", 1, "number of acquisitions of a frequency or excitation sweep")
		stepFreq = flag.Float64("step-freq", 0, "excitation frequency increment between sweep acquisitions (Hz)")
		stepExc  = flag.Duration("step-exc", 0, "excitation duration increment between sweep acquisitions")
		devmem   = flag.String("dev-mem", "/dev/mem", "path to the physical memory device")
		devcma   = flag.String("dev-cma", "/dev/cma", "path to the contiguous memory allocator device")
		logName  = flag.String("log", "", "path to a rotating log file mirroring messages")
		doMon    = flag.Bool("pmon", false, "enable pmon monitoring")
		freq     = flag.Duration("freq", 1*time.Second, "pmon frequency")
		monDir   = flag.String("pmon-dir", os.TempDir(), "directory of the pmon log file")
		spin     = flag.Bool("spin", false, "display a spinner while waiting for the acquisition")
		dump     = flag.Bool("dump", false, "print acquired samples")
		verbose  = flag.Bool("v", false, "enable verbose mode")
		version  = flag.Bool("version", false, "print version and exit")
	)

	log.SetPrefix("nmr-acq: ")
	log.SetFlags(0)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `nmr-acq runs NMR acquisitions and saves the samples.

Usage: nmr-acq [OPTIONS] [phase-step]

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if *version {
		v, sum := nmr.Version()
		fmt.Printf("nmr-acq %s %s\n", v, sum)
		return
	}

	if flag.NArg() > 1 {
		flag.Usage()
		log.Fatalf("too many arguments: %q", flag.Args())
	}

	p = params{
		set:      make(map[string]bool),
		profile:  *profile,
		cfgFile:  *cfgFile,
		phase:    flag.Arg(0),
		samples:  *samples,
		dec:      *dec,
		amp:      *amp,
		gain:     *gain,
		files:    *files,
		larmor:   *larmor,
		exc:      *exc,
		acq:      *acqd,
		window:   *window,
		timeout:  *timeout,
		maxPolls: *maxPolls,
		nsweep:   *nsweep,
		stepFreq: *stepFreq,
		stepExc:  *stepExc,
		devmem:   *devmem,
		devcma:   *devcma,
		oname:    *oname,
		dump:     *dump,
		verbose:  *verbose,
		spin:     *spin,
	}
	flag.Visit(func(f *flag.Flag) { p.set[f.Name] = true })

	err := xmain(p, *logName, *doMon, *monDir, *freq)
	if err != nil {
		log.Fatalf("could not run acquisition: %+v", err)
	}
}

func xmain(p params, logName string, doMon bool, monDir string, freq time.Duration) error {
	var w io.Writer = os.Stdout
	if logName != "" {
		out := &lumberjack.Logger{
			Filename:   logName,
			MaxSize:    10,  // megabytes after which new file is created
			MaxBackups: 4,   // number of backups
			MaxAge:     180, // days
			Compress:   true,
		}
		defer out.Close()
		w = io.MultiWriter(os.Stdout, out)
		log.SetOutput(w)
		defer log.SetOutput(os.Stderr)
	}
	msg := log.New(w, "acq: ", 0)

	if doMon {
		stop, err := monitor(monDir, freq)
		if err != nil {
			return fmt.Errorf("could not start pmon: %w", err)
		}
		defer func() {
			err := stop()
			if err != nil {
				log.Printf("could not stop pmon: %+v", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fnames, err := run(ctx, p, acq.WithLogger(msg))
	for _, fname := range fnames {
		log.Printf("acquisition saved to %q", fname)
	}
	return err
}

type params struct {
	set map[string]bool // flags explicitly set

	profile string
	cfgFile string
	phase   string // positional phase step

	samples uint
	dec     uint
	amp     uint
	gain    int
	files   int
	larmor  float64
	exc     time.Duration
	acq     time.Duration

	window   bool
	timeout  time.Duration
	maxPolls int

	nsweep   int           // number of acquisitions
	stepFreq float64       // frequency increment, in Hz
	stepExc  time.Duration // excitation increment

	devmem string
	devcma string
	oname  string

	dump    bool
	verbose bool
	spin    bool
}

// config builds the acquisition configuration from the selected
// profile and the explicitly set flags.
func (p params) config() (acq.Config, acq.Timing, error) {
	var (
		cfg acq.Config
		tm  acq.Timing
		err error
	)

	profile := p.profile
	if p.phase != "" && !p.set["profile"] {
		profile = "v2"
	}

	switch p.cfgFile {
	case "":
		cfg, tm, err = acq.Profile(profile)
	default:
		if p.set["profile"] {
			return cfg, tm, fmt.Errorf("-profile and -cfg are mutually exclusive")
		}
		cfg, tm, err = acq.LoadProfile(p.cfgFile)
	}
	if err != nil {
		return cfg, tm, fmt.Errorf("could not load acquisition profile: %w", err)
	}

	if p.set["n"] {
		if p.samples > math.MaxUint32 {
			return cfg, tm, fmt.Errorf("%w: invalid number of samples %d", acq.ErrConfig, p.samples)
		}
		cfg.Samples = uint32(p.samples)
	}
	if p.set["dec"] {
		if p.dec > math.MaxUint32 {
			return cfg, tm, fmt.Errorf("%w: invalid decimation %d", acq.ErrConfig, p.dec)
		}
		cfg.Decimation = uint32(p.dec)
	}
	if p.set["amp"] {
		if p.amp > math.MaxUint16 {
			return cfg, tm, fmt.Errorf("%w: invalid amplitude %d", acq.ErrConfig, p.amp)
		}
		cfg.Amplitude = uint16(p.amp)
	}
	if p.set["gain"] {
		cfg.Gain = int32(p.gain)
	}
	if p.set["files"] {
		cfg.Files = int32(p.files)
	}

	switch {
	case p.phase != "" && p.set["larmor"]:
		return cfg, tm, fmt.Errorf("%w: phase step and -larmor are mutually exclusive", acq.ErrConfig)
	case p.phase != "":
		v, err := strconv.ParseUint(p.phase, 0, 32)
		if err != nil {
			return cfg, tm, fmt.Errorf("%w: invalid phase step %q: %w", acq.ErrConfig, p.phase, err)
		}
		cfg.PhaseStep = uint32(v)
	case p.set["larmor"]:
		cfg.PhaseStep, err = acq.PhaseStep(p.larmor)
		if err != nil {
			return cfg, tm, err
		}
	}

	if p.set["exc"] {
		cfg.Excitation, err = acq.Cycles(p.exc)
		if err != nil {
			return cfg, tm, fmt.Errorf("invalid excitation duration: %w", err)
		}
	}
	if p.set["acq"] {
		cfg.Acquisition, err = acq.Cycles(p.acq)
		if err != nil {
			return cfg, tm, fmt.Errorf("invalid acquisition duration: %w", err)
		}
	}

	if p.set["hold-window"] {
		tm.HoldWindow = p.window
	}
	if p.set["timeout"] {
		tm.Timeout = p.timeout
	}
	if p.set["max-polls"] {
		tm.MaxPolls = p.maxPolls
	}

	if p.set["sweep"] && p.nsweep < 1 {
		return cfg, tm, fmt.Errorf("%w: invalid number of sweep acquisitions %d", acq.ErrConfig, p.nsweep)
	}

	return cfg, tm, cfg.Validate()
}

// steps returns the configurations of the acquisitions of a sweep
// starting at cfg. The first one is cfg itself.
func (p params) steps(cfg acq.Config) ([]acq.Config, error) {
	n := max(p.nsweep, 1)
	f0 := cfg.Frequency()
	if p.set["larmor"] {
		f0 = p.larmor
	}

	cfgs := make([]acq.Config, n)
	cfgs[0] = cfg
	for i := 1; i < n; i++ {
		cfg := cfg
		if p.stepFreq != 0 {
			f := f0 + float64(i)*p.stepFreq
			v, err := acq.PhaseStep(f)
			if err != nil {
				return nil, fmt.Errorf("invalid sweep step %d: %w", i, err)
			}
			cfg.PhaseStep = v
		}
		if p.stepExc != 0 {
			exc := float64(cfg.Excitation) + math.Round(float64(i)*p.stepExc.Seconds()*acq.ClockFreq)
			if exc < 0 || exc > math.MaxUint32 {
				return nil, fmt.Errorf(
					"%w: invalid sweep step %d: excitation of %g cycles out of range",
					acq.ErrConfig, i, exc,
				)
			}
			cfg.Excitation = uint32(exc)
		}
		cfgs[i] = cfg
	}
	return cfgs, nil
}

// sweepName returns the name of the i-th file of a sweep of n
// acquisitions saved under fname.
func sweepName(fname string, i, n int) string {
	if n <= 1 {
		return fname
	}
	ext := filepath.Ext(fname)
	return fmt.Sprintf("%s-%03d%s", strings.TrimSuffix(fname, ext), i, ext)
}

func run(ctx context.Context, p params, opts ...acq.Option) ([]string, error) {
	cfg, tm, err := p.config()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfgs, err := p.steps(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if p.verbose {
		log.Printf("configuration:\n%s", spew.Sdump(cfg, tm))
	}

	fname := p.oname
	if fname == "" {
		fname = "nmr-" + ulid.Make().String() + ".bin"
	}
	fnames := make([]string, len(cfgs))
	for i := range fnames {
		fnames[i] = sweepName(fname, i, len(cfgs))
	}

	opts = append([]acq.Option{
		acq.WithTiming(tm),
		acq.WithDevCMA(p.devcma),
	}, opts...)

	var sp *yacspin.Spinner
	if p.spin {
		sp, err = newSpinner()
		if err != nil {
			return nil, fmt.Errorf("could not create spinner: %w", err)
		}
		opts = append(opts, acq.WithObserver(func(n int, sts uint8) {
			sp.Message(fmt.Sprintf("poll #%d (status=0x%02x)", n, sts))
		}))
		err = sp.Start()
		if err != nil {
			return nil, fmt.Errorf("could not start spinner: %w", err)
		}
	}

	n, err := acquire(ctx, p.devmem, cfgs, fnames, opts...)
	if sp != nil {
		if err != nil {
			_ = sp.StopFail()
		} else {
			_ = sp.Stop()
		}
	}
	fnames = fnames[:n]
	if err != nil {
		return fnames, err
	}

	if p.dump {
		for _, fname := range fnames {
			err = dump(os.Stdout, fname)
			if err != nil {
				return fnames, err
			}
		}
	}

	return fnames, nil
}

// acquire runs the acquisitions described by cfgs, in order, and
// returns the number of files written.
func acquire(ctx context.Context, devmem string, cfgs []acq.Config, fnames []string, opts ...acq.Option) (int, error) {
	dev, err := acq.NewDevice(devmem, opts...)
	if err != nil {
		return 0, err
	}
	defer dev.Close()

	for i, cfg := range cfgs {
		if len(cfgs) > 1 {
			log.Printf(
				"sweep %d/%d: f=%.3f kHz, excitation=%d cycles",
				i+1, len(cfgs), cfg.Frequency()/1e3, cfg.Excitation,
			)
		}
		err = dev.Acquire(ctx, cfg, fnames[i])
		if err != nil {
			return i, fmt.Errorf("could not run acquisition %d/%d: %w", i+1, len(cfgs), err)
		}
	}

	return len(cfgs), dev.Close()
}

func newSpinner() (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		Writer:            os.Stderr,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " acquiring",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopMessage:       "done",
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
		StopFailMessage:   "failed",
	})
}

// dump prints the acquired sample pairs, with their index.
func dump(w io.Writer, fname string) error {
	rec, err := acq.ReadFile(fname)
	if err != nil {
		return fmt.Errorf("could not read back samples: %w", err)
	}
	for i := 0; i < rec.Len(); i++ {
		ch1, ch2 := rec.Pair(i)
		fmt.Fprintf(w, "%5d, %5d, %5d\n", ch1, ch2, i)
	}
	return nil
}

// monitor starts monitoring the resources of the current process,
// logging to a file in dir.
// The returned function stops the monitoring and closes the log file.
func monitor(dir string, freq time.Duration) (stop func() error, err error) {
	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return nil, fmt.Errorf("could not monitor pid=%d: %w", pid, err)
	}

	name := filepath.Join(dir, fmt.Sprintf("nmr-acq-%d-pmon.log", pid))
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Printf("run pmon (output: %q)...", name)
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	stop = sync.OnceValue(func() error {
		err := p.Kill()
		if err != nil {
			err = fmt.Errorf("could not stop pmon: %w", err)
		}
		<-done
		if e := f.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("could not close pmon log file: %w", e))
		}
		return err
	})
	return stop, nil
}
