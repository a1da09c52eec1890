// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nmr-spy spies the content of the NMR acquisition registers.
//
// With -i, nmr-spy starts an interactive shell to inspect the registers
// and bring the sequencer back to a quiescent state.
package main // import "github.com/go-lpc/nmr/cmd/nmr-spy"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-lpc/nmr/acq"
	"github.com/peterh/liner"
)

func main() {
	var (
		devmem = flag.String("dev-mem", "/dev/mem", "path to the memory device")
		interp = flag.Bool("i", false, "enable interactive shell")
	)

	log.SetPrefix("nmr-spy: ")
	log.SetFlags(0)

	flag.Parse()

	dev, err := acq.NewDevice(*devmem, acq.WithLogger(log.Default()))
	if err != nil {
		log.Fatalf("could open device: %+v", err)
	}
	defer dev.Close()

	switch {
	case *interp:
		err = shell(dev)
	default:
		err = spy(os.Stdout, dev)
	}
	if err != nil {
		log.Fatalf("%+v", err)
	}

	err = dev.Close()
	if err != nil {
		log.Fatalf("could not close device: %+v", err)
	}
}

type device interface {
	DumpRegisters(w io.Writer) error
	Status() (uint8, error)
	State() acq.State
	Abort() error
}

func spy(w io.Writer, dev device) error {
	fmt.Fprintf(w, "------------------------------------------------\n")
	const layout = "2006-01-02 15:04:05 MST"
	fmt.Fprintf(w, "%v\n", time.Now().Format(layout))

	err := dev.DumpRegisters(w)
	if err != nil {
		return fmt.Errorf("could not dump registers: %w", err)
	}
	return nil
}

func shell(dev device) error {
	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)
	term.SetCompleter(complete)

	for {
		line, err := term.Prompt("nmr> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Printf("\n")
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := exec(os.Stdout, dev, line)
		if err != nil {
			log.Printf("%+v", err)
		}
		if quit {
			return nil
		}
	}
}

var cmds = []string{"dump", "help", "quiesce", "quit", "state", "status"}

func complete(line string) []string {
	var out []string
	for _, cmd := range cmds {
		if strings.HasPrefix(cmd, line) {
			out = append(out, cmd)
		}
	}
	return out
}

// exec runs a single shell command.
func exec(w io.Writer, dev device, line string) (quit bool, err error) {
	switch cmd := strings.TrimSpace(line); cmd {
	case "dump":
		return false, spy(w, dev)
	case "state":
		fmt.Fprintf(w, "state: %v\n", dev.State())
	case "status":
		sts, err := dev.Status()
		if err != nil {
			return false, fmt.Errorf("could not read status: %w", err)
		}
		fmt.Fprintf(w, "status: 0x%02x (done=%d)\n", sts, sts&1)
	case "quiesce":
		err := dev.Abort()
		if err != nil {
			return false, fmt.Errorf("could not quiesce device: %w", err)
		}
		fmt.Fprintf(w, "device held in reset, run cleared.\n")
	case "help":
		fmt.Fprintf(w, `commands:
 dump     dump the content of the registers
 state    display the state of the sequencer
 status   display the status register
 quiesce  hold the device in reset and clear the run bit
 help     display this help message
 quit     exit the shell
`)
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
	return false, nil
}
