// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/go-lpc/nmr/internal/mmap"
)

// write is a register write recorded by fakeCfg.
type write struct {
	off int64
	v   uint32
	n   int // width in bytes
}

func (w write) String() string {
	return fmt.Sprintf("{0x%02x: 0x%x/%d}", w.off, w.v, w.n)
}

// fakeCfg is an in-memory configuration window recording every write.
type fakeCfg struct {
	mem    [64]byte
	writes []write
	err    error // error returned by WriteAt, when set
}

func (f *fakeCfg) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, f.mem[off:]), nil
}

func (f *fakeCfg) WriteAt(p []byte, off int64) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	var v uint32
	switch len(p) {
	case 1:
		v = uint32(p[0])
	case 2:
		v = uint32(binary.LittleEndian.Uint16(p))
	case 4:
		v = binary.LittleEndian.Uint32(p)
	default:
		panic(fmt.Errorf("invalid register write width %d", len(p)))
	}
	f.writes = append(f.writes, write{off: off, v: v, n: len(p)})
	return copy(f.mem[off:], p), nil
}

func (f *fakeCfg) ctrl() uint8 { return f.mem[regCtrl] }

func (f *fakeCfg) u32(off int64) uint32 {
	return binary.LittleEndian.Uint32(f.mem[off:])
}

// fakeSts is a status window replaying a script of status values.
// Once the script is exhausted, the last value is repeated.
type fakeSts struct {
	script []uint8
	reads  int
	err    error // error returned by ReadAt, when set
}

// doneAfter returns a status window reporting completion at the
// (k+1)-th read.
func doneAfter(k int) *fakeSts {
	script := make([]uint8, k+1)
	script[k] = stsDone
	return &fakeSts{script: script}
}

func (f *fakeSts) ReadAt(p []byte, off int64) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	v := uint8(0)
	switch {
	case f.reads < len(f.script):
		v = f.script[f.reads]
	case len(f.script) > 0:
		v = f.script[len(f.script)-1]
	}
	f.reads++
	p[0] = v
	return 1, nil
}

func (f *fakeSts) WriteAt(p []byte, off int64) (int, error) {
	panic("status window is read-only")
}

// memAllocator provides sample buffers from process memory,
// pre-filled with the samples the FPGA would have written.
type memAllocator struct {
	addr   uint32
	fill   []int16
	err    error
	allocs int
	frees  int
}

func (alloc *memAllocator) Alloc(size int) (*Buffer, error) {
	if alloc.err != nil {
		return nil, alloc.err
	}
	alloc.allocs++
	data := make([]byte, size)
	for i, v := range alloc.fill {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}
	return NewBuffer(alloc.addr, size, mmap.View(data), func() error {
		alloc.frees++
		return nil
	}), nil
}

// sleeper records the requested delays without sleeping.
type sleeper struct {
	delays []time.Duration
}

func (s *sleeper) sleep(d time.Duration) {
	s.delays = append(s.delays, d)
}

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testConfig() Config {
	cfg, _, _ := Profile("v1")
	return cfg
}
