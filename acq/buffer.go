// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-lpc/nmr/internal/cma"
)

// Allocator provides physically contiguous sample buffers.
type Allocator interface {
	Alloc(size int) (*Buffer, error)
}

// Buffer is a sample buffer reachable by the FPGA at physical address Addr.
type Buffer struct {
	Addr uint32 // physical address
	Size int    // size in bytes

	mem  Window
	free func() error
}

// NewBuffer returns a buffer of size bytes, at physical address addr,
// accessed through mem. free, when not nil, is called on Close.
func NewBuffer(addr uint32, size int, mem Window, free func() error) *Buffer {
	return &Buffer{
		Addr: addr,
		Size: size,
		mem:  mem,
		free: free,
	}
}

// ReadAt implements io.ReaderAt.
func (buf *Buffer) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(buf.Size) {
		return 0, io.EOF
	}
	if rem := int64(buf.Size) - off; int64(len(p)) > rem {
		n, err := buf.mem.ReadAt(p[:rem], off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return buf.mem.ReadAt(p, off)
}

// WriteAt implements io.WriterAt.
func (buf *Buffer) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(buf.Size) {
		return 0, fmt.Errorf("acq: write past end of sample buffer (off=%d, n=%d, size=%d)", off, len(p), buf.Size)
	}
	return buf.mem.WriteAt(p, off)
}

// Pair returns the i-th sample pair (channel 1, channel 2).
func (buf *Buffer) Pair(i int) (ch1, ch2 int16, err error) {
	var raw [sampleSize]byte
	_, err = buf.ReadAt(raw[:], int64(i)*sampleSize)
	if err != nil {
		return 0, 0, fmt.Errorf("acq: could not read sample pair %d: %w", i, err)
	}
	ch1 = int16(binary.LittleEndian.Uint16(raw[0:2]))
	ch2 = int16(binary.LittleEndian.Uint16(raw[2:4]))
	return ch1, ch2, nil
}

// Close releases the buffer.
func (buf *Buffer) Close() error {
	if buf == nil || buf.free == nil {
		return nil
	}
	free := buf.free
	buf.free = nil
	return free()
}

type cmaAllocator struct {
	dev string
}

func (alloc cmaAllocator) Alloc(size int) (*Buffer, error) {
	r, err := cma.Alloc(alloc.dev, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAlloc, err)
	}
	return NewBuffer(r.Addr, r.Size, r, r.Close), nil
}

var (
	_ Allocator   = (*cmaAllocator)(nil)
	_ io.ReaderAt = (*Buffer)(nil)
	_ io.WriterAt = (*Buffer)(nil)
)
