// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides volatile access to memory-mapped device windows.
package mmap // import "github.com/go-lpc/nmr/internal/mmap"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a view over a memory-mapped window.
//
// Naturally aligned 1-, 2- and 4-byte accesses are performed as a single
// load or store of that width, so register reads and writes reach the
// device exactly once and in program order.
type Handle struct {
	data []byte
	free func([]byte) error
}

// Map maps span bytes of f, starting at offset off, as a shared
// read/write window.
func Map(f *os.File, off int64, span int) (*Handle, error) {
	data, err := unix.Mmap(
		int(f.Fd()), off, span,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map 0x%x+0x%x from %q: %w", off, span, f.Name(), err)
	}
	if len(data) != span {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("mmap: invalid mmap'd data: got=%d, want=%d", len(data), span)
	}
	return HandleFrom(data), nil
}

// HandleFrom returns a handle owning the memory-mapped data.
// The data is unmapped when the handle is closed.
func HandleFrom(data []byte) *Handle {
	h := &Handle{data: data, free: unix.Munmap}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h
}

// View returns a handle over plain memory.
// Closing the handle does not release data.
func View(data []byte) *Handle {
	return &Handle{data: data}
}

// Close closes the mmap handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	if h.free == nil {
		return nil
	}
	return h.free(data)
}

// Len returns the length of the underlying memory-mapped window.
func (h *Handle) Len() int {
	return len(h.data)
}

// At returns the byte at index i.
func (h *Handle) At(i int) byte {
	return load8(&h.data[i])
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	src := h.data[off:]
	if len(src) >= len(p) && load(p, src) {
		return len(p), nil
	}
	n := copy(p, src)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
	}
	dst := h.data[off:]
	if len(dst) >= len(p) && store(dst, p) {
		return len(p), nil
	}
	n := copy(dst, p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// load reads src into dst with a single access when dst is a register
// sized, naturally aligned read.
func load(dst, src []byte) bool {
	if len(dst) == 0 {
		return false
	}
	ptr := unsafe.Pointer(&src[0])
	switch len(dst) {
	case 1:
		dst[0] = load8(&src[0])
	case 2:
		if uintptr(ptr)%2 != 0 {
			return false
		}
		binary.NativeEndian.PutUint16(dst, load16((*uint16)(ptr)))
	case 4:
		if uintptr(ptr)%4 != 0 {
			return false
		}
		binary.NativeEndian.PutUint32(dst, atomic.LoadUint32((*uint32)(ptr)))
	default:
		return false
	}
	return true
}

// store writes src into dst with a single access when src is a register
// sized, naturally aligned write.
func store(dst, src []byte) bool {
	if len(src) == 0 {
		return false
	}
	ptr := unsafe.Pointer(&dst[0])
	switch len(src) {
	case 1:
		store8(&dst[0], src[0])
	case 2:
		if uintptr(ptr)%2 != 0 {
			return false
		}
		store16((*uint16)(ptr), binary.NativeEndian.Uint16(src))
	case 4:
		if uintptr(ptr)%4 != 0 {
			return false
		}
		atomic.StoreUint32((*uint32)(ptr), binary.NativeEndian.Uint32(src))
	default:
		return false
	}
	return true
}

//go:noinline
func load8(p *byte) byte { return *p }

//go:noinline
func store8(p *byte, v byte) { *p = v }

//go:noinline
func load16(p *uint16) uint16 { return *p }

//go:noinline
func store16(p *uint16, v uint16) { *p = v }

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
