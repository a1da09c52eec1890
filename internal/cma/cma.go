// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cma allocates physically contiguous memory from the
// Red Pitaya contiguous memory allocator driver (/dev/cma).
package cma // import "github.com/go-lpc/nmr/internal/cma"

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/go-lpc/nmr/internal/mmap"
	"golang.org/x/sys/unix"
)

// ioctlAlloc is _IOWR('Z', 0, uint32).
// The argument holds the requested size on input and the physical
// address of the allocated region on output.
const ioctlAlloc = 0xc0045a00

// Region is a physically contiguous memory region mapped into the
// process address space.
type Region struct {
	Addr uint32 // physical address, as seen by the FPGA
	Size int

	f *os.File
	*mmap.Handle
}

// Size returns the allocation size for n bytes, rounded up to a page.
func Size(n int) int {
	page := os.Getpagesize()
	if n <= 0 {
		return page
	}
	return (n + page - 1) / page * page
}

// Alloc allocates size bytes from the CMA device fname and maps them.
// The device stays open until the region is closed.
func Alloc(fname string, size int) (*Region, error) {
	f, err := os.OpenFile(fname, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("cma: could not open %q: %w", fname, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
		}
	}()

	size = Size(size)
	v := uint32(size)
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL, f.Fd(), ioctlAlloc,
		uintptr(unsafe.Pointer(&v)),
	)
	if errno != 0 {
		err = errno
		return nil, fmt.Errorf("cma: could not allocate %d bytes: %w", size, err)
	}

	h, err := mmap.Map(f, 0, size)
	if err != nil {
		return nil, fmt.Errorf("cma: could not map region: %w", err)
	}

	return &Region{Addr: v, Size: size, f: f, Handle: h}, nil
}

// Close unmaps the region and releases the CMA device.
func (r *Region) Close() error {
	if r == nil || r.f == nil {
		return nil
	}
	err := r.Handle.Close()
	if e := r.f.Close(); e != nil && err == nil {
		err = fmt.Errorf("cma: could not close %q: %w", r.f.Name(), e)
	}
	r.f = nil
	return err
}
