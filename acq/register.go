// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"io"
)

// Window is a register window, as exposed by a memory mapping.
type Window interface {
	io.ReaderAt
	io.WriterAt
}

type reg8 struct {
	r func() uint8
	w func(v uint8)
}

func newReg8(brd *board, rw Window, offset int64) reg8 {
	return reg8{
		r: func() uint8 {
			return brd.readU8(rw, offset)
		},
		w: func(v uint8) {
			brd.writeU8(rw, offset, v)
		},
	}
}

type reg16 struct {
	r func() uint16
	w func(v uint16)
}

func newReg16(brd *board, rw Window, offset int64) reg16 {
	return reg16{
		r: func() uint16 {
			return brd.readU16(rw, offset)
		},
		w: func(v uint16) {
			brd.writeU16(rw, offset, v)
		},
	}
}

type reg32 struct {
	r func() uint32
	w func(v uint32)
}

func newReg32(brd *board, rw Window, offset int64) reg32 {
	return reg32{
		r: func() uint32 {
			return brd.readU32(rw, offset)
		},
		w: func(v uint32) {
			brd.writeU32(rw, offset, v)
		},
	}
}
