// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
)

type board struct {
	regs pins

	msg  *log.Logger
	err  error
	xbuf [4]byte
}

type pins struct {
	ctrl   reg8
	amp    reg16
	addr   reg32
	count  reg32
	phase  reg32
	exc    reg32
	acq    reg32
	status reg8
}

func newBoard(msg *log.Logger) board {
	return board{msg: msg}
}

func (brd *board) readU8(r io.ReaderAt, off int64) uint8 {
	if brd.err != nil {
		return 0
	}
	_, brd.err = r.ReadAt(brd.xbuf[:1], off)
	if brd.err != nil {
		brd.err = fmt.Errorf("%w: could not read register 0x%x: %w", ErrMap, off, brd.err)
		return 0
	}
	return brd.xbuf[0]
}

func (brd *board) writeU8(w io.WriterAt, off int64, v uint8) {
	if brd.err != nil {
		return
	}
	brd.xbuf[0] = v
	_, brd.err = w.WriteAt(brd.xbuf[:1], off)
	if brd.err != nil {
		brd.err = fmt.Errorf("%w: could not write register 0x%x: %w", ErrMap, off, brd.err)
		return
	}
}

func (brd *board) readU16(r io.ReaderAt, off int64) uint16 {
	if brd.err != nil {
		return 0
	}
	_, brd.err = r.ReadAt(brd.xbuf[:2], off)
	if brd.err != nil {
		brd.err = fmt.Errorf("%w: could not read register 0x%x: %w", ErrMap, off, brd.err)
		return 0
	}
	return binary.LittleEndian.Uint16(brd.xbuf[:2])
}

func (brd *board) writeU16(w io.WriterAt, off int64, v uint16) {
	if brd.err != nil {
		return
	}
	binary.LittleEndian.PutUint16(brd.xbuf[:2], v)
	_, brd.err = w.WriteAt(brd.xbuf[:2], off)
	if brd.err != nil {
		brd.err = fmt.Errorf("%w: could not write register 0x%x: %w", ErrMap, off, brd.err)
		return
	}
}

func (brd *board) readU32(r io.ReaderAt, off int64) uint32 {
	if brd.err != nil {
		return 0
	}
	_, brd.err = r.ReadAt(brd.xbuf[:4], off)
	if brd.err != nil {
		brd.err = fmt.Errorf("%w: could not read register 0x%x: %w", ErrMap, off, brd.err)
		return 0
	}
	return binary.LittleEndian.Uint32(brd.xbuf[:4])
}

func (brd *board) writeU32(w io.WriterAt, off int64, v uint32) {
	if brd.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(brd.xbuf[:4], v)
	_, brd.err = w.WriteAt(brd.xbuf[:4], off)
	if brd.err != nil {
		brd.err = fmt.Errorf("%w: could not write register 0x%x: %w", ErrMap, off, brd.err)
		return
	}
}

func (brd *board) bindCfg(cfg Window) {
	brd.regs.ctrl = newReg8(brd, cfg, regCtrl)
	brd.regs.amp = newReg16(brd, cfg, regAmplitude)
	brd.regs.addr = newReg32(brd, cfg, regAddr)
	brd.regs.count = newReg32(brd, cfg, regCount)
	brd.regs.phase = newReg32(brd, cfg, regPhase)
	brd.regs.exc = newReg32(brd, cfg, regExcitation)
	brd.regs.acq = newReg32(brd, cfg, regAcquisition)
}

func (brd *board) bindSts(sts Window) {
	brd.regs.status = newReg8(brd, sts, regStatus)
}

// clear resets the sticky error and returns its previous value.
func (brd *board) clear() error {
	err := brd.err
	brd.err = nil
	return err
}

func (brd *board) dump(w io.Writer) error {
	regs := &brd.regs

	ctrl := regs.ctrl.r()
	fmt.Fprintf(w, "cfg.ctrl=        0x%02x (reset=%d run=%d)\n", ctrl, ctrl&ctrlReset, (ctrl&ctrlRun)>>1)
	fmt.Fprintf(w, "cfg.amplitude=   0x%04x\n", regs.amp.r())
	fmt.Fprintf(w, "cfg.addr=        0x%08x\n", regs.addr.r())
	fmt.Fprintf(w, "cfg.count=       0x%08x\n", regs.count.r())
	fmt.Fprintf(w, "cfg.phase=       0x%08x\n", regs.phase.r())
	fmt.Fprintf(w, "cfg.excitation=  0x%08x\n", regs.exc.r())
	fmt.Fprintf(w, "cfg.acquisition= 0x%08x\n", regs.acq.r())

	sts := regs.status.r()
	fmt.Fprintf(w, "sts=             0x%02x (done=%d)\n", sts, sts&stsDone)

	if err := brd.clear(); err != nil {
		return fmt.Errorf("acq: could not dump registers: %w", err)
	}
	return nil
}
