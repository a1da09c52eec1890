// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package acq drives the NMR acquisition peripheral of a Red Pitaya board.
//
// The peripheral is controlled through two memory-mapped windows:
// a configuration window holding the excitation and acquisition
// parameters plus a control byte, and a read-only status window whose
// bit 0 signals the end of an acquisition.
// Samples are written by the FPGA into a physically contiguous buffer,
// as interleaved little-endian int16 pairs (channel 1, channel 2).
package acq // import "github.com/go-lpc/nmr/acq"

const (
	// ClockFreq is the FPGA fabric clock frequency, in Hz.
	ClockFreq = 125e6

	// MaxSamples is the maximum number of sample pairs per acquisition.
	MaxSamples = 1 << 20

	// CfgBase is the physical address of the configuration window.
	CfgBase = 0x40000000
	// StsBase is the physical address of the status window.
	StsBase = 0x41000000
)

// register offsets within the configuration window.
const (
	regCtrl        = 0  // u8: bit0=reset, bit1=run
	regAmplitude   = 2  // u16
	regAddr        = 4  // u32: physical address of the sample buffer
	regCount       = 8  // u32: number of bytes to acquire, minus one
	regPhase       = 12 // u32: DDS phase step
	regExcitation  = 16 // u32: excitation duration, in clock cycles
	regAcquisition = 20 // u32: acquisition duration, in clock cycles

	regStatus = 0 // u8, status window: bit0=done
)

const (
	ctrlReset = 1 << 0
	ctrlRun   = 1 << 1

	stsDone = 1 << 0
)

const (
	sampleSize = 4 // 2 channels x int16
	voltScale  = 8190
)
