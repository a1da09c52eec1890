// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// HeaderSize is the size in bytes of a sample file header.
const HeaderSize = 16

// Header is the header of a sample file: four little-endian int32.
type Header struct {
	Samples    int32 // number of sample pairs in the file
	Decimation int32
	Files      int32
	Gain       int32
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (hdr Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(hdr.Samples))
	binary.LittleEndian.PutUint32(buf[4:], uint32(hdr.Decimation))
	binary.LittleEndian.PutUint32(buf[8:], uint32(hdr.Files))
	binary.LittleEndian.PutUint32(buf[12:], uint32(hdr.Gain))
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (hdr *Header) UnmarshalBinary(p []byte) error {
	if len(p) < HeaderSize {
		return fmt.Errorf("%w: short header (%d bytes)", ErrFile, len(p))
	}
	hdr.Samples = int32(binary.LittleEndian.Uint32(p[0:]))
	hdr.Decimation = int32(binary.LittleEndian.Uint32(p[4:]))
	hdr.Files = int32(binary.LittleEndian.Uint32(p[8:]))
	hdr.Gain = int32(binary.LittleEndian.Uint32(p[12:]))
	return nil
}

// File is a sample file being written.
//
// The header is written exactly once, before any sample.
type File struct {
	f   *os.File
	hdr bool
	n   int64 // number of sample bytes written
}

// Create creates the named sample file.
// It fails with ErrExist when the file already exists.
func Create(fname string) (*File, error) {
	f, err := os.OpenFile(fname, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %q", ErrExist, fname)
		}
		return nil, fmt.Errorf("%w: could not create %q: %w", ErrFile, fname, err)
	}
	return &File{f: f}, nil
}

// Name returns the name of the file.
func (f *File) Name() string { return f.f.Name() }

// WriteHeader writes the 16-byte header as a single write.
func (f *File) WriteHeader(hdr Header) error {
	if f.hdr {
		return fmt.Errorf("%w: header already written to %q", ErrFile, f.Name())
	}
	raw, err := hdr.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: could not marshal header: %w", ErrFile, err)
	}
	n, err := f.f.Write(raw)
	if err != nil {
		return fmt.Errorf("%w: could not write header to %q: %w", ErrFile, f.Name(), err)
	}
	if n != len(raw) {
		return fmt.Errorf("%w: could not write header to %q: %w", ErrFile, f.Name(), io.ErrShortWrite)
	}
	f.hdr = true
	return nil
}

// AppendSamples copies n sample pairs, verbatim, from r to the file.
func (f *File) AppendSamples(r io.ReaderAt, n int) error {
	if !f.hdr {
		return fmt.Errorf("%w: samples written before header to %q", ErrFile, f.Name())
	}
	size := int64(n) * sampleSize
	nn, err := io.CopyN(f.f, io.NewSectionReader(r, 0, size), size)
	f.n += nn
	if err != nil {
		return fmt.Errorf("%w: wrote %d/%d sample bytes to %q: %w", ErrIO, nn, size, f.Name(), err)
	}
	return nil
}

// Close syncs and closes the file.
func (f *File) Close() error {
	if f == nil || f.f == nil {
		return nil
	}
	defer func() { f.f = nil }()

	err := f.f.Sync()
	if err != nil {
		_ = f.f.Close()
		return fmt.Errorf("%w: could not sync %q: %w", ErrIO, f.Name(), err)
	}
	err = f.f.Close()
	if err != nil {
		return fmt.Errorf("%w: could not close %q: %w", ErrIO, f.Name(), err)
	}
	return nil
}

// Record is the content of a sample file.
type Record struct {
	Header
	Data []int16 // interleaved samples: ch1, ch2, ch1, ch2, ...
}

// Len returns the number of sample pairs.
func (rec Record) Len() int { return len(rec.Data) / 2 }

// Pair returns the i-th sample pair.
func (rec Record) Pair(i int) (ch1, ch2 int16) {
	return rec.Data[2*i], rec.Data[2*i+1]
}

// Volts returns the samples of channel ch (1 or 2), in volts.
func (rec Record) Volts(ch int) []float64 {
	if ch != 1 && ch != 2 {
		panic(fmt.Errorf("acq: invalid channel %d", ch))
	}
	out := make([]float64, rec.Len())
	for i := range out {
		out[i] = float64(rec.Data[2*i+ch-1]) / voltScale
	}
	return out
}

// Decode reads a complete sample file from r.
func Decode(r io.Reader) (Record, error) {
	var (
		rec Record
		raw [HeaderSize]byte
	)
	_, err := io.ReadFull(r, raw[:])
	if err != nil {
		return rec, fmt.Errorf("%w: could not read header: %w", ErrFile, err)
	}
	err = rec.Header.UnmarshalBinary(raw[:])
	if err != nil {
		return rec, err
	}
	if rec.Samples < 0 || rec.Samples > MaxSamples {
		return rec, fmt.Errorf("%w: invalid sample count %d", ErrFile, rec.Samples)
	}

	rec.Data = make([]int16, 2*int(rec.Samples))
	br := bufio.NewReader(r)
	err = binary.Read(br, binary.LittleEndian, rec.Data)
	if err != nil {
		return rec, fmt.Errorf("%w: could not read %d sample pairs: %w", ErrFile, rec.Samples, err)
	}

	switch _, err := br.ReadByte(); {
	case err == nil:
		return rec, fmt.Errorf("%w: trailing data after %d sample pairs", ErrFile, rec.Samples)
	case !errors.Is(err, io.EOF):
		return rec, fmt.Errorf("%w: could not read end of file: %w", ErrFile, err)
	}
	return rec, nil
}

// ReadFile reads the named sample file.
func ReadFile(fname string) (Record, error) {
	f, err := os.Open(fname)
	if err != nil {
		return Record{}, fmt.Errorf("%w: could not open %q: %w", ErrFile, fname, err)
	}
	defer f.Close()

	rec, err := Decode(f)
	if err != nil {
		return rec, fmt.Errorf("acq: could not decode %q: %w", fname, err)
	}
	return rec, nil
}
