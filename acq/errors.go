// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"errors"
	"fmt"
)

var (
	// ErrMap reports a register window that could not be mapped or accessed.
	ErrMap = errors.New("acq: register window unavailable")
	// ErrAlloc reports a sample buffer that could not be allocated.
	ErrAlloc = errors.New("acq: sample buffer unavailable")
	// ErrConfig reports an invalid acquisition configuration.
	ErrConfig = errors.New("acq: invalid configuration")
	// ErrFile reports an output file that could not be created or written.
	ErrFile = errors.New("acq: output file error")
	// ErrExist reports an output file that already exists.
	ErrExist = fmt.Errorf("%w: file already exists", ErrFile)
	// ErrIO reports a short or failed sample write.
	ErrIO = errors.New("acq: short write")
	// ErrTimeout reports an acquisition that did not complete in time.
	ErrTimeout = errors.New("acq: acquisition timed out")
	// ErrState reports an operation invoked out of sequence.
	ErrState = fmt.Errorf("%w: invalid sequencer state", ErrConfig)
)
