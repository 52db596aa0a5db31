// Copyright 2016 Michael Stapelberg and contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package png2bayer contains domain types for png2bayer, like pipeline stages
// and the error kinds a conversion can fail with.
package png2bayer

import (
	"errors"
	"fmt"
)

// Alignment is the unit both image dimensions are cropped to.
const Alignment = 16

// Error kinds. Stage failures wrap one of these, so callers can use
// errors.Is regardless of how much context was added on the way up.
var (
	ErrMissingInput      = errors.New("missing input")
	ErrInvalidOption     = errors.New("invalid option")
	ErrDecode            = errors.New("cannot decode image")
	ErrDimensionTooSmall = errors.New("image dimension below alignment")
	ErrIntegrity         = errors.New("mosaic integrity violated")
	ErrWrite             = errors.New("cannot write output")
)

// Stage names one step of the per-image pipeline.
type Stage int

const (
	StageLoad Stage = iota
	StageNormalize
	StageExtract
	StageEstimate
	StageRescale
	StagePack

	// NumStages is the number of pipeline stages, used for progress
	// reporting.
	NumStages = int(StagePack) + 1
)

func (s Stage) String() string {
	switch s {
	case StageLoad:
		return "load"
	case StageNormalize:
		return "normalize"
	case StageExtract:
		return "extract"
	case StageEstimate:
		return "estimate"
	case StageRescale:
		return "rescale"
	case StagePack:
		return "pack"
	default:
		return "<unknown>"
	}
}

// StageError is the error returned when processing of a single image index
// fails.
type StageError struct {
	Index int
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("image %02d: %v: %v", e.Index, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ValidBitDepth reports whether bpp is one of the supported output bit depths.
func ValidBitDepth(bpp int) bool {
	return bpp == 8 || bpp == 10 || bpp == 12
}

// MaxLossyBits is the largest lossy bit count a downstream compressor
// accepts. The value is only recorded in the output header.
const MaxLossyBits = 3
