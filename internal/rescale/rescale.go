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

// Package rescale expands 8-bit mosaics to higher sensor bit depths.
//
// The shifted-in low bits are filled by subtracting uniform noise, so they are
// not all zero.
package rescale

import (
	"fmt"
	"math/rand/v2"

	"github.com/stapelberg/png2bayer"
)

// Rand is the random source the dither is drawn from. IntN returns a value
// in [0, n).
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Global draws from the process-wide math/rand/v2 source.
var Global Rand = globalRand{}

// Rescale widens the 8-bit samples to bpp bits. For bpp 8 the samples are
// copied unchanged. Otherwise every sample becomes
//
//	max(0, s<<(bpp-8) - noise),  noise uniform in [0, 2^(bpp-8))
//
// The result always lies in [0, 2^bpp - 1].
func Rescale(samples []uint8, bpp int, r Rand) ([]uint16, error) {
	if !png2bayer.ValidBitDepth(bpp) {
		return nil, fmt.Errorf("%w: bpp %d, want 8, 10 or 12", png2bayer.ErrInvalidOption, bpp)
	}
	out := make([]uint16, len(samples))
	if bpp == 8 {
		for i, s := range samples {
			out[i] = uint16(s)
		}
		return out, nil
	}
	if r == nil {
		r = Global
	}
	shift := uint(bpp - 8)
	span := 1 << shift
	for i, s := range samples {
		v := int32(s) << shift
		v -= int32(r.IntN(span))
		if v < 0 {
			v = 0
		}
		out[i] = uint16(v)
	}
	return out, nil
}
