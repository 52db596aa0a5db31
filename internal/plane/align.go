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

package plane

import (
	"fmt"

	"github.com/stapelberg/png2bayer"
)

// Aligned reports whether both dimensions are multiples of
// png2bayer.Alignment.
func (p *Plane) Aligned() bool {
	return p.Width%png2bayer.Alignment == 0 && p.Height%png2bayer.Alignment == 0
}

// Align crops p to the largest top-left aligned region whose dimensions are
// multiples of png2bayer.Alignment. If p is already aligned, p itself is
// returned and cropped is false.
func (p *Plane) Align() (aligned *Plane, cropped bool, _ error) {
	if p.Width < png2bayer.Alignment || p.Height < png2bayer.Alignment {
		return nil, false, fmt.Errorf("%w: %dx%d, need at least %dx%d",
			png2bayer.ErrDimensionTooSmall,
			p.Width, p.Height,
			png2bayer.Alignment, png2bayer.Alignment)
	}
	if p.Aligned() {
		return p, false, nil
	}
	w := p.Width - p.Width%png2bayer.Alignment
	h := p.Height - p.Height%png2bayer.Alignment
	return p.Crop(w, h), true, nil
}

// Crop returns a copy of the top-left w×h region of p.
func (p *Plane) Crop(w, h int) *Plane {
	out := New(w, h, p.Planes)
	rowBytes := w * p.Planes
	for y := 0; y < h; y++ {
		src := y * p.Width * p.Planes
		copy(out.Pix[y*rowBytes:(y+1)*rowBytes], p.Pix[src:src+rowBytes])
	}
	return out
}
