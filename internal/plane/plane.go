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

// Package plane implements 8-bit pixel planes as read from PNG test images,
// and cropping them to the sensor alignment.
package plane

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/stapelberg/png2bayer"
	"golang.org/x/image/draw"
)

// Plane is a Width×Height grid of 8-bit samples with Planes interleaved
// channels per pixel (1 for grayscale, 3 for RGB).
type Plane struct {
	Width  int
	Height int
	Planes int
	Pix    []uint8
}

// New returns a zeroed plane.
func New(width, height, planes int) *Plane {
	return &Plane{
		Width:  width,
		Height: height,
		Planes: planes,
		Pix:    make([]uint8, width*height*planes),
	}
}

// At returns channel c of the pixel at column x, row y.
func (p *Plane) At(x, y, c int) uint8 {
	return p.Pix[(y*p.Width+x)*p.Planes+c]
}

// Set sets channel c of the pixel at column x, row y.
func (p *Plane) Set(x, y, c int, v uint8) {
	p.Pix[(y*p.Width+x)*p.Planes+c] = v
}

func (p *Plane) String() string {
	return fmt.Sprintf("%dx%dx%d", p.Width, p.Height, p.Planes)
}

// Load reads the PNG file at path.
func Load(path string) (*Plane, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", png2bayer.ErrDecode, err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", png2bayer.ErrDecode, path, err)
	}
	return FromImage(img), nil
}

// FromImage converts img into a plane. 8-bit grayscale images become single
// channel planes, 16-bit grayscale images are reduced to their high byte and
// everything else becomes a 3 channel RGB plane (alpha is dropped).
func FromImage(img image.Image) *Plane {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	switch m := img.(type) {
	case *image.Gray:
		p := New(w, h, 1)
		for y := 0; y < h; y++ {
			off := m.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(p.Pix[y*w:(y+1)*w], m.Pix[off:off+w])
		}
		return p

	case *image.Gray16:
		g := image.NewGray(image.Rect(0, 0, w, h))
		draw.Draw(g, g.Bounds(), m, bounds.Min, draw.Src)
		return FromImage(g)

	case *image.RGBA:
		// The PNG decoder returns *image.RGBA for opaque truecolor images, so
		// the premultiplied values equal the stored ones.
		return fromRGBA(m.Pix, m.Stride, m.PixOffset(bounds.Min.X, bounds.Min.Y), w, h)

	case *image.NRGBA:
		return fromRGBA(m.Pix, m.Stride, m.PixOffset(bounds.Min.X, bounds.Min.Y), w, h)
	}

	// Paletted, 16-bit color, etc.
	n := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(n, n.Bounds(), img, bounds.Min, draw.Src)
	return fromRGBA(n.Pix, n.Stride, 0, w, h)
}

// fromRGBA copies the RGB channels of 4 byte per pixel data starting at off.
func fromRGBA(pix []uint8, stride, off, w, h int) *Plane {
	p := New(w, h, 3)
	o := 0
	for y := 0; y < h; y++ {
		i := off + y*stride
		for x := 0; x < w; x++ {
			p.Pix[o+0] = pix[i+0]
			p.Pix[o+1] = pix[i+1]
			p.Pix[o+2] = pix[i+2]
			i += 4
			o += 3
		}
	}
	return p
}
