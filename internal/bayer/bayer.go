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

// Package bayer extracts a single-channel Bayer color filter array mosaic
// from an RGB (or grayscale) pixel plane.
//
// The only supported layout is GB:
//
//	(even row, even col) = G
//	(even row, odd  col) = B
//	(odd  row, even col) = R
//	(odd  row, odd  col) = G (Gr)
package bayer

import (
	"fmt"

	"github.com/stapelberg/png2bayer"
	"github.com/stapelberg/png2bayer/internal/plane"
)

// Channel indexes of an RGB plane.
const (
	Red   = 0
	Green = 1
	Blue  = 2
)

// channelFor is indexed by [row%2][col%2].
var channelFor = [2][2]int{
	{Green, Blue},
	{Red, Green},
}

// ChannelFor returns the RGB channel sampled at the given row and column
// parity.
func ChannelFor(rowParity, colParity int) int {
	return channelFor[rowParity&1][colParity&1]
}

// Mosaic is a Width×Height single-channel CFA image, row-major.
type Mosaic struct {
	Width  int
	Height int
	Pix    []uint8
}

// At returns the sample at column x, row y.
func (m *Mosaic) At(x, y int) uint8 {
	return m.Pix[y*m.Width+x]
}

// Extract builds the mosaic for p. If alreadyBayer is true, p already
// contains a mosaic and its first channel is used as-is.
//
// Single-channel planes which are not already mosaiced supply every CFA
// position from their only channel.
func Extract(p *plane.Plane, alreadyBayer bool) (*Mosaic, error) {
	m := &Mosaic{
		Width:  p.Width,
		Height: p.Height,
		Pix:    make([]uint8, p.Width*p.Height),
	}
	// writes counts assignments per cell so that a gap (or a double write)
	// in the loops below surfaces as an error instead of a zero sample.
	writes := make([]uint8, len(m.Pix))

	if alreadyBayer {
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				o := y*p.Width + x
				m.Pix[o] = p.At(x, y, 0)
				writes[o]++
			}
		}
		return m, verify(m, writes)
	}

	// A grayscale plane has no channels to select from, so the channel index
	// collapses to 0 for all four positions.
	lookup := channelFor
	if p.Planes == 1 {
		lookup = [2][2]int{}
	}
	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			c := lookup[row][col]
			for y := row; y < p.Height; y += 2 {
				for x := col; x < p.Width; x += 2 {
					o := y*p.Width + x
					m.Pix[o] = p.At(x, y, c)
					writes[o]++
				}
			}
		}
	}
	return m, verify(m, writes)
}

func verify(m *Mosaic, writes []uint8) error {
	for o, n := range writes {
		if n != 1 {
			return fmt.Errorf("%w: cell (%d,%d) written %d times",
				png2bayer.ErrIntegrity, o%m.Width, o/m.Width, n)
		}
	}
	return nil
}
