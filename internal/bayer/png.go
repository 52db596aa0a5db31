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

package bayer

import (
	"fmt"
	"image"
	"image/png"

	"github.com/google/renameio"
	"github.com/stapelberg/png2bayer"
)

// Gray returns the mosaic as an 8-bit grayscale image sharing m's pixels.
func (m *Mosaic) Gray() *image.Gray {
	return &image.Gray{
		Pix:    m.Pix,
		Stride: m.Width,
		Rect:   image.Rect(0, 0, m.Width, m.Height),
	}
}

// WritePNG atomically writes the mosaic as a grayscale PNG to path.
func (m *Mosaic) WritePNG(path string) error {
	o, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("%w: %w", png2bayer.ErrWrite, err)
	}
	defer o.Cleanup()
	if err := o.Chmod(0644); err != nil {
		return fmt.Errorf("%w: %w", png2bayer.ErrWrite, err)
	}
	if err := png.Encode(o, m.Gray()); err != nil {
		return fmt.Errorf("%w: %s: %w", png2bayer.ErrWrite, path, err)
	}
	if err := o.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("%w: %s: %w", png2bayer.ErrWrite, path, err)
	}
	return nil
}
