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

package batch

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stapelberg/png2bayer"
	"github.com/stapelberg/png2bayer/internal/progress"
	"github.com/stapelberg/png2bayer/internal/rescale"
)

// DefaultFilenameFormat is the file name prefix used when none is configured.
const DefaultFilenameFormat = "img_"

// Config describes one batch run.
type Config struct {
	InputDir       string `json:"input_dir"`
	OutputDir      string `json:"output_dir"`
	Start          int    `json:"start"`
	End            int    `json:"end"` // inclusive
	LossyBits      int    `json:"lossy_bits"`
	AlreadyBayer   bool   `json:"already_bayer"`
	BPP            int    `json:"bpp"`
	FilenameFormat string `json:"filename_format"`

	// KeepGoing continues with the next index when one fails instead of
	// aborting the batch. Failures are still reported.
	KeepGoing bool `json:"keep_going"`

	// WritePNG additionally writes the mosaic as an 8-bit grayscale PNG
	// next to the binary record.
	WritePNG bool `json:"write_png"`

	// Verify reads back each written record header and checks the file
	// size.
	Verify bool `json:"verify"`

	Log      logrus.FieldLogger `json:"-"`
	Progress progress.Reporter  `json:"-"`
	Rand     rescale.Rand       `json:"-"`
	Now      func() time.Time   `json:"-"`
}

// Validate checks the configuration and fills in defaults for the optional
// collaborators.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("%w: input directory", png2bayer.ErrMissingInput)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("%w: output directory", png2bayer.ErrMissingInput)
	}
	if c.Start < 0 || c.End < c.Start {
		return fmt.Errorf("%w: index range [%d, %d]", png2bayer.ErrInvalidOption, c.Start, c.End)
	}
	if !png2bayer.ValidBitDepth(c.BPP) {
		return fmt.Errorf("%w: bpp %d, want 8, 10 or 12", png2bayer.ErrInvalidOption, c.BPP)
	}
	if c.LossyBits < 0 || c.LossyBits > png2bayer.MaxLossyBits {
		return fmt.Errorf("%w: lossy bits %d, want 0..%d", png2bayer.ErrInvalidOption, c.LossyBits, png2bayer.MaxLossyBits)
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	if c.Progress == nil {
		c.Progress = progress.Discard
	}
	if c.Rand == nil {
		c.Rand = rescale.Global
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// InputName returns the file name of the source image for idx.
func (c *Config) InputName(idx int) string {
	return fmt.Sprintf("%s%02d.png", c.FilenameFormat, idx)
}

// InputPath returns the path of the source image for idx.
func (c *Config) InputPath(idx int) string {
	return filepath.Join(c.InputDir, c.InputName(idx))
}

// OutputName returns the extension-less output file name for idx, e.g.
// img_10bpp_03.
func (c *Config) OutputName(idx int) string {
	return fmt.Sprintf("%s%dbpp_%02d", c.FilenameFormat, c.BPP, idx)
}

// BinPath returns the path of the binary record for idx.
func (c *Config) BinPath(idx int) string {
	return filepath.Join(c.OutputDir, c.OutputName(idx)+".bin")
}

// PNGPath returns the path of the mosaic preview for idx.
func (c *Config) PNGPath(idx int) string {
	return filepath.Join(c.OutputDir, c.OutputName(idx)+".png")
}
