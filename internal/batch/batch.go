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

// Package batch converts a contiguous range of numbered PNG test images into
// raw Bayer records, one image at a time.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stapelberg/png2bayer"
	"github.com/stapelberg/png2bayer/internal/bayer"
	"github.com/stapelberg/png2bayer/internal/entropy"
	"github.com/stapelberg/png2bayer/internal/plane"
	"github.com/stapelberg/png2bayer/internal/progress"
	"github.com/stapelberg/png2bayer/internal/rawbin"
	"github.com/stapelberg/png2bayer/internal/rescale"
	"golang.org/x/net/trace"
)

// Result describes the outcome for one image index.
type Result struct {
	Index   int    `json:"index"`
	Input   string `json:"input"`
	Output  string `json:"output,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Cropped bool   `json:"cropped,omitempty"`

	// MosaicEntropy is computed over the 8-bit mosaic, Entropy over the
	// rescaled samples. Both in bits per sample.
	MosaicEntropy float64 `json:"mosaic_entropy"`
	Entropy       float64 `json:"entropy"`

	Err string `json:"error,omitempty"`
}

// Run converts every index in [cfg.Start, cfg.End]. ctx is only checked
// between images.
//
// Unless cfg.KeepGoing is set, the first failing index aborts the batch. The
// returned report always lists the indices processed so far.
func Run(ctx context.Context, cfg *Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rep := &Report{
		RunID:   uuid.NewString(),
		Started: cfg.Now(),
		Config:  *cfg,
	}
	log := cfg.Log.WithField("run", rep.RunID)

	created, err := mkdirIfNotExist(cfg.OutputDir)
	if err != nil {
		return rep, fmt.Errorf("%w: %w", png2bayer.ErrWrite, err)
	}
	if created {
		log.Infof("Folder %q created.", cfg.OutputDir)
	} else {
		log.Debugf("Folder %q already exists.", cfg.OutputDir)
	}
	log.Infof("Binary image files will be saved to %s", cfg.OutputDir)

	var (
		errs    []error
		stopped error
	)
	for idx := cfg.Start; idx <= cfg.End; idx++ {
		if err := ctx.Err(); err != nil {
			stopped = fmt.Errorf("stopped before image %02d: %w", idx, err)
			log.Warn(stopped)
			break
		}
		res, err := convert(cfg, rep.RunID, idx)
		if err != nil {
			res.Err = err.Error()
			rep.Failed = append(rep.Failed, idx)
			u := progress.Update{
				RunID: rep.RunID,
				Index: idx,
				Note:  fmt.Sprintf("%s failed", cfg.InputName(idx)),
				Done:  true,
			}
			var se *png2bayer.StageError
			if errors.As(err, &se) {
				u.Stage = se.Stage
				u.Percent = progress.Percent(se.Stage)
			}
			cfg.Progress.Report(u)
		}
		rep.Results = append(rep.Results, res)
		if err != nil {
			if !cfg.KeepGoing {
				rep.Finished = cfg.Now()
				return rep, err
			}
			log.WithField("index", idx).Error(err)
			errs = append(errs, err)
		}
	}
	rep.Finished = cfg.Now()
	var failed error
	if len(errs) > 0 {
		failed = fmt.Errorf("%d of %d images failed: %w",
			len(rep.Failed), cfg.End-cfg.Start+1, errors.Join(errs...))
	}
	return rep, errors.Join(stopped, failed)
}

// mkdirIfNotExist creates dir (and parents) unless it already exists.
func mkdirIfNotExist(dir string) (created bool, _ error) {
	if st, err := os.Stat(dir); err == nil {
		if !st.IsDir() {
			return false, fmt.Errorf("%s exists and is not a directory", dir)
		}
		return false, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, err
	}
	return true, nil
}

// convert runs the whole pipeline for one index.
func convert(cfg *Config, runID string, idx int) (res Result, err error) {
	tr := trace.New("png2bayer", fmt.Sprintf("index %02d", idx))
	defer tr.Finish()

	log := cfg.Log.WithFields(logrus.Fields{
		"run":   runID,
		"index": idx,
	})
	report := func(stage png2bayer.Stage, format string, args ...interface{}) {
		note := fmt.Sprintf(format, args...)
		tr.LazyPrintf("%v: %s", stage, note)
		log.WithField("stage", stage.String()).Debug(note)
		cfg.Progress.Report(progress.Update{
			RunID:   runID,
			Index:   idx,
			Stage:   stage,
			Percent: progress.Percent(stage),
			Note:    note,
		})
	}
	stage := png2bayer.StageLoad
	defer func() {
		tr.LazyPrintf("-> return err=%v", err)
		if err != nil {
			tr.SetError()
			err = &png2bayer.StageError{Index: idx, Stage: stage, Err: err}
		}
	}()

	res = Result{
		Index: idx,
		Input: cfg.InputPath(idx),
	}

	report(stage, "Loading %s", cfg.InputName(idx))
	src, err := plane.Load(res.Input)
	if err != nil {
		return res, err
	}
	tr.LazyPrintf("decoded %v", src)

	stage = png2bayer.StageNormalize
	report(stage, "Reading image data")
	p, cropped, err := src.Align()
	if err != nil {
		return res, err
	}
	if cropped {
		log.Infof("Cropping image %dx%d to %d x %d (multiple of %d)",
			src.Width, src.Height, p.Width, p.Height, png2bayer.Alignment)
	}
	res.Width, res.Height, res.Cropped = p.Width, p.Height, cropped

	stage = png2bayer.StageExtract
	report(stage, "Constructing Bayer CFA")
	m, err := bayer.Extract(p, cfg.AlreadyBayer)
	if err != nil {
		return res, err
	}
	if cfg.WritePNG {
		report(stage, "Write Bayer CFA to png")
		if err := m.WritePNG(cfg.PNGPath(idx)); err != nil {
			return res, err
		}
	}

	stage = png2bayer.StageEstimate
	report(stage, "Estimating entropy")
	res.MosaicEntropy = entropy.Shannon(m.Pix, 0, 256)
	tr.LazyPrintf("mosaic entropy %.4f bits/sample", res.MosaicEntropy)

	stage = png2bayer.StageRescale
	report(stage, "Rescaling to %d bpp", cfg.BPP)
	samples, err := rescale.Rescale(m.Pix, cfg.BPP, cfg.Rand)
	if err != nil {
		return res, err
	}
	res.Entropy = entropy.Shannon(samples, 0, 1<<cfg.BPP)

	stage = png2bayer.StagePack
	res.Output = cfg.BinPath(idx)
	report(stage, "Export binary %s from shape = (%d, %d)", cfg.OutputName(idx), m.Height, m.Width)
	hdr, err := rawbin.NewHeader(cfg.Now(), m.Width, m.Height, cfg.BPP, cfg.LossyBits)
	if err != nil {
		return res, err
	}
	if err := rawbin.WriteFile(res.Output, hdr, samples); err != nil {
		return res, err
	}
	tr.LazyPrintf("wrote %d bytes to %s", hdr.Size(), res.Output)
	if cfg.Verify {
		if err := rawbin.Verify(res.Output, hdr); err != nil {
			return res, err
		}
	}

	cfg.Progress.Report(progress.Update{
		RunID:   runID,
		Index:   idx,
		Stage:   stage,
		Percent: 100,
		Note: fmt.Sprintf("%s %d x %d done! Entropy: %0.2f BPP at %2d initial BPP",
			cfg.OutputName(idx), m.Width, m.Height, res.Entropy, cfg.BPP),
		Done: true,
	})
	log.WithFields(logrus.Fields{
		"width":   m.Width,
		"height":  m.Height,
		"entropy": res.Entropy,
	}).Info("converted")
	return res, nil
}
