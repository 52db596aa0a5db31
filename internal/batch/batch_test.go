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

package batch_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stapelberg/png2bayer"
	"github.com/stapelberg/png2bayer/internal/batch"
	"github.com/stapelberg/png2bayer/internal/progress"
	"github.com/stapelberg/png2bayer/internal/rawbin"
)

var fixedNow = time.UnixMilli(1493650928000)

// noise always subtracts the largest possible dither value.
type noise struct{}

func (noise) IntN(n int) int { return n - 1 }

type recorder []progress.Update

func (r *recorder) Report(u progress.Update) { *r = append(*r, u) }

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func grayImage(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func rgbImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func newConfig(t *testing.T) (*batch.Config, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	dir := t.TempDir()
	in := filepath.Join(dir, "original")
	if err := os.Mkdir(in, 0755); err != nil {
		t.Fatal(err)
	}
	return &batch.Config{
		InputDir:       in,
		OutputDir:      filepath.Join(dir, "bayerCFA_GB"),
		BPP:            8,
		FilenameFormat: batch.DefaultFilenameFormat,
		Log:            logger,
		Rand:           noise{},
		Now:            func() time.Time { return fixedNow },
	}, hook
}

func readRecord(t *testing.T, path string) (rawbin.Header, []byte) {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	hdr, err := rawbin.ReadHeader(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return hdr, b[rawbin.HeaderSize:]
}

func TestRunAlreadyBayerWhite(t *testing.T) {
	cfg, _ := newConfig(t)
	cfg.AlreadyBayer = true
	writePNG(t, filepath.Join(cfg.InputDir, "img_00.png"), grayImage(16, 16, 255))

	rep, err := batch.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	fn := filepath.Join(cfg.OutputDir, "img_8bpp_00.bin")
	st, err := os.Stat(fn)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := st.Size(), int64(272); got != want {
		t.Fatalf("unexpected file size: got %v, want %v", got, want)
	}
	hdr, payload := readRecord(t, fn)
	want := rawbin.Header{
		Timestamp:   1493650928000,
		Width:       16,
		Height:      16,
		UnaryLength: 8,
		BPP:         8,
		LossyBits:   0,
	}
	if diff := cmp.Diff(want, hdr); diff != "" {
		t.Fatalf("unexpected header: diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(bytes.Repeat([]byte{255}, 256), payload); diff != "" {
		t.Fatalf("unexpected payload: diff (-want +got):\n%s", diff)
	}
	if got, want := len(rep.Results), 1; got != want {
		t.Fatalf("unexpected number of results: got %v, want %v", got, want)
	}
	if got, want := rep.Results[0].Entropy, 0.0; got != want {
		t.Fatalf("unexpected entropy of a constant image: got %v, want %v", got, want)
	}
}

func TestRunRGBMosaic(t *testing.T) {
	cfg, _ := newConfig(t)
	cfg.WritePNG = true
	writePNG(t, filepath.Join(cfg.InputDir, "img_00.png"), rgbImage(16, 16, color.RGBA{R: 10, G: 20, B: 30, A: 0xff}))

	if _, err := batch.Run(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	_, payload := readRecord(t, filepath.Join(cfg.OutputDir, "img_8bpp_00.bin"))
	tile := [2][2]byte{
		{20, 30},
		{10, 20},
	}
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if got, want := payload[y*16+x], tile[y%2][x%2]; got != want {
				t.Fatalf("mosaic(%d,%d): got %v, want %v", x, y, got, want)
			}
		}
	}

	f, err := os.Open(filepath.Join(cfg.OutputDir, "img_8bpp_00.png"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("preview is %T, want *image.Gray", img)
	}
	if diff := cmp.Diff([]byte(payload), gray.Pix); diff != "" {
		t.Fatalf("preview differs from record payload: diff (-want +got):\n%s", diff)
	}
}

func TestRunHighBitDepth(t *testing.T) {
	cfg, _ := newConfig(t)
	cfg.BPP = 12
	cfg.LossyBits = 2
	var updates recorder
	cfg.Progress = &updates
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	writePNG(t, filepath.Join(cfg.InputDir, "img_05.png"), img)
	cfg.Start, cfg.End = 5, 5

	if _, err := batch.Run(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	hdr, payload := readRecord(t, filepath.Join(cfg.OutputDir, "img_12bpp_05.bin"))
	if got, want := len(payload), 512; got != want {
		t.Fatalf("unexpected payload size: got %v, want %v", got, want)
	}
	if got, want := [2]uint8{hdr.BPP, hdr.LossyBits}, [2]uint8{12, 2}; got != want {
		t.Fatalf("unexpected bpp/lossy bits: got %v, want %v", got, want)
	}
	for i := 0; i < 256; i++ {
		v := binary.LittleEndian.Uint16(payload[2*i:])
		// noise subtracts 15: 0 clamps to 0, everything else is s*16-15
		want := uint16(0)
		if i > 0 {
			want = uint16(i)*16 - 15
		}
		if v != want {
			t.Fatalf("sample %d: got %d, want %d", i, v, want)
		}
	}

	if len(updates) == 0 {
		t.Fatalf("no progress updates reported")
	}
	last := updates[len(updates)-1]
	if !last.Done || last.Percent != 100 || last.Index != 5 {
		t.Fatalf("unexpected final update: %+v", last)
	}
	if !strings.Contains(last.Note, "img_12bpp_05 16 x 16 done!") {
		t.Fatalf("unexpected final note: %q", last.Note)
	}
	for i := 1; i < len(updates); i++ {
		if updates[i].Percent < updates[i-1].Percent {
			t.Fatalf("progress went backwards: %+v after %+v", updates[i], updates[i-1])
		}
	}
}

func TestRunCrops(t *testing.T) {
	cfg, hook := newConfig(t)
	writePNG(t, filepath.Join(cfg.InputDir, "img_00.png"), rgbImage(37, 18, color.RGBA{R: 1, G: 2, B: 3, A: 0xff}))

	rep, err := batch.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	hdr, payload := readRecord(t, filepath.Join(cfg.OutputDir, "img_8bpp_00.bin"))
	if got, want := [2]uint16{hdr.Width, hdr.Height}, [2]uint16{32, 16}; got != want {
		t.Fatalf("unexpected dimensions: got %v, want %v", got, want)
	}
	if got, want := len(payload), 32*16; got != want {
		t.Fatalf("unexpected payload size: got %v, want %v", got, want)
	}
	if !rep.Results[0].Cropped {
		t.Fatalf("result not marked as cropped")
	}
	var notice bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.InfoLevel && strings.Contains(e.Message, "Cropping image 37x18 to 32 x 16") {
			notice = true
		}
	}
	if !notice {
		t.Fatalf("no crop notice logged")
	}
}

func TestRunReplacesExistingOutput(t *testing.T) {
	cfg, _ := newConfig(t)
	writePNG(t, filepath.Join(cfg.InputDir, "img_00.png"), grayImage(16, 16, 7))
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		t.Fatal(err)
	}
	fn := filepath.Join(cfg.OutputDir, "img_8bpp_00.bin")
	if err := os.WriteFile(fn, bytes.Repeat([]byte{0xaa}, 1000), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := batch.Run(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	_, payload := readRecord(t, fn)
	if diff := cmp.Diff(bytes.Repeat([]byte{7}, 256), payload); diff != "" {
		t.Fatalf("unexpected payload: diff (-want +got):\n%s", diff)
	}
}

func TestRunAbortsOnFirstFailure(t *testing.T) {
	cfg, _ := newConfig(t)
	cfg.Start, cfg.End = 0, 2
	writePNG(t, filepath.Join(cfg.InputDir, "img_00.png"), grayImage(16, 16, 1))
	// img_01.png is missing
	writePNG(t, filepath.Join(cfg.InputDir, "img_02.png"), grayImage(16, 16, 2))

	rep, err := batch.Run(context.Background(), cfg)
	if !errors.Is(err, png2bayer.ErrDecode) {
		t.Fatalf("Run() = %v, want ErrDecode", err)
	}
	var se *png2bayer.StageError
	if !errors.As(err, &se) {
		t.Fatalf("Run() = %v, want a *StageError", err)
	}
	if got, want := [2]interface{}{se.Index, se.Stage}, [2]interface{}{1, png2bayer.StageLoad}; got != want {
		t.Fatalf("unexpected failure location: got %v, want %v", got, want)
	}
	if diff := cmp.Diff([]int{1}, rep.Failed); diff != "" {
		t.Fatalf("unexpected failed indices: diff (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "img_8bpp_00.bin")); err != nil {
		t.Fatalf("image before the failure was not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "img_8bpp_02.bin")); !os.IsNotExist(err) {
		t.Fatalf("image after the failure was processed (stat: %v)", err)
	}
}

func TestRunKeepGoing(t *testing.T) {
	cfg, hook := newConfig(t)
	cfg.Start, cfg.End = 0, 3
	cfg.KeepGoing = true
	writePNG(t, filepath.Join(cfg.InputDir, "img_00.png"), grayImage(16, 16, 1))
	// img_01.png is missing
	writePNG(t, filepath.Join(cfg.InputDir, "img_02.png"), grayImage(8, 32, 2))
	writePNG(t, filepath.Join(cfg.InputDir, "img_03.png"), grayImage(16, 16, 3))

	rep, err := batch.Run(context.Background(), cfg)
	if err == nil {
		t.Fatalf("Run() succeeded despite failing images")
	}
	if !errors.Is(err, png2bayer.ErrDecode) || !errors.Is(err, png2bayer.ErrDimensionTooSmall) {
		t.Fatalf("Run() = %v, want both ErrDecode and ErrDimensionTooSmall", err)
	}
	if diff := cmp.Diff([]int{1, 2}, rep.Failed); diff != "" {
		t.Fatalf("unexpected failed indices: diff (-want +got):\n%s", diff)
	}
	if got, want := len(rep.Results), 4; got != want {
		t.Fatalf("unexpected number of results: got %v, want %v", got, want)
	}
	if !strings.Contains(rep.Results[2].Err, "normalize") {
		t.Fatalf("failure of image 02 does not name the stage: %q", rep.Results[2].Err)
	}
	for _, idx := range []string{"00", "03"} {
		if _, err := os.Stat(filepath.Join(cfg.OutputDir, "img_8bpp_"+idx+".bin")); err != nil {
			t.Fatalf("image %s was not written: %v", idx, err)
		}
	}
	var errorsLogged int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errorsLogged++
		}
	}
	if got, want := errorsLogged, 2; got != want {
		t.Fatalf("unexpected number of logged errors: got %v, want %v", got, want)
	}
}

func TestRunCanceled(t *testing.T) {
	cfg, _ := newConfig(t)
	cfg.Start, cfg.End = 0, 2
	writePNG(t, filepath.Join(cfg.InputDir, "img_00.png"), grayImage(16, 16, 1))
	ctx, canc := context.WithCancel(context.Background())
	canc()
	rep, err := batch.Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if got, want := err.Error(), "stopped before image 00: context canceled"; got != want {
		t.Fatalf("unexpected error: got %q, want %q", got, want)
	}
	if got := len(rep.Results); got != 0 {
		t.Fatalf("canceled run processed %d images", got)
	}
	if got := len(rep.Failed); got != 0 {
		t.Fatalf("cancellation counted as %d failed images", got)
	}
}

// canceler cancels the run once the first image is done.
type canceler struct {
	canc context.CancelFunc
}

func (c canceler) Report(u progress.Update) {
	if u.Done {
		c.canc()
	}
}

func TestRunCanceledAfterFailure(t *testing.T) {
	cfg, _ := newConfig(t)
	cfg.Start, cfg.End = 0, 2
	cfg.KeepGoing = true
	// img_00.png is missing
	ctx, canc := context.WithCancel(context.Background())
	defer canc()
	cfg.Progress = canceler{canc}
	rep, err := batch.Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) || !errors.Is(err, png2bayer.ErrDecode) {
		t.Fatalf("Run() = %v, want both context.Canceled and ErrDecode", err)
	}
	for _, want := range []string{"stopped before image 01", "1 of 3 images failed"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Run() = %q, want it to contain %q", err, want)
		}
	}
	if diff := cmp.Diff([]int{0}, rep.Failed); diff != "" {
		t.Fatalf("unexpected failed indices: diff (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		name   string
		modify func(*batch.Config)
		want   error
	}{
		{name: "ok", modify: func(*batch.Config) {}, want: nil},
		{name: "no input", modify: func(c *batch.Config) { c.InputDir = "" }, want: png2bayer.ErrMissingInput},
		{name: "no output", modify: func(c *batch.Config) { c.OutputDir = "" }, want: png2bayer.ErrMissingInput},
		{name: "reversed range", modify: func(c *batch.Config) { c.Start, c.End = 3, 2 }, want: png2bayer.ErrInvalidOption},
		{name: "negative start", modify: func(c *batch.Config) { c.Start = -1 }, want: png2bayer.ErrInvalidOption},
		{name: "bpp", modify: func(c *batch.Config) { c.BPP = 16 }, want: png2bayer.ErrInvalidOption},
		{name: "lossy", modify: func(c *batch.Config) { c.LossyBits = 4 }, want: png2bayer.ErrInvalidOption},
	} {
		t.Run(test.name, func(t *testing.T) {
			cfg := &batch.Config{InputDir: "in", OutputDir: "out", BPP: 10}
			test.modify(cfg)
			err := cfg.Validate()
			if test.want == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				if cfg.Log == nil || cfg.Progress == nil || cfg.Rand == nil || cfg.Now == nil {
					t.Fatalf("Validate() did not fill in defaults: %+v", cfg)
				}
				return
			}
			if !errors.Is(err, test.want) {
				t.Fatalf("Validate() = %v, want %v", err, test.want)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := &batch.Config{
		InputDir:       "in",
		OutputDir:      "out",
		BPP:            10,
		FilenameFormat: "frame_",
	}
	for _, test := range []struct{ got, want string }{
		{cfg.InputPath(3), filepath.Join("in", "frame_03.png")},
		{cfg.BinPath(3), filepath.Join("out", "frame_10bpp_03.bin")},
		{cfg.PNGPath(12), filepath.Join("out", "frame_10bpp_12.png")},
		{cfg.OutputName(100), "frame_10bpp_100"},
	} {
		if test.got != test.want {
			t.Errorf("got %q, want %q", test.got, test.want)
		}
	}
}

func TestReportWriteFile(t *testing.T) {
	cfg, _ := newConfig(t)
	writePNG(t, filepath.Join(cfg.InputDir, "img_00.png"), grayImage(16, 16, 1))
	rep, err := batch.Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	fn := filepath.Join(t.TempDir(), "report.json")
	if err := rep.WriteFile(fn); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(fn)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		RunID   string `json:"run_id"`
		Config  struct {
			BPP int `json:"bpp"`
		} `json:"config"`
		Results []struct {
			Index  int    `json:"index"`
			Output string `json:"output"`
		} `json:"results"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.RunID != rep.RunID || got.RunID == "" {
		t.Fatalf("unexpected run id: got %q, want %q", got.RunID, rep.RunID)
	}
	if got.Config.BPP != 8 || len(got.Results) != 1 || got.Results[0].Output == "" {
		t.Fatalf("unexpected report contents: %s", b)
	}
	if got, want := rep.Elapsed(), time.Duration(0); got != want {
		t.Fatalf("unexpected elapsed time with a fixed clock: got %v, want %v", got, want)
	}
}
