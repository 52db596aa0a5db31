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

// Package progress reports per-image conversion progress.
package progress

import (
	"fmt"
	"io"
	"strings"

	"github.com/stapelberg/png2bayer"
)

// Update describes how far processing of one image index has come.
type Update struct {
	RunID   string          `json:"run_id"`
	Index   int             `json:"index"`
	Stage   png2bayer.Stage `json:"-"`
	Percent int             `json:"percent"`
	Note    string          `json:"note"`
	Done    bool            `json:"done"`
}

// StageName is Stage.String(), exported for JSON consumers.
func (u Update) StageName() string {
	return u.Stage.String()
}

// Percent returns the completion percentage once stage s has started.
func Percent(s png2bayer.Stage) int {
	return int(s) * 100 / png2bayer.NumStages
}

// A Reporter receives progress updates. Reporters must not block the
// pipeline for long and must not fail it.
type Reporter interface {
	Report(Update)
}

// Multi fans updates out to all reporters.
type Multi []Reporter

func (m Multi) Report(u Update) {
	for _, r := range m {
		r.Report(u)
	}
}

// Discard drops all updates.
var Discard Reporter = Multi(nil)

// Bar renders updates as a single, continuously rewritten text line:
//
//	[========            ] 40% extract: Constructing Bayer CFA
type Bar struct {
	W io.Writer
}

const (
	barWidth  = 20
	lineWidth = 92
)

// Line returns the bar text for percent and note without any carriage
// return handling.
func Line(percent int, note string) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	bar := strings.Repeat("=", percent/(100/barWidth))
	return fmt.Sprintf("[%-*s] %d%% %s", barWidth, bar, percent, note)
}

func (b *Bar) Report(u Update) {
	// Blank the previous (possibly longer) line before drawing.
	note := u.StageName() + ": " + u.Note
	fmt.Fprintf(b.W, "\r%s\r%s", strings.Repeat(" ", lineWidth), Line(u.Percent, note))
	if u.Done {
		fmt.Fprintln(b.W)
	}
}
