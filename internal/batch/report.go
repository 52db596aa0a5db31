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
	"encoding/json"
	"time"

	"github.com/google/renameio"
)

// Report summarizes a batch run.
type Report struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Config   Config    `json:"config"`
	Results  []Result  `json:"results"`
	Failed   []int     `json:"failed,omitempty"`
}

// Elapsed returns how long the run took.
func (r *Report) Elapsed() time.Duration {
	return r.Finished.Sub(r.Started)
}

// WriteFile atomically writes r as indented JSON to path.
func (r *Report) WriteFile(path string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	o, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer o.Cleanup()
	if err := o.Chmod(0644); err != nil {
		return err
	}
	if _, err := o.Write(append(b, '\n')); err != nil {
		return err
	}
	return o.CloseAtomicallyReplace()
}
