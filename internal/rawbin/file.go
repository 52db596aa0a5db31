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

package rawbin

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio"
	"github.com/stapelberg/png2bayer"
)

// WriteFile writes a record to path. A file previously located at path is
// removed first. The record is written to a temporary file next to path and
// only renamed into place once it was written completely, so a failure never
// leaves a truncated record behind. An invalid payload is rejected before the
// previous file is touched.
func WriteFile(path string, h Header, samples []uint16) error {
	if err := checkSamples(h, samples); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", png2bayer.ErrWrite, err)
	}
	o, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("%w: %w", png2bayer.ErrWrite, err)
	}
	defer o.Cleanup()
	if err := o.Chmod(0644); err != nil {
		return fmt.Errorf("%w: %w", png2bayer.ErrWrite, err)
	}
	if err := NewEncoder(o).Encode(h, samples); err != nil {
		return fmt.Errorf("%w: %s: %w", png2bayer.ErrWrite, path, err)
	}
	if err := o.Sync(); err != nil {
		return fmt.Errorf("%w: %s: %w", png2bayer.ErrWrite, path, err)
	}
	if err := o.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("%w: %s: %w", png2bayer.ErrWrite, path, err)
	}
	return nil
}

// Verify checks that the record at path carries header want and has the
// expected size.
func Verify(path string, want Header) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", png2bayer.ErrWrite, err)
	}
	defer f.Close()
	got, err := ReadHeader(f)
	if err != nil {
		return fmt.Errorf("%w: %s: reading back header: %w", png2bayer.ErrWrite, path, err)
	}
	if got != want {
		return fmt.Errorf("%w: %s: header mismatch: got %+v, want %+v", png2bayer.ErrWrite, path, got, want)
	}
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %w", png2bayer.ErrWrite, err)
	}
	if got, want := st.Size(), want.Size(); got != want {
		return fmt.Errorf("%w: %s: unexpected size: got %d, want %d", png2bayer.ErrWrite, path, got, want)
	}
	return nil
}
