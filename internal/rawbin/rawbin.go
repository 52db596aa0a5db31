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

// Package rawbin writes raw Bayer sensor records: a 16 byte header followed by
// the samples of one frame.
//
// All multi-byte fields are little-endian. The header layout is:
//
//	offset size field
//	0      8    timestamp (milliseconds since the Unix epoch)
//	8      2    width
//	10     2    height
//	12     1    unary length (always 8)
//	13     1    bits per pixel (8, 10 or 12)
//	14     1    lossy bits
//	15     1    reserved (always 0)
//
// The payload holds width*height samples in row-major order without row
// padding: one byte per sample for 8 bpp, two bytes otherwise.
package rawbin

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/stapelberg/png2bayer"
)

const (
	// HeaderSize is the encoded size of a Header in bytes.
	HeaderSize = 16

	// UnaryLength is the fixed value of the unary length header field.
	UnaryLength = 8
)

// Header describes one record.
type Header struct {
	Timestamp   uint64 // milliseconds since the Unix epoch
	Width       uint16
	Height      uint16
	UnaryLength uint8
	BPP         uint8
	LossyBits   uint8
	Reserved    uint8
}

// NewHeader returns a header with the fixed fields filled in and the
// timestamp taken from now.
func NewHeader(now time.Time, width, height, bpp, lossyBits int) (Header, error) {
	if width <= 0 || width > math.MaxUint16 || height <= 0 || height > math.MaxUint16 {
		return Header{}, fmt.Errorf("%w: dimensions %dx%d do not fit the header",
			png2bayer.ErrInvalidOption, width, height)
	}
	if !png2bayer.ValidBitDepth(bpp) {
		return Header{}, fmt.Errorf("%w: bpp %d", png2bayer.ErrInvalidOption, bpp)
	}
	if lossyBits < 0 || lossyBits > png2bayer.MaxLossyBits {
		return Header{}, fmt.Errorf("%w: lossy bits %d, want 0..%d",
			png2bayer.ErrInvalidOption, lossyBits, png2bayer.MaxLossyBits)
	}
	return Header{
		Timestamp:   uint64(now.UnixMilli()),
		Width:       uint16(width),
		Height:      uint16(height),
		UnaryLength: UnaryLength,
		BPP:         uint8(bpp),
		LossyBits:   uint8(lossyBits),
	}, nil
}

// BytesPerSample returns the payload width of one sample.
func (h Header) BytesPerSample() int {
	if h.BPP == 8 {
		return 1
	}
	return 2
}

// Samples returns the number of samples in the payload.
func (h Header) Samples() int {
	return int(h.Width) * int(h.Height)
}

// Size returns the size of the whole record in bytes.
func (h Header) Size() int64 {
	return HeaderSize + int64(h.Samples())*int64(h.BytesPerSample())
}

// MarshalBinary encodes h into its 16 byte representation.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(b[0:], h.Timestamp)
	binary.LittleEndian.PutUint16(b[8:], h.Width)
	binary.LittleEndian.PutUint16(b[10:], h.Height)
	b[12] = h.UnaryLength
	b[13] = h.BPP
	b[14] = h.LossyBits
	b[15] = h.Reserved
	return b, nil
}

// UnmarshalBinary decodes a header from b.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("short header: %d bytes, want %d", len(b), HeaderSize)
	}
	h.Timestamp = binary.LittleEndian.Uint64(b[0:])
	h.Width = binary.LittleEndian.Uint16(b[8:])
	h.Height = binary.LittleEndian.Uint16(b[10:])
	h.UnaryLength = b[12]
	h.BPP = b[13]
	h.LossyBits = b[14]
	h.Reserved = b[15]
	return nil
}

// ReadHeader reads a header from the start of r.
func ReadHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Header{}, err
	}
	var h Header
	if err := h.UnmarshalBinary(b[:]); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Encoder writes records.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns a ready-to-use Encoder, writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes the header followed by samples, which must contain exactly
// h.Samples() values of at most h.BPP bits each.
func (e *Encoder) Encode(h Header, samples []uint16) error {
	if err := checkSamples(h, samples); err != nil {
		return err
	}
	hdr, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(e.w)
	if _, err := bw.Write(hdr); err != nil {
		return err
	}
	var buf [2]byte
	for _, s := range samples {
		if h.BPP == 8 {
			if err := bw.WriteByte(uint8(s)); err != nil {
				return err
			}
			continue
		}
		binary.LittleEndian.PutUint16(buf[:], s)
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// checkSamples returns an ErrInvalidOption error unless samples holds exactly
// h.Samples() values of at most h.BPP bits each.
func checkSamples(h Header, samples []uint16) error {
	if got, want := len(samples), h.Samples(); got != want {
		return fmt.Errorf("%w: %d samples for a %dx%d frame",
			png2bayer.ErrInvalidOption, got, h.Width, h.Height)
	}
	limit := uint16(1)<<h.BPP - 1
	for i, s := range samples {
		if s > limit {
			return fmt.Errorf("%w: sample %d = %d exceeds %d bpp",
				png2bayer.ErrInvalidOption, i, s, h.BPP)
		}
	}
	return nil
}
