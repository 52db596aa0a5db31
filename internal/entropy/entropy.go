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

// Package entropy estimates the Shannon entropy of sample buffers. The result
// is diagnostic only.
package entropy

import "math"

// Sample is any unsigned sample type the pipeline produces.
type Sample interface {
	~uint8 | ~uint16
}

// Shannon returns the entropy in bits per sample of the histogram of samples
// over the integer bins [minVal, maxVal). Samples outside that range are not
// counted. Empty bins do not contribute.
func Shannon[S Sample](samples []S, minVal, maxVal int) float64 {
	if maxVal <= minVal {
		return 0
	}
	freq := make([]int, maxVal-minVal)
	var total int
	for _, s := range samples {
		v := int(s)
		if v < minVal || v >= maxVal {
			continue
		}
		freq[v-minVal]++
		total++
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, n := range freq {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(total)
		h -= p * math.Log2(p)
	}
	// -0 for a single populated bin
	return math.Abs(h)
}
