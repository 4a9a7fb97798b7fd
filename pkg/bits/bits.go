// Copyright 2026 The gVisor Authors.
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

// Package bits includes non-atomic bit operations on unsigned integers.
package bits

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Unsigned is the set of integer types the helpers operate on.
type Unsigned interface {
	constraints.Unsigned
}

// IsOn returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn[T Unsigned](mask, bits T) bool {
	return mask&bits == bits
}

// IsAnyOn returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn[T Unsigned](mask, bits T) bool {
	return mask&bits != 0
}

// Mask returns a T with all of the given bits set.
func Mask[T Unsigned](is ...int) T {
	ret := T(0)
	for _, i := range is {
		ret |= MaskOf[T](i)
	}
	return ret
}

// MaskOf is like Mask, but sets only a single bit (more efficiently).
func MaskOf[T Unsigned](i int) T {
	return T(1) << T(i)
}

// TrailingZeros returns the number of trailing zero bits in x; the result is
// 64 for x == 0.
func TrailingZeros[T Unsigned](x T) int {
	return bits.TrailingZeros64(uint64(x))
}

// ForEachSetBit calls f once for each set bit in x, with argument i equal to
// the set bit's index, in ascending order.
func ForEachSetBit[T Unsigned](x T, f func(i int)) {
	v := uint64(x)
	for v != 0 {
		i := bits.TrailingZeros64(v)
		f(i)
		v &^= uint64(1) << uint(i)
	}
}
