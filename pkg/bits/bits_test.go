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

package bits

import (
	"reflect"
	"testing"
)

func TestForEachSetBit(t *testing.T) {
	for _, want := range [][]int{
		{},
		{0},
		{1},
		{63},
		{0, 1},
		{1, 3, 5},
		{0, 63},
	} {
		n := Mask[uint64](want...)
		got := make([]int, 0)
		ForEachSetBit(n, func(i int) {
			got = append(got, i)
		})
		if !reflect.DeepEqual(got, want) {
			t.Errorf("ForEachSetBit(%#x): iterated bits %v, wanted %v", n, got, want)
		}
	}
}

func TestIsOn(t *testing.T) {
	type spec struct {
		mask uint32
		bits uint32
		any  bool
		all  bool
	}
	for _, s := range []spec{
		{Mask[uint32](0), Mask[uint32](0), true, true},
		{Mask[uint32](31), Mask[uint32](31), true, true},
		{Mask[uint32](0, 1), Mask[uint32](1), true, true},
		{Mask[uint32](0, 1), Mask[uint32](1, 2), true, false},
		{Mask[uint32](0), Mask[uint32](2), false, false},
	} {
		if s.bits != 0 {
			if got := IsAnyOn(s.mask, s.bits); got != s.any {
				t.Errorf("IsAnyOn(%#x, %#x): got %v, wanted %v", s.mask, s.bits, got, s.any)
			}
		}
		if got := IsOn(s.mask, s.bits); got != s.all {
			t.Errorf("IsOn(%#x, %#x): got %v, wanted %v", s.mask, s.bits, got, s.all)
		}
	}
}

func TestTrailingZeros(t *testing.T) {
	for i := 0; i < 64; i++ {
		n := uint64(1) << uint(i)
		if got := TrailingZeros(n); got != i {
			t.Errorf("TrailingZeros(%#x): got %d, wanted %d", n, got, i)
		}
	}
	if got := TrailingZeros(uint64(0)); got != 64 {
		t.Errorf("TrailingZeros(0): got %d, wanted 64", got)
	}
}
