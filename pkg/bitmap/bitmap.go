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

// Package bitmap provides a fixed-size bitmap used to track frame
// ownership.
package bitmap

import (
	"fmt"
	"math/bits"
)

// Bitmap is a set of small integers in [0, Size()).
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// size is the number of addressable bits. It may be smaller than
	// len(bitBlock)*64; bits past size are kept set so that FirstZero never
	// returns them.
	size uint32

	// bitBlock holds the bits. The type of bitBlock is uint64 which means
	// each number in bitBlock contains 64 entries.
	bitBlock []uint64
}

// New creates a new empty Bitmap of the given size.
func New(size uint32) Bitmap {
	b := Bitmap{size: size}
	b.bitBlock = make([]uint64, (size+63)/64)
	if tail := size % 64; tail != 0 {
		b.bitBlock[len(b.bitBlock)-1] = ^uint64(0) << tail
	}
	return b
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// Size returns the number of addressable bits.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// GetNumOnes returns the number of ones in the Bitmap.
func (b *Bitmap) GetNumOnes() uint32 {
	return b.numOnes
}

// Contains returns true if i is set.
func (b *Bitmap) Contains(i uint32) bool {
	if i >= b.size {
		return false
	}
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add sets i. It returns false if i was already set.
//
// Precondition: i < Size().
func (b *Bitmap) Add(i uint32) bool {
	if i >= b.size {
		panic(fmt.Sprintf("bitmap index %d out of range [0, %d)", i, b.size))
	}
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	if oldBlock&mask != 0 {
		return false
	}
	b.bitBlock[blockNum] = oldBlock | mask
	b.numOnes++
	return true
}

// Remove clears i. It returns false if i was not set.
func (b *Bitmap) Remove(i uint32) bool {
	if i >= b.size {
		return false
	}
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	if oldBlock&mask == 0 {
		return false
	}
	b.bitBlock[blockNum] = oldBlock &^ mask
	b.numOnes--
	return true
}

// FirstZero returns the first unset bit from the range [start, Size()).
func (b *Bitmap) FirstZero(start uint32) (uint32, error) {
	if start >= b.size {
		return 0, fmt.Errorf("bitmap has no unset bits at or after %d", start)
	}
	i, nbit := int(start/64), start%64
	n := len(b.bitBlock)
	w := b.bitBlock[i] | ((1 << nbit) - 1)
	for {
		if w != ^uint64(0) {
			return uint32(bits.TrailingZeros64(^w) + i*64), nil
		}
		i++
		if i == n {
			break
		}
		w = b.bitBlock[i]
	}
	return 0, fmt.Errorf("bitmap has no unset bits at or after %d", start)
}

// ToSlice returns the set bits in ascending order. For example, a bitmap of
// [0, 1, 0, 1] will return the slice [1, 3].
func (b *Bitmap) ToSlice() []uint32 {
	out := make([]uint32, 0, b.numOnes)
	for i := uint32(0); i < b.size; i++ {
		if b.Contains(i) {
			out = append(out, i)
		}
	}
	return out
}
