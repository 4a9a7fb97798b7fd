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

package frame

import (
	"fmt"
	"sync"

	"gvisor.dev/guestmem/pkg/bitmap"
	"gvisor.dev/guestmem/pkg/guestarch"
)

// BitmapAllocator allocates frames from a contiguous pool of host-physical
// memory, tracking ownership in a bitmap.
type BitmapAllocator struct {
	mu sync.Mutex

	// base is the host-physical address of frame 0.
	base guestarch.HostPhysAddr

	// frames has bit i set iff frame i is allocated.
	frames bitmap.Bitmap

	// next is where the next search starts. Allocation is first-fit from
	// next, wrapping to 0, so freed frames are not immediately reused.
	next uint32
}

// NewBitmapAllocator returns an allocator for count frames starting at base.
//
// Precondition: base is page-aligned.
func NewBitmapAllocator(base guestarch.HostPhysAddr, count uint32) *BitmapAllocator {
	if !base.IsPageAligned() {
		panic(fmt.Sprintf("unaligned frame pool base %v", base))
	}
	return &BitmapAllocator{
		base:   base,
		frames: bitmap.New(count),
	}
}

// AllocFrame implements Allocator.AllocFrame.
func (a *BitmapAllocator) AllocFrame() (guestarch.HostPhysAddr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, err := a.frames.FirstZero(a.next)
	if err != nil {
		if i, err = a.frames.FirstZero(0); err != nil {
			return 0, ErrOutOfMemory
		}
	}
	a.frames.Add(i)
	a.next = i + 1
	if a.next >= a.frames.Size() {
		a.next = 0
	}
	return a.base + guestarch.HostPhysAddr(uint64(i)<<guestarch.PageShift), nil
}

// FreeFrame implements Allocator.FreeFrame.
//
// Freeing a frame that is not allocated is a bug in the caller and panics.
func (a *BitmapAllocator) FreeFrame(p guestarch.HostPhysAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, ok := a.index(p)
	if !ok || !a.frames.Remove(i) {
		panic(fmt.Sprintf("freeing unallocated frame %v", p))
	}
}

// Allocated returns the number of frames currently allocated.
func (a *BitmapAllocator) Allocated() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames.GetNumOnes()
}

// Capacity returns the number of frames in the pool.
func (a *BitmapAllocator) Capacity() uint32 {
	return a.frames.Size()
}

// Range returns the host-physical range covered by the pool.
func (a *BitmapAllocator) Range() guestarch.HostPhysRange {
	return guestarch.HostPhysRange{
		Start: a.base,
		End:   a.base + guestarch.HostPhysAddr(uint64(a.frames.Size())<<guestarch.PageShift),
	}
}

func (a *BitmapAllocator) index(p guestarch.HostPhysAddr) (uint32, bool) {
	if !p.IsPageAligned() || !a.Range().Contains(p) {
		return 0, false
	}
	return uint32((p - a.base) >> guestarch.PageShift), true
}
