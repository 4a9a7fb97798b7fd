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

//go:build linux

package frame

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/pkg/log"
)

// madvise is unix.Madvise, replaced in tests.
var madvise = unix.Madvise

// HostMemory is a pool of frames backed by an anonymous host mapping.
//
// Host-physical addresses handed out by HostMemory are synthetic: frame i of
// the pool has address base + i*PageSize, and its bytes live at the same
// offset in the mapping. The distance between the two is the pool's
// guestarch.PhysOffset.
type HostMemory struct {
	*BitmapAllocator

	mem    []byte
	offset guestarch.PhysOffset
}

// NewHostMemory maps size bytes of anonymous memory and returns a pool whose
// frames start at host-physical address base.
func NewHostMemory(base guestarch.HostPhysAddr, size uint64) (*HostMemory, error) {
	if size == 0 || !guestarch.IsPageAligned(size) || !base.IsPageAligned() {
		return nil, fmt.Errorf("host memory base %v size %#x must be page-aligned and non-empty", base, size)
	}
	mem, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("mmap %#x bytes: %w", size, err)
	}
	hva := uint64(uintptr(unsafe.Pointer(&mem[0])))
	return &HostMemory{
		BitmapAllocator: NewBitmapAllocator(base, uint32(size>>guestarch.PageShift)),
		mem:             mem,
		offset:          guestarch.PhysOffset(hva - uint64(base)),
	}, nil
}

// FreeFrame implements Allocator.FreeFrame. The frame's contents are
// discarded so that the next owner sees zeroes.
func (h *HostMemory) FreeFrame(p guestarch.HostPhysAddr) {
	if b, err := h.Slice(p, guestarch.PageSize); err == nil {
		if err := madvise(b, unix.MADV_DONTNEED); err != nil {
			log.Warningf("Discarding frame %v failed, zeroing it: %v", p, err)
			clear(b)
		}
	}
	h.BitmapAllocator.FreeFrame(p)
}

// Offset returns the host-virtual minus host-physical distance of the pool.
func (h *HostMemory) Offset() guestarch.PhysOffset {
	return h.offset
}

// PhysToVirt implements Translator.PhysToVirt.
func (h *HostMemory) PhysToVirt(p guestarch.HostPhysAddr) guestarch.HostVirtAddr {
	return h.offset.ToVirt(p)
}

// VirtToPhys is the inverse of PhysToVirt.
func (h *HostMemory) VirtToPhys(v guestarch.HostVirtAddr) guestarch.HostPhysAddr {
	return h.offset.ToPhys(v)
}

// Slice implements Translator.Slice.
func (h *HostMemory) Slice(p guestarch.HostPhysAddr, length uint64) ([]byte, error) {
	r, err := guestarch.RangeFromSize(p, length)
	if err != nil {
		return nil, err
	}
	if !h.Range().IsSupersetOf(r) {
		return nil, fmt.Errorf("%v is outside host memory %v", r, h.Range())
	}
	off := uint64(p - h.base)
	return h.mem[off : off+length : off+length], nil
}

// Release unmaps the backing memory. The pool must not be used afterwards.
func (h *HostMemory) Release() error {
	if h.mem == nil {
		return nil
	}
	err := unix.Munmap(h.mem)
	h.mem = nil
	return err
}
