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

package addrspace

import (
	"fmt"

	"gvisor.dev/guestmem/pkg/frame"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/pkg/mapping"
	"gvisor.dev/guestmem/pkg/npt"
)

// BackendKind identifies how an area's translations are produced.
type BackendKind uint8

const (
	// Linear areas translate at a fixed offset from a host-physical base
	// and are always fully mapped. They own no frames.
	Linear BackendKind = iota

	// Alloc areas are backed by frames from the frame allocator, one per
	// page, either allocated up front or on first fault.
	Alloc
)

// String implements fmt.Stringer.String.
func (k BackendKind) String() string {
	switch k {
	case Linear:
		return "linear"
	case Alloc:
		return "alloc"
	default:
		return fmt.Sprintf("BackendKind(%d)", uint8(k))
	}
}

// Backend is the mapping strategy of an area. The set of kinds is closed;
// every operation switches on kind.
type Backend struct {
	kind BackendKind

	// offset is hpa - gpa for Linear.
	offset int64

	// populate is set for Alloc areas whose frames are allocated at map
	// time.
	populate bool
}

// NewLinearBackend returns a Linear backend translating gpa to gpa+offset.
func NewLinearBackend(offset int64) Backend {
	return Backend{kind: Linear, offset: offset}
}

// NewAllocBackend returns an Alloc backend. If populate is false, frames
// are allocated on first fault.
func NewAllocBackend(populate bool) Backend {
	return Backend{kind: Alloc, populate: populate}
}

// Kind returns the backend kind.
func (b Backend) Kind() BackendKind {
	return b.kind
}

// Offset returns the host-physical offset of a Linear backend.
func (b Backend) Offset() int64 {
	return b.offset
}

// Populate returns whether an Alloc backend is populated eagerly.
func (b Backend) Populate() bool {
	return b.populate
}

// String implements fmt.Stringer.String.
func (b Backend) String() string {
	switch b.kind {
	case Linear:
		if b.offset < 0 {
			return fmt.Sprintf("linear(-%#x)", uint64(-b.offset))
		}
		return fmt.Sprintf("linear(+%#x)", uint64(b.offset))
	case Alloc:
		if b.populate {
			return "alloc(populated)"
		}
		return "alloc(lazy)"
	default:
		panic(fmt.Sprintf("unknown backend kind %v", b.kind))
	}
}

func (b Backend) linearAddr(gpa guestarch.GuestPhysAddr) guestarch.HostPhysAddr {
	return guestarch.HostPhysAddr(uint64(gpa) + uint64(b.offset))
}

// installed is a page installed by mapRange, kept for rollback.
type installed struct {
	gpa guestarch.GuestPhysAddr
	hpa guestarch.HostPhysAddr
}

// mapRange installs the translations of r. On failure every page installed
// by this call is removed again, in reverse order, and every frame it
// allocated is freed, so the table is left as it was.
func (b Backend) mapRange(r guestarch.GuestPhysRange, flags mapping.Flags, pt npt.PageTable, frames frame.Allocator) error {
	switch b.kind {
	case Linear:
		var done []installed
		for gpa := r.Start; gpa < r.End; gpa += guestarch.PageSize {
			hpa := b.linearAddr(gpa)
			if err := pt.Map(gpa, hpa, flags); err != nil {
				b.rollback(done, pt, nil)
				return err
			}
			done = append(done, installed{gpa, hpa})
		}
		return nil
	case Alloc:
		if !b.populate {
			return nil
		}
		done := make([]installed, 0, r.Pages())
		for gpa := r.Start; gpa < r.End; gpa += guestarch.PageSize {
			hpa, err := frames.AllocFrame()
			if err != nil {
				b.rollback(done, pt, frames)
				return err
			}
			if err := pt.Map(gpa, hpa, flags); err != nil {
				frames.FreeFrame(hpa)
				b.rollback(done, pt, frames)
				return err
			}
			done = append(done, installed{gpa, hpa})
		}
		return nil
	default:
		panic(fmt.Sprintf("unknown backend kind %v", b.kind))
	}
}

// rollback removes pages in reverse order of installation. Frames are freed
// if frames is not nil.
func (b Backend) rollback(done []installed, pt npt.PageTable, frames frame.Allocator) {
	for i := len(done) - 1; i >= 0; i-- {
		pt.Unmap(done[i].gpa)
		if frames != nil {
			frames.FreeFrame(done[i].hpa)
		}
	}
}

// unmapRange removes every translation in r and returns the number of
// frames freed. Pages that were never populated are skipped.
func (b Backend) unmapRange(r guestarch.GuestPhysRange, pt npt.PageTable, frames frame.Allocator) (freed int) {
	switch b.kind {
	case Linear:
		for gpa := r.Start; gpa < r.End; gpa += guestarch.PageSize {
			pt.Unmap(gpa)
		}
		return 0
	case Alloc:
		for gpa := r.Start; gpa < r.End; gpa += guestarch.PageSize {
			if hpa, _, ok := pt.Unmap(gpa); ok {
				frames.FreeFrame(hpa)
				freed++
			}
		}
		return freed
	default:
		panic(fmt.Sprintf("unknown backend kind %v", b.kind))
	}
}

// handleFault resolves a nested page fault at gpa in an area with the given
// flags. It returns whether a frame was installed.
func (b Backend) handleFault(gpa guestarch.GuestPhysAddr, access guestarch.AccessType, flags mapping.Flags, pt npt.PageTable, frames frame.Allocator) (bool, error) {
	if !flags.Contains(mapping.ForAccess(access)) {
		return false, ErrPermissionDenied
	}
	switch b.kind {
	case Linear:
		return false, ErrInconsistentState
	case Alloc:
		if b.populate {
			return false, ErrInconsistentState
		}
		if _, _, ok := pt.Query(gpa); ok {
			// Already resolved by an earlier fault on the same page.
			return false, nil
		}
		hpa, err := frames.AllocFrame()
		if err != nil {
			return false, err
		}
		if err := pt.Map(gpa.RoundDown(), hpa, flags); err != nil {
			frames.FreeFrame(hpa)
			return false, err
		}
		return true, nil
	default:
		panic(fmt.Sprintf("unknown backend kind %v", b.kind))
	}
}

// protectRange re-applies flags to every present page in r and returns the
// number of pages updated.
func (b Backend) protectRange(r guestarch.GuestPhysRange, flags mapping.Flags, pt npt.PageTable) (updated int) {
	switch b.kind {
	case Linear, Alloc:
		for gpa := r.Start; gpa < r.End; gpa += guestarch.PageSize {
			if pt.Protect(gpa, flags) {
				updated++
			}
		}
		return updated
	default:
		panic(fmt.Sprintf("unknown backend kind %v", b.kind))
	}
}

// contiguous returns the number of bytes, at most limit, starting at gpa
// that translate to one physically contiguous run beginning at hpa. gpa
// must be mapped to hpa.
func (b Backend) contiguous(gpa guestarch.GuestPhysAddr, hpa guestarch.HostPhysAddr, limit uint64, pt npt.PageTable) uint64 {
	switch b.kind {
	case Linear:
		return limit
	case Alloc:
		n := min(limit, guestarch.PageSize-gpa.PageOffset())
		next := gpa.RoundDown() + guestarch.PageSize
		want := hpa.RoundDown() + guestarch.PageSize
		for n < limit {
			got, _, ok := pt.Query(next)
			if !ok || got != want {
				break
			}
			n += min(limit-n, guestarch.PageSize)
			next += guestarch.PageSize
			want += guestarch.PageSize
		}
		return n
	default:
		panic(fmt.Sprintf("unknown backend kind %v", b.kind))
	}
}
