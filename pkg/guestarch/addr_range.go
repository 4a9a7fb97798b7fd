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

package guestarch

import (
	"errors"
	"fmt"
)

// ErrInvalidRange is returned when a range would have start > end or would
// wrap around the address space.
var ErrInvalidRange = errors.New("invalid address range")

// AddrRange is a half-open range [Start, End) over one address kind.
type AddrRange[A Address] struct {
	Start A
	End   A
}

// GuestPhysRange is a range of guest-physical addresses.
type GuestPhysRange = AddrRange[GuestPhysAddr]

// GuestVirtRange is a range of guest-virtual addresses.
type GuestVirtRange = AddrRange[GuestVirtAddr]

// HostPhysRange is a range of host-physical addresses.
type HostPhysRange = AddrRange[HostPhysAddr]

// HostVirtRange is a range of host-virtual addresses.
type HostVirtRange = AddrRange[HostVirtAddr]

// NewAddrRange returns [start, end), or ErrInvalidRange if start > end.
func NewAddrRange[A Address](start, end A) (AddrRange[A], error) {
	if start > end {
		return AddrRange[A]{}, fmt.Errorf("[%#x, %#x): %w", uint64(start), uint64(end), ErrInvalidRange)
	}
	return AddrRange[A]{Start: start, End: end}, nil
}

// RangeFromSize returns [start, start+size), or ErrInvalidRange if the end
// overflows.
func RangeFromSize[A Address](start A, size uint64) (AddrRange[A], error) {
	end, ok := AddLength(start, size)
	if !ok {
		return AddrRange[A]{}, fmt.Errorf("%#x+%#x overflows: %w", uint64(start), size, ErrInvalidRange)
	}
	return AddrRange[A]{Start: start, End: end}, nil
}

// WellFormed returns true if r.Start <= r.End. All other methods on a
// range require that it be well-formed.
func (r AddrRange[A]) WellFormed() bool {
	return r.Start <= r.End
}

// Length returns the length of the range in bytes.
func (r AddrRange[A]) Length() uint64 {
	return uint64(r.End - r.Start)
}

// Pages returns the number of pages the range spans. The range is assumed to
// be page-aligned.
func (r AddrRange[A]) Pages() uint64 {
	return r.Length() >> PageShift
}

// StartInclusive returns the first address in the range.
func (r AddrRange[A]) StartInclusive() A {
	return r.Start
}

// EndExclusive returns the first address past the range.
func (r AddrRange[A]) EndExclusive() A {
	return r.End
}

// IsEmpty returns true if the range contains no addresses.
func (r AddrRange[A]) IsEmpty() bool {
	return r.Start == r.End
}

// Contains returns true if r contains a.
func (r AddrRange[A]) Contains(a A) bool {
	return r.Start <= a && a < r.End
}

// Overlaps returns true if r and r2 share at least one address. Empty
// ranges overlap nothing.
func (r AddrRange[A]) Overlaps(r2 AddrRange[A]) bool {
	if r.IsEmpty() || r2.IsEmpty() {
		return false
	}
	return r.Start < r2.End && r2.Start < r.End
}

// IsSupersetOf returns true if r contains every address in r2.
func (r AddrRange[A]) IsSupersetOf(r2 AddrRange[A]) bool {
	return r.Start <= r2.Start && r2.End <= r.End
}

// Intersect returns the intersection of r and r2. If they do not overlap,
// the result is empty.
func (r AddrRange[A]) Intersect(r2 AddrRange[A]) AddrRange[A] {
	if r.Start < r2.Start {
		r.Start = r2.Start
	}
	if r.End > r2.End {
		r.End = r2.End
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

// IsPageAligned returns true if both ends of the range are page-aligned.
func (r AddrRange[A]) IsPageAligned() bool {
	return IsPageAligned(r.Start) && IsPageAligned(r.End)
}

// String implements fmt.Stringer.String.
func (r AddrRange[A]) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}
