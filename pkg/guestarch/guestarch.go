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

// Package guestarch describes the address kinds seen by a hypervisor that
// manages guest memory through second-level (nested) translation.
//
// Guest-virtual, guest-physical, host-virtual and host-physical addresses are
// distinct types. They are never implicitly interconvertible: an explicit
// numeric conversion is the only bridge, and host-physical to host-virtual
// conversion requires a configured PhysOffset.
package guestarch

import "fmt"

const (
	// PageShift is the binary log of the page size used by nested tables.
	PageShift = 12

	// PageSize is the size of a single nested page.
	PageSize = 1 << PageShift

	// PageMask masks the offset within a page.
	PageMask = PageSize - 1
)

// Address is the set of address kinds an AddrRange may be built over.
type Address interface {
	~uint64
}

// GuestVirtAddr is an address in a guest's first-stage virtual space.
type GuestVirtAddr uint64

// GuestPhysAddr is an address in a guest's physical space, i.e. the input of
// the nested page table.
type GuestPhysAddr uint64

// HostVirtAddr is an address in the hypervisor's virtual address space.
type HostVirtAddr uint64

// HostPhysAddr is an address in host physical memory, i.e. the output of the
// nested page table.
type HostPhysAddr uint64

// PageRoundDown returns a rounded down to the nearest page boundary.
func PageRoundDown[A Address](a A) A {
	return a &^ PageMask
}

// PageRoundUp returns a rounded up to the nearest page boundary. ok is true
// iff rounding up did not wrap around.
func PageRoundUp[A Address](a A) (addr A, ok bool) {
	addr = PageRoundDown(a + PageMask)
	ok = addr >= a
	return
}

// PageOffset returns the offset of a into its page.
func PageOffset[A Address](a A) uint64 {
	return uint64(a & PageMask)
}

// IsPageAligned returns true if a is a multiple of PageSize.
func IsPageAligned[A Address](a A) bool {
	return PageOffset(a) == 0
}

// AddLength adds the given length to a and returns the result. ok is true
// iff adding the length did not overflow.
func AddLength[A Address](a A, length uint64) (end A, ok bool) {
	end = a + A(length)
	ok = end >= a
	return
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v GuestPhysAddr) RoundDown() GuestPhysAddr { return PageRoundDown(v) }

// RoundUp returns the address rounded up to the nearest page boundary.
func (v GuestPhysAddr) RoundUp() (GuestPhysAddr, bool) { return PageRoundUp(v) }

// PageOffset returns the offset of v into its page.
func (v GuestPhysAddr) PageOffset() uint64 { return PageOffset(v) }

// IsPageAligned returns true if v is a multiple of PageSize.
func (v GuestPhysAddr) IsPageAligned() bool { return IsPageAligned(v) }

// AddLength adds length to v, reporting overflow.
func (v GuestPhysAddr) AddLength(length uint64) (GuestPhysAddr, bool) { return AddLength(v, length) }

// String implements fmt.Stringer.String.
func (v GuestPhysAddr) String() string { return fmt.Sprintf("GPA:%#x", uint64(v)) }

// RoundDown returns the address rounded down to the nearest page boundary.
func (v HostPhysAddr) RoundDown() HostPhysAddr { return PageRoundDown(v) }

// PageOffset returns the offset of v into its page.
func (v HostPhysAddr) PageOffset() uint64 { return PageOffset(v) }

// IsPageAligned returns true if v is a multiple of PageSize.
func (v HostPhysAddr) IsPageAligned() bool { return IsPageAligned(v) }

// String implements fmt.Stringer.String.
func (v HostPhysAddr) String() string { return fmt.Sprintf("HPA:%#x", uint64(v)) }

// String implements fmt.Stringer.String.
func (v GuestVirtAddr) String() string { return fmt.Sprintf("GVA:%#x", uint64(v)) }

// String implements fmt.Stringer.String.
func (v HostVirtAddr) String() string { return fmt.Sprintf("HVA:%#x", uint64(v)) }

// PhysOffset is the distance from a host-physical address to the
// host-virtual address at which the hypervisor sees the same byte.
type PhysOffset uint64

// ToVirt converts a host-physical address to a host-virtual one.
func (o PhysOffset) ToVirt(p HostPhysAddr) HostVirtAddr {
	return HostVirtAddr(uint64(p) + uint64(o))
}

// ToPhys converts a host-virtual address to a host-physical one.
func (o PhysOffset) ToPhys(v HostVirtAddr) HostPhysAddr {
	return HostPhysAddr(uint64(v) - uint64(o))
}
