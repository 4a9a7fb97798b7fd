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

package npt

import (
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/pkg/mapping"
)

// Bits in x86-64 page table entries, as used by AMD nested paging.
const (
	present        = 0x001
	writable       = 0x002
	user           = 0x004
	writeThrough   = 0x008
	cacheDisable   = 0x010
	accessed       = 0x020
	dirty          = 0x040
	executeDisable = 1 << 63

	x86AddressMask = 0x000ffffffffff000
)

// NPT is the AMD-V nested paging format. Entries are ordinary long-mode
// page table entries.
//
// Nested walks are performed as user accesses, so every entry has the user
// bit set and mapping.User cannot be expressed. A present entry is always
// readable.
type NPT struct{}

// String implements fmt.Stringer.String.
func (NPT) String() string { return "npt" }

// Leaf implements Format.Leaf.
func (NPT) Leaf(hpa guestarch.HostPhysAddr, flags mapping.Flags) uint64 {
	e := uint64(hpa)&x86AddressMask | present | user | accessed
	if flags.Contains(mapping.Write) {
		e |= writable | dirty
	}
	if !flags.Contains(mapping.Execute) {
		e |= executeDisable
	}
	if flags.MemoryType() != guestarch.MemoryTypeWriteBack {
		e |= cacheDisable | writeThrough
	}
	return e
}

// Pointer implements Format.Pointer.
func (NPT) Pointer(hpa guestarch.HostPhysAddr) uint64 {
	return uint64(hpa)&x86AddressMask | present | writable | user | accessed
}

// Present implements Format.Present.
func (NPT) Present(e uint64) bool {
	return e&present != 0
}

// Address implements Format.Address.
func (NPT) Address(e uint64) guestarch.HostPhysAddr {
	return guestarch.HostPhysAddr(e & x86AddressMask)
}

// Flags implements Format.Flags.
func (NPT) Flags(e uint64) mapping.Flags {
	f := mapping.Read
	if e&writable != 0 {
		f |= mapping.Write
	}
	if e&executeDisable == 0 {
		f |= mapping.Execute
	}
	if e&cacheDisable != 0 {
		f |= mapping.Uncached
	}
	return f
}

// HostPhysEnd implements Format.HostPhysEnd.
func (NPT) HostPhysEnd() guestarch.HostPhysAddr { return x86AddressMask + guestarch.PageSize }

// RootRegister implements Format.RootRegister. The result is the nCR3 value
// stored in the VMCB.
func (NPT) RootRegister(root guestarch.HostPhysAddr) uint64 {
	return uint64(root) & x86AddressMask
}
