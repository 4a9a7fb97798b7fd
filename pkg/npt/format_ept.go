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

// Bits in Intel extended page table entries.
const (
	eptRead      = 1 << 0
	eptWrite     = 1 << 1
	eptExecute   = 1 << 2
	eptTypeShift = 3
	eptTypeMask  = 0x7 << eptTypeShift
	eptIgnorePAT = 1 << 6
	eptAccessed  = 1 << 8
	eptDirty     = 1 << 9

	eptTypeUC = 0
	eptTypeWB = 6

	eptPermMask = eptRead | eptWrite | eptExecute

	// eptpWalkLength is the EPTP encoding of a four-level walk.
	eptpWalkLength = (levels - 1) << 3
)

// EPT is the Intel VT-x extended page table format.
//
// An entry is present iff any of its read, write or execute bits is set.
// Write-only entries are a misconfiguration, so Leaf grants read with
// write. Device and uncached memory both map to UC.
type EPT struct{}

// String implements fmt.Stringer.String.
func (EPT) String() string { return "ept" }

// Leaf implements Format.Leaf.
func (EPT) Leaf(hpa guestarch.HostPhysAddr, flags mapping.Flags) uint64 {
	e := uint64(hpa)&x86AddressMask | eptIgnorePAT | eptAccessed
	if flags.Contains(mapping.Read) {
		e |= eptRead
	}
	if flags.Contains(mapping.Write) {
		e |= eptRead | eptWrite | eptDirty
	}
	if flags.Contains(mapping.Execute) {
		e |= eptExecute
	}
	if flags.MemoryType() == guestarch.MemoryTypeWriteBack {
		e |= eptTypeWB << eptTypeShift
	} else {
		e |= eptTypeUC << eptTypeShift
	}
	return e
}

// Pointer implements Format.Pointer.
func (EPT) Pointer(hpa guestarch.HostPhysAddr) uint64 {
	return uint64(hpa)&x86AddressMask | eptPermMask
}

// Present implements Format.Present.
func (EPT) Present(e uint64) bool {
	return e&eptPermMask != 0
}

// Address implements Format.Address.
func (EPT) Address(e uint64) guestarch.HostPhysAddr {
	return guestarch.HostPhysAddr(e & x86AddressMask)
}

// Flags implements Format.Flags.
func (EPT) Flags(e uint64) mapping.Flags {
	var f mapping.Flags
	if e&eptRead != 0 {
		f |= mapping.Read
	}
	if e&eptWrite != 0 {
		f |= mapping.Write
	}
	if e&eptExecute != 0 {
		f |= mapping.Execute
	}
	if (e&eptTypeMask)>>eptTypeShift == eptTypeUC {
		f |= mapping.Uncached
	}
	return f
}

// HostPhysEnd implements Format.HostPhysEnd.
func (EPT) HostPhysEnd() guestarch.HostPhysAddr { return x86AddressMask + guestarch.PageSize }

// RootRegister implements Format.RootRegister. The result is an EPTP with a
// write-back paging structure memory type and a four-level walk.
func (EPT) RootRegister(root guestarch.HostPhysAddr) uint64 {
	return uint64(root)&x86AddressMask | eptpWalkLength | eptTypeWB
}
