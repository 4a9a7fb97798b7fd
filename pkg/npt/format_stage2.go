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

// Bits in ARM64 stage-2 descriptors (4K granule).
const (
	s2Valid = 1 << 0
	s2Table = 1 << 1 // Also the page bit at level 3.

	s2MemAttrShift = 2
	s2MemAttrMask  = 0xf << s2MemAttrShift

	s2APRead  = 1 << 6
	s2APWrite = 1 << 7

	s2ShareInner = 3 << 8
	s2AF         = 1 << 10
	s2XN         = 1 << 54

	// MemAttr[3:0] encodings (FEAT_S2FWB disabled).
	s2DeviceNGnRnE = 0x0
	s2NormalNC     = 0x5
	s2NormalWB     = 0xf

	s2AddressMask = 0x0000fffffffff000

	vttbrVMIDShift = 48
)

// Stage2 is the ARM64 stage-2 translation format.
type Stage2 struct {
	// VMID tags TLB entries of this guest.
	VMID uint16
}

// String implements fmt.Stringer.String.
func (Stage2) String() string { return "stage2" }

// Leaf implements Format.Leaf.
func (Stage2) Leaf(hpa guestarch.HostPhysAddr, flags mapping.Flags) uint64 {
	e := uint64(hpa)&s2AddressMask | s2Valid | s2Table | s2AF
	switch flags.MemoryType() {
	case guestarch.MemoryTypeDevice:
		e |= s2DeviceNGnRnE << s2MemAttrShift
	case guestarch.MemoryTypeUncached:
		e |= s2NormalNC<<s2MemAttrShift | s2ShareInner
	default:
		e |= s2NormalWB<<s2MemAttrShift | s2ShareInner
	}
	if flags.Contains(mapping.Read) {
		e |= s2APRead
	}
	if flags.Contains(mapping.Write) {
		e |= s2APWrite
	}
	if !flags.Contains(mapping.Execute) {
		e |= s2XN
	}
	return e
}

// Pointer implements Format.Pointer.
func (Stage2) Pointer(hpa guestarch.HostPhysAddr) uint64 {
	return uint64(hpa)&s2AddressMask | s2Valid | s2Table
}

// Present implements Format.Present.
func (Stage2) Present(e uint64) bool {
	return e&s2Valid != 0
}

// Address implements Format.Address.
func (Stage2) Address(e uint64) guestarch.HostPhysAddr {
	return guestarch.HostPhysAddr(e & s2AddressMask)
}

// Flags implements Format.Flags.
func (Stage2) Flags(e uint64) mapping.Flags {
	var f mapping.Flags
	if e&s2APRead != 0 {
		f |= mapping.Read
	}
	if e&s2APWrite != 0 {
		f |= mapping.Write
	}
	if e&s2XN == 0 {
		f |= mapping.Execute
	}
	switch (e & s2MemAttrMask) >> s2MemAttrShift {
	case s2DeviceNGnRnE:
		f |= mapping.Device | mapping.Uncached
	case s2NormalNC:
		f |= mapping.Uncached
	}
	return f
}

// HostPhysEnd implements Format.HostPhysEnd.
func (Stage2) HostPhysEnd() guestarch.HostPhysAddr { return s2AddressMask + guestarch.PageSize }

// RootRegister implements Format.RootRegister. The result is a VTTBR_EL2
// value carrying the VMID.
func (s Stage2) RootRegister(root guestarch.HostPhysAddr) uint64 {
	return uint64(root)&s2AddressMask | uint64(s.VMID)<<vttbrVMIDShift
}
