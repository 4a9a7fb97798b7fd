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

// Package device defines the address kinds through which a guest reaches
// emulated devices: guest-physical MMIO addresses, x86 I/O ports and ARM64
// system registers.
package device

import (
	"fmt"

	"gvisor.dev/guestmem/pkg/guestarch"
)

// Port is an x86 I/O port number.
type Port uint16

// String implements fmt.Stringer.String.
func (p Port) String() string {
	return fmt.Sprintf("Port(%#x)", uint16(p))
}

// SysRegAddr is an encoded system register address.
type SysRegAddr uint64

// String implements fmt.Stringer.String.
func (s SysRegAddr) String() string {
	return fmt.Sprintf("SysRegAddr(%#x)", uint64(s))
}

// Addr is the set of device address kinds.
type Addr interface {
	guestarch.GuestPhysAddr | Port | SysRegAddr
}

// AddrRange is a set of device addresses. It need not be contiguous.
type AddrRange[A Addr] interface {
	// Contains returns true if addr is in the range.
	Contains(addr A) bool
}

var (
	_ AddrRange[guestarch.GuestPhysAddr] = guestarch.GuestPhysRange{}
	_ AddrRange[Port]                    = PortRange{}
	_ AddrRange[SysRegAddr]              = SysRegAddrRange{}
)

// inclusiveRange is a range that includes both ends.
type inclusiveRange[A Port | SysRegAddr] struct {
	// Start is the first address in the range.
	Start A

	// End is the last address in the range.
	End A
}

// Contains implements AddrRange.Contains.
func (r inclusiveRange[A]) Contains(addr A) bool {
	return r.Start <= addr && addr <= r.End
}

// String implements fmt.Stringer.String.
func (r inclusiveRange[A]) String() string {
	return fmt.Sprintf("%#x..=%#x", uint64(r.Start), uint64(r.End))
}

// PortRange is an inclusive range of I/O ports.
type PortRange = inclusiveRange[Port]

// SysRegAddrRange is an inclusive range of system register addresses.
type SysRegAddrRange = inclusiveRange[SysRegAddr]

// NewPortRange returns [start, end].
func NewPortRange(start, end Port) PortRange {
	return PortRange{Start: start, End: end}
}

// NewSysRegAddrRange returns [start, end].
func NewSysRegAddrRange(start, end SysRegAddr) SysRegAddrRange {
	return SysRegAddrRange{Start: start, End: end}
}

// Find returns the index of the first range containing addr, or -1.
func Find[A Addr, R AddrRange[A]](ranges []R, addr A) int {
	for i, r := range ranges {
		if r.Contains(addr) {
			return i
		}
	}
	return -1
}
