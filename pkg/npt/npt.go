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

// Package npt implements second-level (nested) page tables that translate
// guest-physical addresses to host-physical frames.
//
// The address space manager consumes the PageTable interface. Table is a
// four-level radix implementation of it whose entry encoding is supplied by a
// Format, so the same walker serves Intel EPT, AMD NPT and ARM64 stage 2.
package npt

import (
	"errors"
	"fmt"
	"strings"

	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/pkg/mapping"
)

// ErrAddressTooLarge is returned by Map for guest-physical addresses the
// table cannot index and host-physical addresses a leaf cannot hold.
var ErrAddressTooLarge = errors.New("address exceeds table reach")

// PageTable is a nested page table managed one 4K page at a time.
//
// Guest-physical addresses passed to a PageTable need not be page-aligned;
// they are rounded down to the page.
type PageTable interface {
	// Map installs a translation for the page containing gpa, replacing any
	// existing one. It fails with frame.ErrOutOfMemory if an intermediate
	// table node cannot be allocated, in which case the table is unchanged.
	Map(gpa guestarch.GuestPhysAddr, hpa guestarch.HostPhysAddr, flags mapping.Flags) error

	// Unmap clears the translation for the page containing gpa and returns
	// the frame and flags it had. ok is false if there was none.
	Unmap(gpa guestarch.GuestPhysAddr) (hpa guestarch.HostPhysAddr, flags mapping.Flags, ok bool)

	// Protect replaces the flags of an existing translation. It returns
	// false if the page is not mapped.
	Protect(gpa guestarch.GuestPhysAddr, flags mapping.Flags) bool

	// Query returns the host-physical address gpa translates to, including
	// its page offset, and the flags of the translation.
	Query(gpa guestarch.GuestPhysAddr) (hpa guestarch.HostPhysAddr, flags mapping.Flags, ok bool)

	// Root returns the host-physical address of the root table node.
	Root() guestarch.HostPhysAddr

	// GuestPhysEnd returns the first guest-physical address the table
	// cannot translate.
	GuestPhysEnd() guestarch.GuestPhysAddr

	// HostPhysEnd returns the first host-physical address a translation
	// cannot point at.
	HostPhysEnd() guestarch.HostPhysAddr

	// Release frees every node, including the root. The table must not be
	// used afterwards.
	Release()
}

// Format encodes and decodes the entries of one architecture's nested
// tables.
//
// All levels use 512 64-bit entries per 4K node. Leaf entries are only ever
// installed at the last level.
type Format interface {
	fmt.Stringer

	// Leaf encodes a last-level entry mapping hpa with flags.
	Leaf(hpa guestarch.HostPhysAddr, flags mapping.Flags) uint64

	// Pointer encodes an entry pointing at the next-level node at hpa.
	Pointer(hpa guestarch.HostPhysAddr) uint64

	// Present returns true if e is a valid entry of either kind.
	Present(e uint64) bool

	// Address returns the frame or node address stored in e.
	Address(e uint64) guestarch.HostPhysAddr

	// Flags decodes the permissions and attributes of a leaf. The result
	// reflects what the hardware grants, which may be wider than what was
	// passed to Leaf when the format cannot express a combination.
	Flags(e uint64) mapping.Flags

	// HostPhysEnd returns the first host-physical address an entry cannot
	// hold.
	HostPhysEnd() guestarch.HostPhysAddr

	// RootRegister returns the value to load into the hardware register
	// that points at a table rooted at root.
	RootRegister(root guestarch.HostPhysAddr) uint64
}

// FormatNames lists the names accepted by FormatByName.
var FormatNames = []string{"ept", "npt", "stage2"}

// FormatByName returns the Format for an architecture name.
func FormatByName(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "ept", "vmx":
		return EPT{}, nil
	case "npt", "svm":
		return NPT{}, nil
	case "stage2", "arm64":
		return Stage2{VMID: 1}, nil
	default:
		return nil, fmt.Errorf("unknown nested page table format %q, valid values are: %s", name, strings.Join(FormatNames, ", "))
	}
}
