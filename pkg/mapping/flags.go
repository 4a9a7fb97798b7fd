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

// Package mapping defines the permission and attribute flags attached to a
// guest-physical mapping.
//
// Flags is a fixed-width bitset. Only the named bits are meaningful; how a
// raw bit pattern containing other bits is treated is decided explicitly by
// the constructor used:
//
//   - FromBits is strict and fails with ErrUnknownFlags.
//   - FromBitsTruncate silently drops unknown bits.
//   - FromBitsRetain keeps every bit, for forward compatibility.
//
// Address space entry points validate strictly; everything below them passes
// flags through unchanged.
package mapping

import (
	"errors"
	"fmt"
	"strings"

	"gvisor.dev/guestmem/pkg/bits"
	"gvisor.dev/guestmem/pkg/guestarch"
)

// Flags is a set of mapping permissions and attributes.
type Flags uint32

// Named flag bits.
const (
	// Read permits loads.
	Read Flags = 1 << iota

	// Write permits stores.
	Write

	// Execute permits instruction fetches.
	Execute

	// User permits access from guest user mode, where the nested format
	// can express it.
	User

	// Device marks the range as device memory (MMIO).
	Device

	// Uncached disables caching for the range.
	Uncached
)

// Empty is the empty set.
const Empty Flags = 0

// All is the set of every named flag.
const All = Read | Write | Execute | User | Device | Uncached

// ErrUnknownFlags is returned by strict construction when a raw value has
// bits outside All.
var ErrUnknownFlags = errors.New("unknown mapping flags")

var flagNames = [...]string{
	"read",
	"write",
	"execute",
	"user",
	"device",
	"uncached",
}

// FromBits returns raw as Flags, or ErrUnknownFlags if raw has any bit set
// outside All.
func FromBits(raw uint32) (Flags, error) {
	f := Flags(raw)
	if unknown := f &^ All; unknown != 0 {
		return Empty, fmt.Errorf("%#x: %w", uint32(unknown), ErrUnknownFlags)
	}
	return f, nil
}

// FromBitsTruncate returns raw with every unknown bit cleared.
func FromBitsTruncate(raw uint32) Flags {
	return Flags(raw) & All
}

// FromBitsRetain returns raw unchanged, unknown bits included.
func FromBitsRetain(raw uint32) Flags {
	return Flags(raw)
}

// Parse builds Flags from names such as "read" or "write". Single-letter
// aliases r, w, x, u are accepted. Unknown names are an error.
func Parse(names []string) (Flags, error) {
	var f Flags
	for _, name := range names {
		switch n := strings.ToLower(strings.TrimSpace(name)); n {
		case "r":
			f |= Read
		case "w":
			f |= Write
		case "x":
			f |= Execute
		case "u":
			f |= User
		default:
			found := false
			for i, fn := range flagNames {
				if fn == n {
					f |= Flags(1) << i
					found = true
					break
				}
			}
			if !found {
				return Empty, fmt.Errorf("flag %q: %w", name, ErrUnknownFlags)
			}
		}
	}
	return f, nil
}

// ForAccess returns the flags an access of type at requires.
func ForAccess(at guestarch.AccessType) Flags {
	var f Flags
	if at.Read {
		f |= Read
	}
	if at.Write {
		f |= Write
	}
	if at.Execute {
		f |= Execute
	}
	return f
}

// Bits returns the raw value.
func (f Flags) Bits() uint32 {
	return uint32(f)
}

// Union returns f ∪ o.
func (f Flags) Union(o Flags) Flags {
	return f | o
}

// Intersect returns f ∩ o.
func (f Flags) Intersect(o Flags) Flags {
	return f & o
}

// Difference returns the flags in f that are not in o.
func (f Flags) Difference(o Flags) Flags {
	return f &^ o
}

// Complement returns the named flags not in f. Unknown bits in f never
// appear in the result.
func (f Flags) Complement() Flags {
	return All &^ f
}

// Contains returns true if every flag in o is also in f.
func (f Flags) Contains(o Flags) bool {
	return bits.IsOn(f, o)
}

// IsSupersetOf is an alias of Contains.
func (f Flags) IsSupersetOf(o Flags) bool {
	return f.Contains(o)
}

// Intersects returns true if f and o share any flag.
func (f Flags) Intersects(o Flags) bool {
	return bits.IsAnyOn(f, o)
}

// IsEmpty returns true if no bit is set.
func (f Flags) IsEmpty() bool {
	return f == Empty
}

// Access returns the access permissions in f.
func (f Flags) Access() guestarch.AccessType {
	return guestarch.AccessType{
		Read:    f.Contains(Read),
		Write:   f.Contains(Write),
		Execute: f.Contains(Execute),
	}
}

// MemoryType returns the caching behavior implied by the attribute bits.
func (f Flags) MemoryType() guestarch.MemoryType {
	switch {
	case f.Contains(Device):
		return guestarch.MemoryTypeDevice
	case f.Contains(Uncached):
		return guestarch.MemoryTypeUncached
	default:
		return guestarch.MemoryTypeWriteBack
	}
}

// Names returns the names of the named flags set in f, in bit order.
func (f Flags) Names() []string {
	var names []string
	bits.ForEachSetBit(f&All, func(i int) {
		names = append(names, flagNames[i])
	})
	return names
}

// String implements fmt.Stringer.String. It looks like "rw-" followed by any
// attribute names, e.g. "r-x|user" or "rw-|device|uncached".
func (f Flags) String() string {
	var sb strings.Builder
	sb.WriteString(f.Access().String())
	for _, name := range f.Difference(Read | Write | Execute).Names() {
		sb.WriteByte('|')
		sb.WriteString(name)
	}
	if unknown := f &^ All; unknown != 0 {
		fmt.Fprintf(&sb, "|%#x", uint32(unknown))
	}
	return sb.String()
}
