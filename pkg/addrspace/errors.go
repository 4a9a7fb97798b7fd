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
	"errors"
	"fmt"

	"gvisor.dev/guestmem/pkg/frame"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/pkg/mapping"
)

// Errors returned by AddressSpace operations, wrapped in *Error. Use
// errors.Is to test for them.
var (
	// ErrInvalidRange is returned for malformed or empty ranges.
	ErrInvalidRange = guestarch.ErrInvalidRange

	// ErrOverlap is returned when a new mapping intersects an existing
	// area.
	ErrOverlap = errors.New("range overlaps an existing area")

	// ErrOutOfRange is returned when a range is not inside the address
	// space.
	ErrOutOfRange = errors.New("range outside the address space")

	// ErrNotMapped is returned by Unmap and Protect when the range does not
	// match a mapped area exactly.
	ErrNotMapped = errors.New("range does not match a mapped area")

	// ErrUnmapped is returned when an address has no translation or no
	// area.
	ErrUnmapped = errors.New("address not mapped")

	// ErrPermissionDenied is returned when a fault's access type is not
	// permitted by the area's flags.
	ErrPermissionDenied = errors.New("access not permitted by area flags")

	// ErrOutOfMemory is returned when the frame allocator is exhausted.
	ErrOutOfMemory = frame.ErrOutOfMemory

	// ErrInconsistentState is returned when a fault is delegated to a
	// backend that can never fault. It means the page table and the area
	// set disagree, and callers should treat the VM as failed.
	ErrInconsistentState = errors.New("page table and area state disagree")

	// ErrUnaligned is returned for addresses or sizes that are not
	// page-aligned.
	ErrUnaligned = errors.New("address or size not page aligned")

	// ErrUnknownFlags is returned for flags with bits outside mapping.All.
	ErrUnknownFlags = mapping.ErrUnknownFlags

	// ErrNoAccess is returned for flags granting no access, and for faults
	// with an empty access type. Entries without access are not present in
	// every table format.
	ErrNoAccess = errors.New("mapping flags grant no access")

	// ErrReleased is returned by map operations after Release.
	ErrReleased = errors.New("address space released")

	// ErrNoTranslator is returned by guest memory accessors when the
	// address space has no frame.Translator.
	ErrNoTranslator = errors.New("address space has no host translator")
)

// Error is the error type returned by AddressSpace operations.
type Error struct {
	// Op is the operation that failed, e.g. "map_alloc".
	Op string

	// Range is the guest-physical range the operation was applied to. It
	// is empty, with Start set, for single-address operations.
	Range guestarch.GuestPhysRange

	// Err is the underlying error.
	Err error
}

// Error implements error.Error.
func (e *Error) Error() string {
	if e.Range.IsEmpty() {
		return fmt.Sprintf("%s %v: %v", e.Op, e.Range.Start, e.Err)
	}
	return fmt.Sprintf("%s %v: %v", e.Op, e.Range, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func rangeError(op string, r guestarch.GuestPhysRange, err error) error {
	return &Error{Op: op, Range: r, Err: err}
}

func addrError(op string, gpa guestarch.GuestPhysAddr, err error) error {
	return &Error{Op: op, Range: guestarch.GuestPhysRange{Start: gpa, End: gpa}, Err: err}
}
