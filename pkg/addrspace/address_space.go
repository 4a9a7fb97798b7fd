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

// Package addrspace manages the guest-physical address space of a virtual
// machine.
//
// An AddressSpace owns a nested page table and an ordered set of
// non-overlapping areas. Each area is backed either linearly, at a fixed
// offset into host-physical memory, or by frames from a frame.Allocator that
// are allocated up front or on the first nested page fault.
//
// Every mutating operation either succeeds completely or leaves the address
// space, its page table and the frame allocator exactly as they were.
package addrspace

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gvisor.dev/guestmem/pkg/frame"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/pkg/log"
	"gvisor.dev/guestmem/pkg/mapping"
	"gvisor.dev/guestmem/pkg/npt"
)

// DefaultFaultLogInterval is the minimum interval between warnings about
// rejected faults when Options.FaultLogInterval is zero.
const DefaultFaultLogInterval = time.Second

// Options configure New.
type Options struct {
	// Frames supplies frames for allocation-backed areas and, when
	// PageTable is nil, for page table nodes. It is required.
	Frames frame.Allocator

	// PageTable is the nested page table to manage. If nil, an npt.Table
	// using Format is created from Frames.
	PageTable npt.PageTable

	// Format is the entry format of the created table. It defaults to
	// npt.EPT and is ignored when PageTable is set.
	Format npt.Format

	// Translator gives access to the contents of host-physical frames. It
	// is needed by the guest memory accessors only.
	Translator frame.Translator

	// Logger receives debug and warning messages. It defaults to the global
	// logger.
	Logger log.Logger

	// FaultLogInterval limits the rate of warnings about rejected faults.
	// A negative value disables the limit.
	FaultLogInterval time.Duration
}

// AddressSpace is the guest-physical address space of one VM.
//
// Translate, TranslateAndGetLimit, Areas and the guest memory accessors may
// be called concurrently with each other. All other methods are serialized.
type AddressSpace struct {
	// rng is the bound of every area. It is immutable.
	rng guestarch.GuestPhysRange

	frames     frame.Allocator
	translator frame.Translator
	log        log.Logger
	faultLog   log.Logger

	// mu protects the fields below, and the contents of pt.
	mu sync.RWMutex

	// areas are the mapped areas.
	areas areaSet

	// pt is the nested page table. It is nil after Release.
	pt npt.PageTable
}

// New returns an empty address space covering [base, base+size).
func New(base guestarch.GuestPhysAddr, size uint64, opts Options) (*AddressSpace, error) {
	rng, err := guestarch.RangeFromSize(base, size)
	if err != nil {
		return nil, rangeError("new", guestarch.GuestPhysRange{Start: base, End: base}, err)
	}
	if !rng.IsPageAligned() {
		return nil, rangeError("new", rng, ErrUnaligned)
	}
	if opts.Frames == nil {
		return nil, errors.New("address space requires a frame allocator")
	}
	if opts.Logger == nil {
		opts.Logger = log.Log()
	}
	interval := opts.FaultLogInterval
	if interval == 0 {
		interval = DefaultFaultLogInterval
	}
	pt := opts.PageTable
	if pt == nil {
		format := opts.Format
		if format == nil {
			format = npt.EPT{}
		}
		t, err := npt.New(format, opts.Frames, opts.Translator)
		if err != nil {
			return nil, rangeError("new", rng, err)
		}
		pt = t
	}
	if rng.End > pt.GuestPhysEnd() {
		if opts.PageTable == nil {
			pt.Release()
		}
		return nil, rangeError("new", rng, fmt.Errorf("%w: table reach ends at %v", ErrOutOfRange, pt.GuestPhysEnd()))
	}
	as := &AddressSpace{
		rng:        rng,
		frames:     opts.Frames,
		translator: opts.Translator,
		log:        opts.Logger,
		faultLog:   log.RateLimitedLogger(opts.Logger, interval),
		areas:      newAreaSet(),
		pt:         pt,
	}
	as.log.Infof("Created address space %v, root %v", rng, pt.Root())
	return as, nil
}

// Base returns the first address of the address space.
func (as *AddressSpace) Base() guestarch.GuestPhysAddr {
	return as.rng.Start
}

// End returns the end of the address space, exclusive.
func (as *AddressSpace) End() guestarch.GuestPhysAddr {
	return as.rng.End
}

// Size returns the size of the address space in bytes.
func (as *AddressSpace) Size() uint64 {
	return as.rng.Length()
}

// Range returns the range covered by the address space.
func (as *AddressSpace) Range() guestarch.GuestPhysRange {
	return as.rng
}

// ContainsRange returns true if r lies inside the address space.
func (as *AddressSpace) ContainsRange(r guestarch.GuestPhysRange) bool {
	return r.WellFormed() && as.rng.IsSupersetOf(r)
}

// RootPaddr returns the host-physical address of the root of the nested
// page table, or zero after Release.
func (as *AddressSpace) RootPaddr() guestarch.HostPhysAddr {
	as.mu.RLock()
	defer as.mu.RUnlock()
	if as.pt == nil {
		return 0
	}
	return as.pt.Root()
}

// PageTable returns the nested page table, or nil after Release. Callers
// must not modify it.
func (as *AddressSpace) PageTable() npt.PageTable {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.pt
}

// Len returns the number of mapped areas.
func (as *AddressSpace) Len() int {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.areas.len()
}

// Areas returns a snapshot of the mapped areas in address order.
func (as *AddressSpace) Areas() []Area {
	as.mu.RLock()
	defer as.mu.RUnlock()
	areas := make([]Area, 0, as.areas.len())
	as.areas.ascend(func(a *Area) bool {
		areas = append(areas, *a)
		return true
	})
	return areas
}

// checkBounds validates a range passed to a map operation. Alignment is
// checked by mapArea, after overlap.
func (as *AddressSpace) checkBounds(r guestarch.GuestPhysRange) error {
	if !r.WellFormed() || r.IsEmpty() {
		return ErrInvalidRange
	}
	if !as.rng.IsSupersetOf(r) {
		return ErrOutOfRange
	}
	return nil
}

// checkFlags validates flags passed in at the API boundary.
func checkFlags(flags mapping.Flags) error {
	if _, err := mapping.FromBits(flags.Bits()); err != nil {
		return err
	}
	if !flags.Access().Any() {
		return ErrNoAccess
	}
	return nil
}

// MapLinear maps r to host-physical memory starting at hostPhys. Every page
// is mapped immediately.
func (as *AddressSpace) MapLinear(r guestarch.GuestPhysRange, hostPhys guestarch.HostPhysAddr, flags mapping.Flags) error {
	const op = "map_linear"
	if err := as.checkBounds(r); err != nil {
		return rangeError(op, r, err)
	}
	if _, ok := guestarch.AddLength(hostPhys, r.Length()); !ok {
		return rangeError(op, r, ErrInvalidRange)
	}
	if err := checkFlags(flags); err != nil {
		return rangeError(op, r, err)
	}
	return as.mapArea(op, &Area{
		Range:   r,
		Flags:   flags,
		Backend: NewLinearBackend(int64(hostPhys) - int64(r.Start)),
	})
}

// MapAlloc maps r to frames from the frame allocator. If populate is set,
// every frame is allocated and mapped now; otherwise pages are populated by
// HandlePageFault on first access.
func (as *AddressSpace) MapAlloc(r guestarch.GuestPhysRange, flags mapping.Flags, populate bool) error {
	const op = "map_alloc"
	if err := as.checkBounds(r); err != nil {
		return rangeError(op, r, err)
	}
	if err := checkFlags(flags); err != nil {
		return rangeError(op, r, err)
	}
	return as.mapArea(op, &Area{
		Range:   r,
		Flags:   flags,
		Backend: NewAllocBackend(populate),
	})
}

func (as *AddressSpace) mapArea(op string, a *Area) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.pt == nil {
		return rangeError(op, a.Range, ErrReleased)
	}
	if other := as.areas.overlapping(a.Range); other != nil {
		return rangeError(op, a.Range, fmt.Errorf("%w: %v", ErrOverlap, other.Range))
	}
	if !a.Range.IsPageAligned() {
		return rangeError(op, a.Range, ErrUnaligned)
	}
	if a.Backend.Kind() == Linear {
		hpa := a.Backend.linearAddr(a.Range.Start)
		if !hpa.IsPageAligned() {
			return rangeError(op, a.Range, ErrUnaligned)
		}
		if end, ok := guestarch.AddLength(hpa, a.Range.Length()); !ok || end > as.pt.HostPhysEnd() {
			return rangeError(op, a.Range, fmt.Errorf("%w: host memory ends at %v", ErrOutOfRange, as.pt.HostPhysEnd()))
		}
	}
	if err := a.Backend.mapRange(a.Range, a.Flags, as.pt, as.frames); err != nil {
		if as.log.IsLogging(log.Debug) {
			as.log.Debugf("%s %v failed: %v", op, a.Range, err)
		}
		return rangeError(op, a.Range, err)
	}
	as.areas.insert(a)
	if as.log.IsLogging(log.Debug) {
		as.log.Debugf("%s %v", op, a)
	}
	return nil
}

// Unmap removes the area whose range is exactly r and releases its frames.
func (as *AddressSpace) Unmap(r guestarch.GuestPhysRange) error {
	const op = "unmap"
	if !r.WellFormed() {
		return rangeError(op, r, ErrInvalidRange)
	}
	if !r.IsPageAligned() {
		return rangeError(op, r, ErrUnaligned)
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	a := as.areas.exact(r)
	if a == nil {
		return rangeError(op, r, ErrNotMapped)
	}
	freed := a.Backend.unmapRange(a.Range, as.pt, as.frames)
	as.areas.remove(a)
	if as.log.IsLogging(log.Debug) {
		as.log.Debugf("%s %v, %d frames freed", op, a, freed)
	}
	return nil
}

// Protect replaces the flags of the area whose range is exactly r and
// applies them to its populated pages. Pages populated later get the new
// flags when they are faulted in.
func (as *AddressSpace) Protect(r guestarch.GuestPhysRange, flags mapping.Flags) error {
	const op = "protect"
	if !r.WellFormed() {
		return rangeError(op, r, ErrInvalidRange)
	}
	if !r.IsPageAligned() {
		return rangeError(op, r, ErrUnaligned)
	}
	if err := checkFlags(flags); err != nil {
		return rangeError(op, r, err)
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	a := as.areas.exact(r)
	if a == nil {
		return rangeError(op, r, ErrNotMapped)
	}
	updated := a.Backend.protectRange(a.Range, flags, as.pt)
	old := a.Flags
	a.Flags = flags
	if as.log.IsLogging(log.Debug) {
		as.log.Debugf("%s %v: %v -> %v, %d pages updated", op, r, old, flags, updated)
	}
	return nil
}

// Translate returns the host-physical address gpa is mapped to. It never
// populates a page.
func (as *AddressSpace) Translate(gpa guestarch.GuestPhysAddr) (guestarch.HostPhysAddr, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	if as.pt == nil || !as.rng.Contains(gpa) {
		return 0, addrError("translate", gpa, ErrUnmapped)
	}
	hpa, _, ok := as.pt.Query(gpa)
	if !ok {
		return 0, addrError("translate", gpa, ErrUnmapped)
	}
	return hpa, nil
}

// TranslateAndGetLimit returns the host-physical address gpa is mapped to
// and the number of bytes from gpa that are mapped physically contiguously
// by the same area. The count stops at the end of the area, at an
// unpopulated page, at a physical discontinuity, or after length bytes,
// whichever comes first. A zero length is unlimited.
func (as *AddressSpace) TranslateAndGetLimit(gpa guestarch.GuestPhysAddr, length uint64) (guestarch.HostPhysAddr, uint64, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	hpa, n, err := as.translateLimit(gpa, length)
	if err != nil {
		return 0, 0, addrError("translate", gpa, err)
	}
	return hpa, n, nil
}

// Preconditions: as.mu is locked.
func (as *AddressSpace) translateLimit(gpa guestarch.GuestPhysAddr, length uint64) (guestarch.HostPhysAddr, uint64, error) {
	if !as.rng.Contains(gpa) {
		return 0, 0, ErrUnmapped
	}
	a := as.areas.find(gpa)
	if a == nil {
		return 0, 0, ErrUnmapped
	}
	hpa, _, ok := as.pt.Query(gpa)
	if !ok {
		return 0, 0, ErrUnmapped
	}
	limit := uint64(a.Range.End - gpa)
	if length != 0 && length < limit {
		limit = length
	}
	return hpa, a.Backend.contiguous(gpa, hpa, limit, as.pt), nil
}

// HandlePageFault resolves a nested page fault.
//
// It returns ErrUnmapped if no area contains the address and
// ErrPermissionDenied if the area's flags do not allow the access; the
// caller decides whether to inject a fault into the guest or stop the VM.
// A fault with no access type fails with ErrNoAccess.
// ErrInconsistentState means the fault should not have occurred at all.
func (as *AddressSpace) HandlePageFault(f NestedPageFault) error {
	const op = "fault"
	if !f.Access.Any() {
		return addrError(op, f.Addr, ErrNoAccess)
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	var a *Area
	if as.rng.Contains(f.Addr) {
		a = as.areas.find(f.Addr)
	}
	if a == nil {
		as.faultLog.Warningf("%v outside any area", f)
		return addrError(op, f.Addr, ErrUnmapped)
	}
	populated, err := a.Backend.handleFault(f.Addr, f.Access, a.Flags, as.pt, as.frames)
	if err != nil {
		switch {
		case errors.Is(err, ErrInconsistentState):
			as.log.Warningf("%v in area %v: %v", f, a, err)
		case errors.Is(err, ErrPermissionDenied):
			as.faultLog.Warningf("%v in area %v: %v", f, a, err)
		}
		return addrError(op, f.Addr, err)
	}
	if as.log.IsLogging(log.Debug) {
		as.log.Debugf("%v resolved in area %v (populated: %t)", f, a, populated)
	}
	return nil
}

// Clear unmaps every area and frees every frame they own. The address space
// keeps its range and page table root.
func (as *AddressSpace) Clear() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.clearLocked()
}

// Preconditions: as.mu is locked.
func (as *AddressSpace) clearLocked() {
	freed := 0
	as.areas.ascend(func(a *Area) bool {
		freed += a.Backend.unmapRange(a.Range, as.pt, as.frames)
		return true
	})
	n := as.areas.len()
	as.areas.clear()
	if n != 0 {
		as.log.Debugf("Cleared %d areas, %d frames freed", n, freed)
	}
}

// Release clears the address space and frees the page table. The address
// space must not be used afterwards.
func (as *AddressSpace) Release() {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.pt == nil {
		return
	}
	as.clearLocked()
	as.pt.Release()
	as.pt = nil
}

// String implements fmt.Stringer.String.
func (as *AddressSpace) String() string {
	as.mu.RLock()
	defer as.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "AddressSpace{range: %v", as.rng)
	if as.pt != nil {
		fmt.Fprintf(&b, ", root: %v", as.pt.Root())
	}
	b.WriteString(", areas: [")
	first := true
	as.areas.ascend(func(a *Area) bool {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(a.String())
		return true
	})
	b.WriteString("]}")
	return b.String()
}
