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
	"fmt"

	"gvisor.dev/guestmem/pkg/frame"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/pkg/mapping"
)

// Table geometry. All supported formats use four levels of 512 entries with
// a 4K granule, covering a 48-bit guest-physical space.
const (
	levels         = 4
	entriesPerPage = 512

	pteShift = 12
	pmdShift = 21
	pudShift = 30
	pgdShift = 39

	// maxAddress is the first guest-physical address the table cannot
	// index.
	maxAddress = uint64(1) << 48
)

// GuestPhysEnd is the first guest-physical address a Table cannot
// translate.
const GuestPhysEnd = guestarch.GuestPhysAddr(maxAddress)

var shifts = [levels]uint{pgdShift, pudShift, pmdShift, pteShift}

// PTEs is a single node's worth of entries.
type PTEs [entriesPerPage]uint64

// node is a single node within a set of page tables.
type node struct {
	// ptes are the node's entries. They live in the frame at physical when
	// the table has a Translator, and on the Go heap otherwise.
	ptes *PTEs

	// physical is the frame holding this node.
	physical guestarch.HostPhysAddr

	// valid is the number of present entries.
	valid uint16
}

// Table is a nested page table built from frames of a frame.Allocator.
//
// Intermediate nodes are allocated on demand by Map and freed as soon as
// their last entry is cleared, so a table with no translations consists of
// its root alone.
//
// Table does no locking. Concurrent Query calls are safe; every other call
// must be serialized by the owner.
type Table struct {
	format     Format
	allocator  frame.Allocator
	translator frame.Translator

	// root is the pagetable root.
	root *node

	// allNodes is a set of nodes indexed by physical address.
	allNodes map[guestarch.HostPhysAddr]*node
}

var _ PageTable = (*Table)(nil)

// New returns a Table with a freshly allocated root node.
//
// If translator is nil, node contents are kept on the Go heap and the table
// is only walkable in software. Otherwise nodes are stored in the frames
// themselves and the root may be handed to hardware.
func New(format Format, allocator frame.Allocator, translator frame.Translator) (*Table, error) {
	t := &Table{
		format:     format,
		allocator:  allocator,
		translator: translator,
		allNodes:   make(map[guestarch.HostPhysAddr]*node),
	}
	root, err := t.allocNode()
	if err != nil {
		return nil, fmt.Errorf("allocating root node: %w", err)
	}
	t.root = root
	return t, nil
}

// Format returns the entry format of the table.
func (t *Table) Format() Format {
	return t.format
}

// Root implements PageTable.Root.
func (t *Table) Root() guestarch.HostPhysAddr {
	return t.root.physical
}

// GuestPhysEnd implements PageTable.GuestPhysEnd.
func (t *Table) GuestPhysEnd() guestarch.GuestPhysAddr {
	return GuestPhysEnd
}

// HostPhysEnd implements PageTable.HostPhysEnd.
func (t *Table) HostPhysEnd() guestarch.HostPhysAddr {
	return t.format.HostPhysEnd()
}

// RootRegister returns the architecture register value for this table, e.g.
// an EPTP, nCR3 or VTTBR.
func (t *Table) RootRegister() uint64 {
	return t.format.RootRegister(t.root.physical)
}

// Nodes returns the number of nodes in the table, including the root.
func (t *Table) Nodes() int {
	return len(t.allNodes)
}

func index(addr uint64, level int) int {
	return int((addr >> shifts[level]) & (entriesPerPage - 1))
}

// walk returns the nodes on the path from the root to the last level for
// addr. If alloc is set, missing nodes are created; otherwise the path ends
// with nil at the first missing level.
//
// If allocation fails, every node created by this call is freed again.
func (t *Table) walk(addr uint64, alloc bool) (path [levels]*node, err error) {
	n := t.root
	path[0] = n
	for level := 0; level < levels-1; level++ {
		i := index(addr, level)
		e := n.ptes[i]
		var child *node
		if t.format.Present(e) {
			child = t.allNodes[t.format.Address(e)]
			if child == nil {
				panic(fmt.Sprintf("entry %#x at level %d index %d points at an unknown node", e, level, i))
			}
		} else {
			if !alloc {
				return path, nil
			}
			child, err = t.allocNode()
			if err != nil {
				t.prune(path, addr)
				return path, err
			}
			n.ptes[i] = t.format.Pointer(child.physical)
			n.valid++
		}
		path[level+1] = child
		n = child
	}
	return path, nil
}

// prune frees empty non-root nodes on path, deepest first.
func (t *Table) prune(path [levels]*node, addr uint64) {
	for level := levels - 1; level > 0; level-- {
		n := path[level]
		if n == nil {
			continue
		}
		if n.valid != 0 {
			return
		}
		parent := path[level-1]
		parent.ptes[index(addr, level-1)] = 0
		parent.valid--
		t.freeNode(n)
	}
}

// Map implements PageTable.Map.
func (t *Table) Map(gpa guestarch.GuestPhysAddr, hpa guestarch.HostPhysAddr, flags mapping.Flags) error {
	addr := uint64(gpa.RoundDown())
	if addr >= maxAddress {
		return fmt.Errorf("%v: %w", gpa, ErrAddressTooLarge)
	}
	if hpa.RoundDown() >= t.format.HostPhysEnd() {
		return fmt.Errorf("%v -> %v: %w", gpa, hpa, ErrAddressTooLarge)
	}
	path, err := t.walk(addr, true)
	if err != nil {
		return fmt.Errorf("mapping %v: %w", gpa, err)
	}
	leaf := path[levels-1]
	i := index(addr, levels-1)
	if !t.format.Present(leaf.ptes[i]) {
		leaf.valid++
	}
	leaf.ptes[i] = t.format.Leaf(hpa.RoundDown(), flags)
	return nil
}

// lookup returns the path to the leaf entry for addr, the entry's index in
// the last node, and whether the entry is present.
func (t *Table) lookup(addr uint64) (path [levels]*node, i int, ok bool) {
	if addr >= maxAddress {
		return path, 0, false
	}
	path, _ = t.walk(addr, false)
	leaf := path[levels-1]
	if leaf == nil {
		return path, 0, false
	}
	i = index(addr, levels-1)
	return path, i, t.format.Present(leaf.ptes[i])
}

// Unmap implements PageTable.Unmap.
func (t *Table) Unmap(gpa guestarch.GuestPhysAddr) (guestarch.HostPhysAddr, mapping.Flags, bool) {
	addr := uint64(gpa.RoundDown())
	path, i, ok := t.lookup(addr)
	if !ok {
		return 0, mapping.Empty, false
	}
	leaf := path[levels-1]
	e := leaf.ptes[i]
	leaf.ptes[i] = 0
	leaf.valid--
	t.prune(path, addr)
	return t.format.Address(e), t.format.Flags(e), true
}

// Protect implements PageTable.Protect.
func (t *Table) Protect(gpa guestarch.GuestPhysAddr, flags mapping.Flags) bool {
	path, i, ok := t.lookup(uint64(gpa.RoundDown()))
	if !ok {
		return false
	}
	leaf := path[levels-1]
	leaf.ptes[i] = t.format.Leaf(t.format.Address(leaf.ptes[i]), flags)
	return true
}

// Query implements PageTable.Query.
func (t *Table) Query(gpa guestarch.GuestPhysAddr) (guestarch.HostPhysAddr, mapping.Flags, bool) {
	path, i, ok := t.lookup(uint64(gpa.RoundDown()))
	if !ok {
		return 0, mapping.Empty, false
	}
	e := path[levels-1].ptes[i]
	return t.format.Address(e) + guestarch.HostPhysAddr(gpa.PageOffset()), t.format.Flags(e), true
}

// Walk calls fn for every present translation in ascending guest-physical
// order until fn returns false.
func (t *Table) Walk(fn func(gpa guestarch.GuestPhysAddr, hpa guestarch.HostPhysAddr, flags mapping.Flags) bool) {
	t.walkNode(t.root, 0, 0, fn)
}

func (t *Table) walkNode(n *node, level int, base uint64, fn func(guestarch.GuestPhysAddr, guestarch.HostPhysAddr, mapping.Flags) bool) bool {
	if n.valid == 0 {
		return true
	}
	for i, e := range n.ptes {
		if !t.format.Present(e) {
			continue
		}
		addr := base | uint64(i)<<shifts[level]
		if level == levels-1 {
			if !fn(guestarch.GuestPhysAddr(addr), t.format.Address(e), t.format.Flags(e)) {
				return false
			}
			continue
		}
		if !t.walkNode(t.allNodes[t.format.Address(e)], level+1, addr, fn) {
			return false
		}
	}
	return true
}

// Release implements PageTable.Release.
func (t *Table) Release() {
	for _, n := range t.allNodes {
		t.freeNode(n)
	}
	t.root = nil
}

func (t *Table) freeNode(n *node) {
	delete(t.allNodes, n.physical)
	n.ptes = nil
	t.allocator.FreeFrame(n.physical)
}
