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
	"fmt"

	"github.com/google/btree"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/pkg/mapping"
)

// Area is one mapped region of an address space.
type Area struct {
	// Range is the guest-physical range of the area.
	Range guestarch.GuestPhysRange

	// Flags are the permissions and attributes of every page in the area.
	Flags mapping.Flags

	// Backend produces the area's translations.
	Backend Backend
}

// String implements fmt.Stringer.String.
func (a Area) String() string {
	return fmt.Sprintf("%v %v %v", a.Range, a.Flags, a.Backend)
}

// btreeDegree is the degree of the area tree. Address spaces hold few
// areas, so a small degree keeps nodes compact.
const btreeDegree = 8

// areaSet is a set of non-overlapping areas ordered by start address.
type areaSet struct {
	tree *btree.BTreeG[*Area]
}

func areaLess(a, b *Area) bool {
	return a.Range.Start < b.Range.Start
}

func newAreaSet() areaSet {
	return areaSet{tree: btree.NewG(btreeDegree, areaLess)}
}

func key(gpa guestarch.GuestPhysAddr) *Area {
	return &Area{Range: guestarch.GuestPhysRange{Start: gpa, End: gpa}}
}

// find returns the area containing gpa, or nil.
func (s *areaSet) find(gpa guestarch.GuestPhysAddr) *Area {
	var found *Area
	s.tree.DescendLessOrEqual(key(gpa), func(a *Area) bool {
		if a.Range.Contains(gpa) {
			found = a
		}
		return false
	})
	return found
}

// exact returns the area whose range is exactly r, or nil.
func (s *areaSet) exact(r guestarch.GuestPhysRange) *Area {
	a, ok := s.tree.Get(key(r.Start))
	if !ok || a.Range != r {
		return nil
	}
	return a
}

// overlapping returns an area overlapping r, or nil.
func (s *areaSet) overlapping(r guestarch.GuestPhysRange) *Area {
	var found *Area
	// The last area starting at or before r.Start.
	s.tree.DescendLessOrEqual(key(r.Start), func(a *Area) bool {
		if a.Range.Overlaps(r) {
			found = a
		}
		return false
	})
	if found != nil {
		return found
	}
	// The first area starting after r.Start.
	s.tree.AscendGreaterOrEqual(key(r.Start), func(a *Area) bool {
		if a.Range.Overlaps(r) {
			found = a
		}
		return false
	})
	return found
}

func (s *areaSet) insert(a *Area) {
	if old, ok := s.tree.ReplaceOrInsert(a); ok {
		panic(fmt.Sprintf("area %v replaced existing area %v", a, old))
	}
}

func (s *areaSet) remove(a *Area) {
	if _, ok := s.tree.Delete(a); !ok {
		panic(fmt.Sprintf("removing unknown area %v", a))
	}
}

// ascend calls fn for every area in start order until fn returns false.
func (s *areaSet) ascend(fn func(a *Area) bool) {
	s.tree.Ascend(fn)
}

func (s *areaSet) len() int {
	return s.tree.Len()
}

func (s *areaSet) clear() {
	s.tree.Clear(false)
}
