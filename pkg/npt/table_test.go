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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/guestmem/pkg/frame"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/pkg/mapping"
)

const (
	pteSize = 1 << pteShift
	pmdSize = 1 << pmdShift
	pudSize = 1 << pudShift
	pgdSize = 1 << pgdShift
)

var formats = []Format{EPT{}, NPT{}, Stage2{VMID: 3}}

type translation struct {
	GPA   guestarch.GuestPhysAddr
	HPA   guestarch.HostPhysAddr
	Flags mapping.Flags
}

func newTestTable(t *testing.T, f Format) (*Table, *frame.Counting) {
	t.Helper()
	frames := frame.NewCounting(frame.NewBitmapAllocator(0x100000, 64))
	pt, err := New(f, frames, nil)
	if err != nil {
		t.Fatalf("New(%v) failed: %v", f, err)
	}
	return pt, frames
}

func checkMappings(t *testing.T, pt *Table, want []translation) {
	t.Helper()
	var got []translation
	pt.Walk(func(gpa guestarch.GuestPhysAddr, hpa guestarch.HostPhysAddr, flags mapping.Flags) bool {
		got = append(got, translation{gpa, hpa, flags})
		return true
	})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("%v: mappings mismatch (-want +got):\n%s", pt.Format(), diff)
	}
}

func TestAllLevels(t *testing.T) {
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			pt, _ := newTestTable(t, f)
			rw := mapping.Read | mapping.Write
			addrs := []guestarch.GuestPhysAddr{
				0,
				pteSize,
				pmdSize,
				pudSize,
				pgdSize,
				pgdSize*3 + pudSize*2 + pmdSize + pteSize*7,
			}
			var want []translation
			for i, a := range addrs {
				hpa := guestarch.HostPhysAddr(0x4000_0000 + i*pteSize)
				if err := pt.Map(a, hpa, rw); err != nil {
					t.Fatalf("Map(%v) failed: %v", a, err)
				}
				want = append(want, translation{a, hpa, rw})
			}
			checkMappings(t, pt, want)
		})
	}
}

func TestUnmapPrunes(t *testing.T) {
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			pt, frames := newTestTable(t, f)
			if got := pt.Nodes(); got != 1 {
				t.Fatalf("Nodes()=%d, want: 1", got)
			}
			gpa := guestarch.GuestPhysAddr(pgdSize + pudSize + pmdSize)
			if err := pt.Map(gpa, 0x7000, mapping.Read); err != nil {
				t.Fatalf("Map failed: %v", err)
			}
			if err := pt.Map(gpa+pteSize, 0x8000, mapping.Read); err != nil {
				t.Fatalf("Map failed: %v", err)
			}
			if got := pt.Nodes(); got != levels {
				t.Errorf("Nodes()=%d, want: %d", got, levels)
			}

			hpa, flags, ok := pt.Unmap(gpa)
			if !ok || hpa != 0x7000 || flags != mapping.Read {
				t.Errorf("Unmap(%v)=(%v, %v, %t), want: (%v, %v, true)", gpa, hpa, flags, ok, guestarch.HostPhysAddr(0x7000), mapping.Read)
			}
			if got := pt.Nodes(); got != levels {
				t.Errorf("Nodes() with one entry left=%d, want: %d", got, levels)
			}
			if _, _, ok := pt.Unmap(gpa); ok {
				t.Errorf("second Unmap(%v) succeeded", gpa)
			}
			if _, _, ok := pt.Unmap(gpa + pteSize); !ok {
				t.Errorf("Unmap(%v) failed", gpa+pteSize)
			}
			if got := pt.Nodes(); got != 1 {
				t.Errorf("Nodes() after unmapping all=%d, want: 1", got)
			}
			if got := frames.Live(); got != 1 {
				t.Errorf("Live()=%d, want: 1", got)
			}
			checkMappings(t, pt, nil)

			pt.Release()
			if got := frames.Live(); got != 0 {
				t.Errorf("Live() after Release=%d, want: 0", got)
			}
		})
	}
}

func TestMapOutOfMemory(t *testing.T) {
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			pt, frames := newTestTable(t, f)
			if err := pt.Map(0, 0x9000, mapping.Read); err != nil {
				t.Fatalf("Map failed: %v", err)
			}
			nodes := pt.Nodes()

			// A fresh 512G region needs three new nodes; allow only two.
			frames.SetLimit(2)
			err := pt.Map(pgdSize*5, 0xa000, mapping.Read)
			if !errors.Is(err, frame.ErrOutOfMemory) {
				t.Fatalf("Map()=%v, want: %v", err, frame.ErrOutOfMemory)
			}
			if got := pt.Nodes(); got != nodes {
				t.Errorf("Nodes() after failed Map=%d, want: %d", got, nodes)
			}
			if got := frames.Live(); got != int64(nodes) {
				t.Errorf("Live() after failed Map=%d, want: %d", got, nodes)
			}
			checkMappings(t, pt, []translation{{0, 0x9000, mapping.Read}})
		})
	}
}

func TestMapTooLarge(t *testing.T) {
	pt, _ := newTestTable(t, EPT{})
	if err := pt.Map(guestarch.GuestPhysAddr(maxAddress), 0x1000, mapping.Read); !errors.Is(err, ErrAddressTooLarge) {
		t.Errorf("Map(%#x)=%v, want: %v", maxAddress, err, ErrAddressTooLarge)
	}
	if _, _, ok := pt.Query(guestarch.GuestPhysAddr(maxAddress)); ok {
		t.Errorf("Query(%#x) succeeded", maxAddress)
	}
}

func TestMapHostTooLarge(t *testing.T) {
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			pt, _ := newTestTable(t, f)
			end := pt.HostPhysEnd()
			if err := pt.Map(0x1000, end, mapping.Read); !errors.Is(err, ErrAddressTooLarge) {
				t.Errorf("Map(0x1000, %v)=%v, want: %v", end, err, ErrAddressTooLarge)
			}
			if _, _, ok := pt.Query(0x1000); ok {
				t.Errorf("Query(0x1000) succeeded after rejected Map")
			}
			last := end - guestarch.PageSize
			if err := pt.Map(0x1000, last, mapping.Read); err != nil {
				t.Fatalf("Map(0x1000, %v) failed: %v", last, err)
			}
			if hpa, _, ok := pt.Query(0x1000); !ok || hpa != last {
				t.Errorf("Query(0x1000)=%v,%v, want: %v,true", hpa, ok, last)
			}
		})
	}
}

func TestGuestPhysEnd(t *testing.T) {
	pt, _ := newTestTable(t, NPT{})
	if got := pt.GuestPhysEnd(); got != GuestPhysEnd {
		t.Errorf("GuestPhysEnd()=%v, want: %v", got, GuestPhysEnd)
	}
	if err := pt.Map(GuestPhysEnd-guestarch.PageSize, 0x2000, mapping.Read); err != nil {
		t.Errorf("Map(%v) failed: %v", GuestPhysEnd-guestarch.PageSize, err)
	}
}

func TestQueryOffset(t *testing.T) {
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			pt, _ := newTestTable(t, f)
			flags := mapping.Read | mapping.Execute
			if err := pt.Map(0x20000, 0x5000, flags); err != nil {
				t.Fatalf("Map failed: %v", err)
			}
			hpa, got, ok := pt.Query(0x20123)
			if !ok {
				t.Fatalf("Query(0x20123) not mapped")
			}
			if hpa != 0x5123 {
				t.Errorf("Query(0x20123) hpa=%v, want: %v", hpa, guestarch.HostPhysAddr(0x5123))
			}
			if got != flags {
				t.Errorf("Query(0x20123) flags=%v, want: %v", got, flags)
			}
			if _, _, ok := pt.Query(0x21000); ok {
				t.Errorf("Query(0x21000) succeeded on an unmapped page")
			}
		})
	}
}

func TestProtect(t *testing.T) {
	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			pt, _ := newTestTable(t, f)
			if pt.Protect(0x3000, mapping.Read) {
				t.Errorf("Protect on an unmapped page succeeded")
			}
			if err := pt.Map(0x3000, 0x6000, mapping.Read|mapping.Write); err != nil {
				t.Fatalf("Map failed: %v", err)
			}
			if !pt.Protect(0x3000, mapping.Read) {
				t.Fatalf("Protect failed")
			}
			checkMappings(t, pt, []translation{{0x3000, 0x6000, mapping.Read}})
		})
	}
}

func TestWalkStops(t *testing.T) {
	pt, _ := newTestTable(t, NPT{})
	for i := 0; i < 4; i++ {
		a := guestarch.GuestPhysAddr(i * pmdSize)
		if err := pt.Map(a, guestarch.HostPhysAddr(a), mapping.Read); err != nil {
			t.Fatalf("Map(%v) failed: %v", a, err)
		}
	}
	n := 0
	pt.Walk(func(guestarch.GuestPhysAddr, guestarch.HostPhysAddr, mapping.Flags) bool {
		n++
		return n < 2
	})
	if n != 2 {
		t.Errorf("Walk visited %d entries, want: 2", n)
	}
}

func TestFormatByName(t *testing.T) {
	for _, tc := range []struct {
		name string
		want Format
	}{
		{"ept", EPT{}},
		{"VMX", EPT{}},
		{"npt", NPT{}},
		{"svm", NPT{}},
		{"stage2", Stage2{VMID: 1}},
		{"arm64", Stage2{VMID: 1}},
	} {
		got, err := FormatByName(tc.name)
		if err != nil {
			t.Errorf("FormatByName(%q) failed: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("FormatByName(%q)=%v, want: %v", tc.name, got, tc.want)
		}
	}
	if _, err := FormatByName("mips"); err == nil {
		t.Errorf("FormatByName(mips) succeeded")
	}
}
