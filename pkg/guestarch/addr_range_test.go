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

package guestarch

import (
	"errors"
	"testing"
)

func TestNewAddrRange(t *testing.T) {
	for _, tc := range []struct {
		start, end GuestPhysAddr
		wantErr    bool
	}{
		{0, 0, false},
		{0x1000, 0x3000, false},
		{0x3000, 0x1000, true},
	} {
		r, err := NewAddrRange(tc.start, tc.end)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidRange) {
				t.Errorf("NewAddrRange(%#x, %#x) err=%v, want: %v", tc.start, tc.end, err, ErrInvalidRange)
			}
			continue
		}
		if err != nil {
			t.Errorf("NewAddrRange(%#x, %#x) failed: %v", tc.start, tc.end, err)
			continue
		}
		if r.StartInclusive() != tc.start || r.EndExclusive() != tc.end {
			t.Errorf("NewAddrRange(%#x, %#x) = %v", tc.start, tc.end, r)
		}
	}
}

func TestRangeFromSizeOverflow(t *testing.T) {
	if _, err := RangeFromSize(HostPhysAddr(^uint64(0)-PageSize+1), 2*PageSize); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("RangeFromSize overflow err=%v, want: %v", err, ErrInvalidRange)
	}
	r, err := RangeFromSize(GuestPhysAddr(0x1000), 0x2000)
	if err != nil {
		t.Fatalf("RangeFromSize failed: %v", err)
	}
	if want := (GuestPhysRange{0x1000, 0x3000}); r != want {
		t.Errorf("RangeFromSize = %v, want: %v", r, want)
	}
	if got := r.Pages(); got != 2 {
		t.Errorf("Pages() = %d, want: 2", got)
	}
}

func TestContains(t *testing.T) {
	r := GuestPhysRange{0x1000, 0x3000}
	for _, tc := range []struct {
		addr GuestPhysAddr
		want bool
	}{
		{0xfff, false},
		{0x1000, true},
		{0x2fff, true},
		{0x3000, false},
	} {
		if got := r.Contains(tc.addr); got != tc.want {
			t.Errorf("%v.Contains(%#x) = %v, want: %v", r, tc.addr, got, tc.want)
		}
	}
}

func TestOverlaps(t *testing.T) {
	r := GuestPhysRange{0x1000, 0x3000}
	for _, tc := range []struct {
		other GuestPhysRange
		want  bool
	}{
		{GuestPhysRange{0, 0x1000}, false},
		{GuestPhysRange{0, 0x1001}, true},
		{GuestPhysRange{0x2000, 0x2500}, true},
		{GuestPhysRange{0x2fff, 0x4000}, true},
		{GuestPhysRange{0x3000, 0x4000}, false},
		{GuestPhysRange{0x2000, 0x2000}, false},
		{GuestPhysRange{0x1000, 0x1000}, false},
		{GuestPhysRange{0, 0x10000}, true},
	} {
		if got := r.Overlaps(tc.other); got != tc.want {
			t.Errorf("%v.Overlaps(%v) = %v, want: %v", r, tc.other, got, tc.want)
		}
		if got := tc.other.Overlaps(r); got != tc.want {
			t.Errorf("%v.Overlaps(%v) = %v, want: %v", tc.other, r, got, tc.want)
		}
	}
}

func TestIntersect(t *testing.T) {
	r := GuestPhysRange{0x1000, 0x3000}
	if got, want := r.Intersect(GuestPhysRange{0x2000, 0x5000}), (GuestPhysRange{0x2000, 0x3000}); got != want {
		t.Errorf("Intersect = %v, want: %v", got, want)
	}
	if got := r.Intersect(GuestPhysRange{0x4000, 0x5000}); !got.IsEmpty() {
		t.Errorf("Intersect of disjoint ranges = %v, want empty", got)
	}
	if !r.IsSupersetOf(GuestPhysRange{0x1000, 0x2000}) || r.IsSupersetOf(GuestPhysRange{0x0, 0x2000}) {
		t.Errorf("IsSupersetOf mismatch for %v", r)
	}
}

func TestRounding(t *testing.T) {
	a := GuestPhysAddr(0x1500)
	if got := a.RoundDown(); got != 0x1000 {
		t.Errorf("RoundDown(%v) = %v", a, got)
	}
	if got, ok := a.RoundUp(); !ok || got != 0x2000 {
		t.Errorf("RoundUp(%v) = %v, %v", a, got, ok)
	}
	if got := a.PageOffset(); got != 0x500 {
		t.Errorf("PageOffset(%v) = %#x", a, got)
	}
	if _, ok := GuestPhysAddr(^uint64(0)).RoundUp(); ok {
		t.Errorf("RoundUp of max address should wrap")
	}
}

func TestPhysOffset(t *testing.T) {
	o := PhysOffset(0xffff800000000000)
	p := HostPhysAddr(0x1234000)
	v := o.ToVirt(p)
	if v != 0xffff800001234000 {
		t.Errorf("ToVirt(%v) = %v", p, v)
	}
	if got := o.ToPhys(v); got != p {
		t.Errorf("ToPhys(%v) = %v, want: %v", v, got, p)
	}
}

func TestAccessType(t *testing.T) {
	if got := ReadWrite.String(); got != "rw-" {
		t.Errorf("ReadWrite.String() = %q", got)
	}
	if !AnyAccess.SupersetOf(Execute) || Read.SupersetOf(Write) {
		t.Errorf("SupersetOf mismatch")
	}
	if NoAccess.Any() {
		t.Errorf("NoAccess.Any() = true")
	}
}
