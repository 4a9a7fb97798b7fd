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

package frame

import (
	"errors"
	"testing"

	"gvisor.dev/guestmem/pkg/guestarch"
)

func TestBitmapAllocator(t *testing.T) {
	a := NewBitmapAllocator(0x100000, 3)
	seen := make(map[guestarch.HostPhysAddr]bool)
	for i := 0; i < 3; i++ {
		p, err := a.AllocFrame()
		if err != nil {
			t.Fatalf("AllocFrame #%d failed: %v", i, err)
		}
		if !p.IsPageAligned() || !a.Range().Contains(p) {
			t.Errorf("AllocFrame returned %v outside %v", p, a.Range())
		}
		if seen[p] {
			t.Errorf("AllocFrame returned %v twice", p)
		}
		seen[p] = true
	}
	if _, err := a.AllocFrame(); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("AllocFrame on a full pool err=%v, want: %v", err, ErrOutOfMemory)
	}
	if got := a.Allocated(); got != 3 {
		t.Errorf("Allocated() = %d, want: 3", got)
	}

	a.FreeFrame(0x101000)
	p, err := a.AllocFrame()
	if err != nil {
		t.Fatalf("AllocFrame after free failed: %v", err)
	}
	if p != 0x101000 {
		t.Errorf("AllocFrame = %v, want the freed frame %v", p, guestarch.HostPhysAddr(0x101000))
	}
}

func TestBitmapAllocatorDoubleFree(t *testing.T) {
	a := NewBitmapAllocator(0, 1)
	p, err := a.AllocFrame()
	if err != nil {
		t.Fatalf("AllocFrame failed: %v", err)
	}
	a.FreeFrame(p)
	defer func() {
		if recover() == nil {
			t.Errorf("double free did not panic")
		}
	}()
	a.FreeFrame(p)
}

func TestCountingLimit(t *testing.T) {
	c := NewCounting(NewBitmapAllocator(0, 16))
	c.SetLimit(2)
	var got []guestarch.HostPhysAddr
	for i := 0; i < 2; i++ {
		p, err := c.AllocFrame()
		if err != nil {
			t.Fatalf("AllocFrame #%d failed: %v", i, err)
		}
		got = append(got, p)
	}
	if _, err := c.AllocFrame(); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("AllocFrame past limit err=%v, want: %v", err, ErrOutOfMemory)
	}
	if c.Allocs() != 2 || c.Live() != 2 {
		t.Errorf("Allocs=%d Live=%d, want: 2, 2", c.Allocs(), c.Live())
	}
	c.FreeFrame(got[0])
	if c.Frees() != 1 || c.Live() != 1 {
		t.Errorf("Frees=%d Live=%d, want: 1, 1", c.Frees(), c.Live())
	}
	c.SetLimit(-1)
	if _, err := c.AllocFrame(); err != nil {
		t.Errorf("AllocFrame without limit failed: %v", err)
	}
}
