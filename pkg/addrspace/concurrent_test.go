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
	"testing"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/guestmem/pkg/guestarch"
)

func TestConcurrentTranslate(t *testing.T) {
	const (
		pages   = 256
		readers = 8
	)
	as, _ := newTestSpace(t, 0, pages*page)
	if err := as.MapLinear(gpr(0, 16*page), 0x8000_0000, rx); err != nil {
		t.Fatalf("MapLinear failed: %v", err)
	}
	lazy := gpr(16*page, pages*page)
	if err := as.MapAlloc(lazy, rw, false); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		for gpa := lazy.Start; gpa < lazy.End; gpa += page {
			if err := as.HandlePageFault(NestedPageFault{Addr: gpa, Access: guestarch.Write}); err != nil {
				return err
			}
		}
		return nil
	})
	for i := 0; i < readers; i++ {
		g.Go(func() error {
			for gpa := guestarch.GuestPhysAddr(0); gpa < lazy.End; gpa += page {
				hpa, err := as.Translate(gpa)
				switch {
				case err == nil:
					if gpa < lazy.Start && hpa != guestarch.HostPhysAddr(0x8000_0000+gpa) {
						return errors.New("linear translation changed: " + hpa.String())
					}
				case errors.Is(err, ErrUnmapped) && gpa >= lazy.Start:
					// Not faulted in yet.
				default:
					return err
				}
				if _, _, err := as.TranslateAndGetLimit(gpa, page); err != nil && !errors.Is(err, ErrUnmapped) {
					return err
				}
				_ = as.Areas()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent access failed: %v", err)
	}

	for gpa := lazy.Start; gpa < lazy.End; gpa += page {
		if _, err := as.Translate(gpa); err != nil {
			t.Errorf("Translate(%v) after faults: %v", gpa, err)
		}
	}
}
