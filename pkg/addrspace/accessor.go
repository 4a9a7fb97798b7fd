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
	"io"

	"gvisor.dev/guestmem/pkg/guestarch"
)

var (
	_ io.ReaderAt = (*AddressSpace)(nil)
	_ io.WriterAt = (*AddressSpace)(nil)
)

// TranslatedByteBuffer returns the host memory backing [gpa, gpa+length) as
// one slice per physically contiguous run. The range may span adjacent
// areas but every page in it must be populated; accessors never fault pages
// in.
//
// The slices alias guest memory and are only valid while the range stays
// mapped.
func (as *AddressSpace) TranslatedByteBuffer(gpa guestarch.GuestPhysAddr, length uint64) ([][]byte, error) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	bufs, err := as.translatedByteBuffer(gpa, length)
	if err != nil {
		return nil, addrError("translated_byte_buffer", gpa, err)
	}
	return bufs, nil
}

// Preconditions: as.mu is locked.
func (as *AddressSpace) translatedByteBuffer(gpa guestarch.GuestPhysAddr, length uint64) ([][]byte, error) {
	if as.translator == nil {
		return nil, ErrNoTranslator
	}
	if _, ok := gpa.AddLength(length); !ok {
		return nil, ErrInvalidRange
	}
	var bufs [][]byte
	for length > 0 {
		hpa, n, err := as.translateLimit(gpa, length)
		if err != nil {
			return nil, err
		}
		b, err := as.translator.Slice(hpa, n)
		if err != nil {
			return nil, err
		}
		bufs = append(bufs, b)
		gpa += guestarch.GuestPhysAddr(n)
		length -= n
	}
	return bufs, nil
}

// ReadAt implements io.ReaderAt.ReadAt. off is a guest-physical address.
func (as *AddressSpace) ReadAt(p []byte, off int64) (int, error) {
	return as.copyAt(p, off, "read", func(guest, p []byte) int { return copy(p, guest) })
}

// WriteAt implements io.WriterAt.WriteAt. off is a guest-physical address.
func (as *AddressSpace) WriteAt(p []byte, off int64) (int, error) {
	return as.copyAt(p, off, "write", func(guest, p []byte) int { return copy(guest, p) })
}

// copyAt copies between p and guest memory at off one contiguous run at a
// time, stopping at the first unmapped page.
func (as *AddressSpace) copyAt(p []byte, off int64, op string, fn func(guest, p []byte) int) (int, error) {
	if off < 0 {
		return 0, addrError(op, 0, ErrInvalidRange)
	}
	as.mu.RLock()
	defer as.mu.RUnlock()
	if as.translator == nil {
		return 0, addrError(op, guestarch.GuestPhysAddr(off), ErrNoTranslator)
	}

	gpa := guestarch.GuestPhysAddr(off)
	done := 0
	for done < len(p) {
		hpa, n, err := as.translateLimit(gpa, uint64(len(p)-done))
		if err != nil {
			return done, addrError(op, gpa, err)
		}
		b, err := as.translator.Slice(hpa, n)
		if err != nil {
			return done, addrError(op, gpa, err)
		}
		c := fn(b, p[done:])
		done += c
		gpa += guestarch.GuestPhysAddr(c)
	}
	return done, nil
}
