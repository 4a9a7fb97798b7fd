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

//go:build linux

package addrspace

import (
	"bytes"
	"errors"
	"testing"

	"gvisor.dev/guestmem/pkg/frame"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/pkg/npt"
)

const hostBase = 0x4000_0000

func newHostSpace(t *testing.T) (*AddressSpace, *frame.HostMemory) {
	t.Helper()
	hm, err := frame.NewHostMemory(hostBase, 64*page)
	if err != nil {
		t.Fatalf("NewHostMemory failed: %v", err)
	}
	as, err := New(0, 0x100000, Options{
		Frames:     hm,
		Translator: hm,
		Format:     npt.Stage2{VMID: 2},
		Logger:     testLogger(t),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		as.Release()
		if err := hm.Release(); err != nil {
			t.Errorf("Release failed: %v", err)
		}
	})
	return as, hm
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 1)
	}
	return b
}

func TestReadWriteAt(t *testing.T) {
	as, _ := newHostSpace(t)
	if err := as.MapAlloc(gpr(0x1000, 0x5000), rw, true); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	want := pattern(0x2000)
	if n, err := as.WriteAt(want, 0x1800); err != nil || n != len(want) {
		t.Fatalf("WriteAt=(%d, %v), want: (%d, nil)", n, err, len(want))
	}
	got := make([]byte, len(want))
	if n, err := as.ReadAt(got, 0x1800); err != nil || n != len(got) {
		t.Fatalf("ReadAt=(%d, %v), want: (%d, nil)", n, err, len(got))
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadAt returned different bytes than written")
	}

	bufs, err := as.TranslatedByteBuffer(0x1800, uint64(len(want)))
	if err != nil {
		t.Fatalf("TranslatedByteBuffer failed: %v", err)
	}
	if joined := bytes.Join(bufs, nil); !bytes.Equal(joined, want) {
		t.Errorf("TranslatedByteBuffer contents differ from written bytes")
	}
	for i, b := range bufs {
		if len(b) == 0 {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestReadAtUnpopulated(t *testing.T) {
	as, _ := newHostSpace(t)
	if err := as.MapAlloc(gpr(0x1000, 0x3000), rw, false); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	if err := as.HandlePageFault(NestedPageFault{Addr: 0x1000, Access: guestarch.Write}); err != nil {
		t.Fatalf("HandlePageFault failed: %v", err)
	}

	// The first page reads back as zeroes, the second is not populated.
	buf := pattern(0x1800)
	n, err := as.ReadAt(buf, 0x1000)
	wantErr(t, "ReadAt", err, ErrUnmapped)
	if n != 0x1000 {
		t.Errorf("ReadAt read %#x bytes, want: 0x1000", n)
	}
	if !bytes.Equal(buf[:n], make([]byte, n)) {
		t.Errorf("newly faulted page is not zeroed")
	}
	if _, err := as.Translate(0x2000); !errors.Is(err, ErrUnmapped) {
		t.Errorf("ReadAt populated page 0x2000")
	}
	_, err = as.TranslatedByteBuffer(0x1000, 0x1800)
	wantErr(t, "TranslatedByteBuffer", err, ErrUnmapped)
}

func TestFreedFramesZeroed(t *testing.T) {
	as, _ := newHostSpace(t)
	r := gpr(0x8000, 0xa000)
	if err := as.MapAlloc(r, rw, true); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	if _, err := as.WriteAt(pattern(0x2000), 0x8000); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := as.Unmap(r); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	if err := as.MapAlloc(r, rw, true); err != nil {
		t.Fatalf("MapAlloc failed: %v", err)
	}
	got := pattern(0x2000)
	if _, err := as.ReadAt(got, 0x8000); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, make([]byte, len(got))) {
		t.Errorf("remapped memory is not zeroed")
	}
}

func TestLinearAccess(t *testing.T) {
	as, hm := newHostSpace(t)
	// Use the top of the pool, which the allocator does not reach here.
	host := guestarch.HostPhysAddr(hostBase + 60*page)
	if err := as.MapLinear(gpr(0x40000, 0x42000), host, rw); err != nil {
		t.Fatalf("MapLinear failed: %v", err)
	}
	want := pattern(0x100)
	if _, err := as.WriteAt(want[:0x80], 0x41f80); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	b, err := hm.Slice(host+0x1f80, 0x80)
	if err != nil {
		t.Fatalf("Slice failed: %v", err)
	}
	if !bytes.Equal(b, want[:0x80]) {
		t.Errorf("host memory does not hold the written bytes")
	}
	n, err := as.WriteAt(want, 0x41f80)
	wantErr(t, "WriteAt past the area", err, ErrUnmapped)
	if n != 0x80 {
		t.Errorf("WriteAt wrote %#x bytes, want: 0x80", n)
	}
}
