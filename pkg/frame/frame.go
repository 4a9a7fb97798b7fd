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

// Package frame provides host-physical frame allocation for guest memory and
// nested page table nodes.
package frame

import (
	"errors"

	"gvisor.dev/guestmem/pkg/guestarch"
)

// ErrOutOfMemory is returned when no frame can be allocated.
var ErrOutOfMemory = errors.New("out of physical frames")

// Allocator hands out page-sized, page-aligned host-physical frames.
//
// Implementations must be safe for concurrent use.
type Allocator interface {
	// AllocFrame allocates one frame. It returns ErrOutOfMemory (possibly
	// wrapped) if none is available.
	AllocFrame() (guestarch.HostPhysAddr, error)

	// FreeFrame returns a frame previously returned by AllocFrame.
	FreeFrame(guestarch.HostPhysAddr)
}

// Translator gives the hypervisor access to the bytes behind host-physical
// addresses.
type Translator interface {
	// PhysToVirt returns the host-virtual address of p.
	PhysToVirt(p guestarch.HostPhysAddr) guestarch.HostVirtAddr

	// Slice returns the host memory for [p, p+length). The range must not
	// cross the end of the memory known to the Translator.
	Slice(p guestarch.HostPhysAddr, length uint64) ([]byte, error)
}
