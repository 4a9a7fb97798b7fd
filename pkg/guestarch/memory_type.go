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

import "fmt"

// MemoryType specifies how the host CPU caches accesses to a guest page.
type MemoryType uint8

const (
	// MemoryTypeWriteBack is normal cacheable memory:
	//
	// - x86 EPT: WB (6)
	//
	// - x86 NPT: PAT index 0
	//
	// - ARM64 stage 2: Normal, inner and outer write-back
	//
	// This memory type is appropriate for guest RAM and must be the zero
	// value for MemoryType.
	MemoryTypeWriteBack MemoryType = iota

	// MemoryTypeUncached is normal memory that bypasses the caches:
	//
	// - x86 EPT: UC (0)
	//
	// - x86 NPT: PCD | PWT
	//
	// - ARM64 stage 2: Normal non-cacheable
	MemoryTypeUncached

	// MemoryTypeDevice is memory with side effects on access, such as MMIO
	// windows. It is uncached and additionally forbids speculation and
	// reordering where the architecture can express that:
	//
	// - x86 EPT: UC (0)
	//
	// - x86 NPT: PCD | PWT
	//
	// - ARM64 stage 2: Device-nGnRnE
	MemoryTypeDevice

	// NumMemoryTypes is the number of memory types.
	NumMemoryTypes
)

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	switch mt {
	case MemoryTypeWriteBack:
		return "WriteBack"
	case MemoryTypeUncached:
		return "Uncached"
	case MemoryTypeDevice:
		return "Device"
	default:
		return fmt.Sprintf("%d", mt)
	}
}

// ShortString returns a two-character string compactly representing the
// MemoryType.
func (mt MemoryType) ShortString() string {
	switch mt {
	case MemoryTypeWriteBack:
		return "WB"
	case MemoryTypeUncached:
		return "UC"
	case MemoryTypeDevice:
		return "DV"
	default:
		return fmt.Sprintf("%02d", mt)
	}
}
