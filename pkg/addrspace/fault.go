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

	"gvisor.dev/guestmem/pkg/guestarch"
)

// NestedPageFault describes a second-level translation fault reported by
// the hardware.
type NestedPageFault struct {
	// Addr is the faulting guest-physical address. It need not be
	// page-aligned.
	Addr guestarch.GuestPhysAddr

	// Access is the type of access that faulted.
	Access guestarch.AccessType
}

// String implements fmt.Stringer.String.
func (f NestedPageFault) String() string {
	return fmt.Sprintf("nested page fault at %v (%v)", f.Addr, f.Access)
}
