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
	"fmt"
	"unsafe"

	"gvisor.dev/guestmem/pkg/guestarch"
)

// allocNode allocates and zeroes a new node.
func (t *Table) allocNode() (*node, error) {
	p, err := t.allocator.AllocFrame()
	if err != nil {
		return nil, err
	}
	if p >= t.format.HostPhysEnd() {
		t.allocator.FreeFrame(p)
		return nil, fmt.Errorf("node frame %v: %w", p, ErrAddressTooLarge)
	}
	n := &node{physical: p}
	if t.translator != nil {
		b, err := t.translator.Slice(p, guestarch.PageSize)
		if err != nil {
			t.allocator.FreeFrame(p)
			return nil, err
		}
		n.ptes = (*PTEs)(unsafe.Pointer(&b[0]))
		*n.ptes = PTEs{}
	} else {
		n.ptes = new(PTEs)
	}
	t.allNodes[p] = n
	return n, nil
}
