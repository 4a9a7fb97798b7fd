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
	"fmt"
	"sync/atomic"

	"gvisor.dev/guestmem/pkg/guestarch"
)

// Counting wraps an Allocator, counting calls and optionally failing once a
// number of allocations has been made.
type Counting struct {
	// Allocator is the underlying allocator.
	Allocator Allocator

	// limit is one more than the allocation count at which AllocFrame
	// starts returning ErrOutOfMemory, or zero for no limit. See SetLimit.
	limit atomic.Int64

	allocs atomic.Int64
	frees  atomic.Int64
}

// NewCounting returns a Counting wrapper around a.
func NewCounting(a Allocator) *Counting {
	return &Counting{Allocator: a}
}

// SetLimit sets the number of further successful allocations permitted
// before AllocFrame fails. A negative value removes the limit.
func (c *Counting) SetLimit(n int64) {
	if n < 0 {
		c.limit.Store(0)
		return
	}
	c.limit.Store(c.allocs.Load() + n + 1)
}

// AllocFrame implements Allocator.AllocFrame.
func (c *Counting) AllocFrame() (guestarch.HostPhysAddr, error) {
	if l := c.limit.Load(); l != 0 && c.allocs.Load()+1 >= l {
		return 0, fmt.Errorf("allocation limit reached after %d frames: %w", c.allocs.Load(), ErrOutOfMemory)
	}
	p, err := c.Allocator.AllocFrame()
	if err != nil {
		return 0, err
	}
	c.allocs.Add(1)
	return p, nil
}

// FreeFrame implements Allocator.FreeFrame.
func (c *Counting) FreeFrame(p guestarch.HostPhysAddr) {
	c.Allocator.FreeFrame(p)
	c.frees.Add(1)
}

// Allocs returns the number of successful allocations.
func (c *Counting) Allocs() int64 {
	return c.allocs.Load()
}

// Frees returns the number of frees.
func (c *Counting) Frees() int64 {
	return c.frees.Load()
}

// Live returns the number of frames allocated through c and not yet freed.
func (c *Counting) Live() int64 {
	return c.allocs.Load() - c.frees.Load()
}
