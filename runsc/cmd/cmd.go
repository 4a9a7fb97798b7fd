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

// Package cmd holds implementations of the guestmem commands.
package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gvisor.dev/guestmem/pkg/addrspace"
	"gvisor.dev/guestmem/pkg/cleanup"
	"gvisor.dev/guestmem/pkg/frame"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/pkg/log"
	"gvisor.dev/guestmem/runsc/config"
)

// framePoolBase is the host-physical address of the first frame in the pool.
const framePoolBase = guestarch.HostPhysAddr(0x100000000)

// vm is an address space built from the configured layout.
type vm struct {
	conf   *config.Config
	layout *config.Layout
	as     *addrspace.AddressSpace
	frames *frame.Counting

	// mem is set when the pool is backed by host memory.
	mem *frame.HostMemory

	cu cleanup.Cleanup
}

// newVM loads the layout named by conf and maps it into a new address space.
func newVM(conf *config.Config) (*vm, error) {
	if conf.LayoutFile == "" {
		return nil, fmt.Errorf("--layout is required")
	}
	l, err := config.LoadLayout(conf.LayoutFile)
	if err != nil {
		return nil, err
	}

	v := &vm{conf: conf, layout: l}
	cu := cleanup.Make(v.release)
	defer cu.Clean()

	var (
		pool       frame.Allocator
		translator frame.Translator
	)
	if conf.HostMemory {
		mem, err := frame.NewHostMemory(framePoolBase, conf.FramePool)
		if err != nil {
			return nil, err
		}
		v.mem = mem
		v.cu.Add(func() {
			if err := mem.Release(); err != nil {
				log.Warningf("Releasing host memory: %v", err)
			}
		})
		pool, translator = mem, mem
	} else {
		pool = frame.NewBitmapAllocator(framePoolBase, uint32(conf.FramePool>>guestarch.PageShift))
	}
	v.frames = frame.NewCounting(pool)

	interval := conf.FaultLogRate
	if interval <= 0 {
		interval = -1
	}
	as, err := addrspace.New(guestarch.GuestPhysAddr(l.Base), l.Size, addrspace.Options{
		Frames:           v.frames,
		Format:           conf.NPTFormat.Format,
		Translator:       translator,
		FaultLogInterval: interval,
	})
	if err != nil {
		return nil, err
	}
	v.as = as
	v.cu.Add(as.Release)

	if err := l.Apply(as); err != nil {
		return nil, err
	}
	log.Infof("Mapped %d regions, %d frames in use", as.Len(), v.frames.Live())

	cu.Release()
	return v, nil
}

// release frees the address space and the frame pool.
func (v *vm) release() {
	v.cu.Clean()
}

// rootRegister returns the value the hardware root pointer would hold.
func (v *vm) rootRegister() uint64 {
	return v.conf.NPTFormat.RootRegister(v.as.RootPaddr())
}

// parseAddr parses a guest-physical address in any base strconv accepts.
// Underscores are allowed as digit separators when the base is prefixed.
func parseAddr(s string) (guestarch.GuestPhysAddr, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return guestarch.GuestPhysAddr(v), nil
}

// parseAccess parses an access letter as used in fault traces.
func parseAccess(s string) (guestarch.AccessType, error) {
	switch strings.ToLower(s) {
	case "r":
		return guestarch.AccessType{Read: true}, nil
	case "w":
		return guestarch.AccessType{Write: true}, nil
	case "x":
		return guestarch.AccessType{Execute: true}, nil
	default:
		return guestarch.AccessType{}, fmt.Errorf("invalid access %q, must be r, w or x", s)
	}
}

// elapsed formats the time since start for command summaries.
func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Microsecond).String()
}
