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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"gvisor.dev/guestmem/pkg/addrspace"
	"gvisor.dev/guestmem/pkg/cleanup"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/pkg/log"
	"gvisor.dev/guestmem/pkg/mapping"
)

// Region kinds.
const (
	KindLinear = "linear"
	KindAlloc  = "alloc"
)

// Layout describes the guest-physical memory of a VM.
//
// Example (TOML):
//
//	base = 0x0
//	size = 0x40000000
//
//	[[region]]
//	name = "ram"
//	kind = "alloc"
//	start = 0x0
//	size = 0x8000000
//	flags = ["read", "write", "execute"]
type Layout struct {
	// Base is the first guest-physical address of the address space.
	Base uint64 `toml:"base" yaml:"base"`

	// Size is the size in bytes of the address space.
	Size uint64 `toml:"size" yaml:"size"`

	// Regions are mapped in order by Apply.
	Regions []Region `toml:"region" yaml:"regions"`

	// Ports are the I/O port ranges of emulated devices.
	Ports []DeviceRange `toml:"port" yaml:"ports"`

	// SysRegs are the system register ranges of emulated devices.
	SysRegs []DeviceRange `toml:"sysreg" yaml:"sysregs"`
}

// Region is a single mapped area of the layout.
type Region struct {
	Name  string `toml:"name" yaml:"name"`
	Kind  string `toml:"kind" yaml:"kind"`
	Start uint64 `toml:"start" yaml:"start"`
	Size  uint64 `toml:"size" yaml:"size"`

	// HostPhys is the host-physical address a linear region starts at.
	HostPhys uint64 `toml:"host_phys" yaml:"host_phys"`

	// Flags are mapping flag names, e.g. "read" or "w".
	Flags []string `toml:"flags" yaml:"flags"`

	// Populate makes an alloc region allocate all of its frames up front.
	Populate bool `toml:"populate" yaml:"populate"`
}

// Range returns the guest-physical range covered by the region.
func (r *Region) Range() (guestarch.GuestPhysRange, error) {
	return guestarch.RangeFromSize(guestarch.GuestPhysAddr(r.Start), r.Size)
}

func (r *Region) String() string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%s@%#x", r.Kind, r.Start)
}

// LoadLayout reads a layout from path. The format is chosen by extension:
// .toml, or .yaml and .yml. Unknown keys are an error in both.
func LoadLayout(path string) (*Layout, error) {
	var l Layout
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.DecodeFile(path, &l)
		if err != nil {
			return nil, fmt.Errorf("decoding %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decoding %q: unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %q: %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&l); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported layout file extension %q", ext)
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("layout %q: %w", path, err)
	}
	return &l, nil
}

// Validate checks the parts of the layout that do not depend on an address
// space's state: region kinds, flag names and region bounds.
func (l *Layout) Validate() error {
	all, err := l.Range()
	if err != nil {
		return err
	}
	for i := range l.Regions {
		r := &l.Regions[i]
		rng, err := r.Range()
		if err != nil {
			return fmt.Errorf("region %v: %w", r, err)
		}
		if !all.IsSupersetOf(rng) {
			return fmt.Errorf("region %v: %v is outside of %v", r, rng, all)
		}
		if _, err := mapping.Parse(r.Flags); err != nil {
			return fmt.Errorf("region %v: %w", r, err)
		}
		switch r.Kind {
		case KindLinear:
			if r.Populate {
				return fmt.Errorf("region %v: populate is only valid for %q regions", r, KindAlloc)
			}
		case KindAlloc:
			if r.HostPhys != 0 {
				return fmt.Errorf("region %v: host_phys is only valid for %q regions", r, KindLinear)
			}
		default:
			return fmt.Errorf("region %v: invalid kind %q, must be %q or %q", r, r.Kind, KindLinear, KindAlloc)
		}
	}
	if err := validatePorts(l.Ports); err != nil {
		return err
	}
	return validateSysRegs(l.SysRegs)
}

// Range returns the guest-physical range of the whole address space.
func (l *Layout) Range() (guestarch.GuestPhysRange, error) {
	return guestarch.RangeFromSize(guestarch.GuestPhysAddr(l.Base), l.Size)
}

// Apply maps every region into as. If any region fails, the regions mapped
// so far are unmapped again and as is left as it was.
func (l *Layout) Apply(as *addrspace.AddressSpace) error {
	var cu cleanup.Cleanup
	defer cu.Clean()

	for i := range l.Regions {
		r := &l.Regions[i]
		rng, err := r.Range()
		if err != nil {
			return fmt.Errorf("region %v: %w", r, err)
		}
		flags, err := mapping.Parse(r.Flags)
		if err != nil {
			return fmt.Errorf("region %v: %w", r, err)
		}
		switch r.Kind {
		case KindLinear:
			err = as.MapLinear(rng, guestarch.HostPhysAddr(r.HostPhys), flags)
		case KindAlloc:
			err = as.MapAlloc(rng, flags, r.Populate)
		default:
			err = fmt.Errorf("invalid kind %q", r.Kind)
		}
		if err != nil {
			return fmt.Errorf("region %v: %w", r, err)
		}
		cu.Add(func() {
			if err := as.Unmap(rng); err != nil && !errors.Is(err, addrspace.ErrNotMapped) {
				log.Warningf("Unmapping region %v: %v", r, err)
			}
		})
		log.Debugf("Mapped region %v: %v %v", r, rng, flags)
	}
	cu.Release()
	return nil
}
