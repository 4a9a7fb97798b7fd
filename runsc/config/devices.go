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
	"fmt"
	"math"

	"gvisor.dev/guestmem/pkg/device"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/pkg/mapping"
)

// DeviceRange names an inclusive range of device addresses.
type DeviceRange struct {
	Name  string `toml:"name" yaml:"name"`
	Start uint64 `toml:"start" yaml:"start"`
	End   uint64 `toml:"end" yaml:"end"`
}

func (d *DeviceRange) overlaps(o *DeviceRange) bool {
	return d.Start <= o.End && o.Start <= d.End
}

func validateDevices(kind string, ranges []DeviceRange, limit uint64) error {
	for i := range ranges {
		d := &ranges[i]
		if d.Start > d.End {
			return fmt.Errorf("%s range %q: start %#x is after end %#x", kind, d.Name, d.Start, d.End)
		}
		if d.End > limit {
			return fmt.Errorf("%s range %q: end %#x exceeds %#x", kind, d.Name, d.End, limit)
		}
		for j := range ranges[:i] {
			if o := &ranges[j]; d.overlaps(o) {
				return fmt.Errorf("%s range %q overlaps %q", kind, d.Name, o.Name)
			}
		}
	}
	return nil
}

func validatePorts(ranges []DeviceRange) error {
	return validateDevices("port", ranges, math.MaxUint16)
}

func validateSysRegs(ranges []DeviceRange) error {
	return validateDevices("system register", ranges, math.MaxUint64)
}

// Devices is the device address map of a layout.
type Devices struct {
	MMIO      []guestarch.GuestPhysRange
	MMIONames []string

	Ports     []device.PortRange
	PortNames []string

	SysRegs     []device.SysRegAddrRange
	SysRegNames []string
}

// Devices returns the device address map of the layout. MMIO ranges are
// the regions mapped with the device flag.
func (l *Layout) Devices() *Devices {
	d := &Devices{}
	for i := range l.Regions {
		r := &l.Regions[i]
		flags, err := mapping.Parse(r.Flags)
		if err != nil || !flags.Contains(mapping.Device) {
			continue
		}
		rng, err := r.Range()
		if err != nil {
			continue
		}
		d.MMIO = append(d.MMIO, rng)
		d.MMIONames = append(d.MMIONames, r.String())
	}
	for _, p := range l.Ports {
		d.Ports = append(d.Ports, device.NewPortRange(device.Port(p.Start), device.Port(p.End)))
		d.PortNames = append(d.PortNames, p.Name)
	}
	for _, s := range l.SysRegs {
		d.SysRegs = append(d.SysRegs, device.NewSysRegAddrRange(device.SysRegAddr(s.Start), device.SysRegAddr(s.End)))
		d.SysRegNames = append(d.SysRegNames, s.Name)
	}
	return d
}

// lookup returns the name at the index device.Find returned.
func lookup(names []string, i int) (string, bool) {
	if i < 0 {
		return "", false
	}
	return names[i], true
}

// MMIOAt returns the name of the device region containing gpa.
func (d *Devices) MMIOAt(gpa guestarch.GuestPhysAddr) (string, bool) {
	return lookup(d.MMIONames, device.Find(d.MMIO, gpa))
}

// PortAt returns the name of the port range containing p.
func (d *Devices) PortAt(p device.Port) (string, bool) {
	return lookup(d.PortNames, device.Find(d.Ports, p))
}

// SysRegAt returns the name of the system register range containing s.
func (d *Devices) SysRegAt(s device.SysRegAddr) (string, bool) {
	return lookup(d.SysRegNames, device.Find(d.SysRegs, s))
}
