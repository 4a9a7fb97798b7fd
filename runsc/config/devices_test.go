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
	"testing"

	"gvisor.dev/guestmem/pkg/device"
	"gvisor.dev/guestmem/pkg/guestarch"
)

const deviceLayout = `
size = 0x100000

[[region]]
name = "uart"
kind = "linear"
start = 0x9000
size = 0x1000
host_phys = 0xfe009000
flags = ["r", "w", "device", "uncached"]

[[region]]
name = "ram"
kind = "alloc"
size = 0x8000
flags = ["r", "w"]

[[port]]
name = "com1"
start = 0x3f8
end = 0x3ff

[[port]]
name = "pic"
start = 0x20
end = 0x21

[[sysreg]]
name = "timer"
start = 0x3e10
end = 0x3e1f
`

func TestDevices(t *testing.T) {
	l, err := LoadLayout(writeFile(t, "vm.toml", deviceLayout))
	if err != nil {
		t.Fatalf("LoadLayout(): %v", err)
	}
	devs := l.Devices()

	for _, tc := range []struct {
		name   string
		lookup func() (string, bool)
		want   string
	}{
		{name: "mmio", lookup: func() (string, bool) { return devs.MMIOAt(guestarch.GuestPhysAddr(0x9ff8)) }, want: "uart"},
		{name: "mmio-ram", lookup: func() (string, bool) { return devs.MMIOAt(guestarch.GuestPhysAddr(0x1000)) }},
		{name: "port-first", lookup: func() (string, bool) { return devs.PortAt(device.Port(0x3f8)) }, want: "com1"},
		{name: "port-last", lookup: func() (string, bool) { return devs.PortAt(device.Port(0x3ff)) }, want: "com1"},
		{name: "port-pic", lookup: func() (string, bool) { return devs.PortAt(device.Port(0x21)) }, want: "pic"},
		{name: "port-none", lookup: func() (string, bool) { return devs.PortAt(device.Port(0x400)) }},
		{name: "sysreg", lookup: func() (string, bool) { return devs.SysRegAt(device.SysRegAddr(0x3e1f)) }, want: "timer"},
		{name: "sysreg-none", lookup: func() (string, bool) { return devs.SysRegAt(device.SysRegAddr(0x3e20)) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.lookup()
			if ok != (tc.want != "") || got != tc.want {
				t.Errorf("lookup()=%q, %t, want: %q", got, ok, tc.want)
			}
		})
	}
}

func TestDeviceValidation(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
	}{
		{
			name:     "port-overlap",
			contents: "size = 0x1000\n[[port]]\nname = \"a\"\nstart = 0x10\nend = 0x1f\n[[port]]\nname = \"b\"\nstart = 0x0\nend = 0x10\n",
		},
		{
			name:     "port-enclosing",
			contents: "size = 0x1000\n[[port]]\nname = \"a\"\nstart = 0x10\nend = 0x1f\n[[port]]\nname = \"b\"\nstart = 0x0\nend = 0x100\n",
		},
		{
			name:     "port-too-large",
			contents: "size = 0x1000\n[[port]]\nname = \"a\"\nstart = 0xfff0\nend = 0x10000\n",
		},
		{
			name:     "sysreg-reversed",
			contents: "size = 0x1000\n[[sysreg]]\nname = \"a\"\nstart = 0x20\nend = 0x10\n",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadLayout(writeFile(t, "vm.toml", tc.contents)); err == nil {
				t.Errorf("LoadLayout() succeeded")
			}
		})
	}
}
