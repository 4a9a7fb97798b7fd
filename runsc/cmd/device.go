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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/subcommands"
	"gvisor.dev/guestmem/pkg/device"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/runsc/cmd/util"
	"gvisor.dev/guestmem/runsc/config"
)

// Device implements subcommands.Command for the "device" command.
type Device struct{}

// Name implements subcommands.Command.Name.
func (*Device) Name() string {
	return "device"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Device) Synopsis() string {
	return "look up which device of the layout owns an address"
}

// Usage implements subcommands.Command.Usage.
func (*Device) Usage() string {
	return `device <mmio|port|sysreg> <address>... - print the device range of --layout containing each address.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Device) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (d *Device) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if conf.LayoutFile == "" {
		return util.Errorf("device: --layout is required")
	}
	l, err := config.LoadLayout(conf.LayoutFile)
	if err != nil {
		return util.Errorf("device: %v", err)
	}

	missing, err := d.lookup(os.Stdout, l.Devices(), f.Arg(0), f.Args()[1:])
	if err != nil {
		return util.Errorf("device: %v", err)
	}
	if missing > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// lookup prints the owner of each address and returns how many have none.
func (*Device) lookup(w io.Writer, devs *config.Devices, kind string, addrs []string) (int, error) {
	missing := 0
	for _, arg := range addrs {
		v, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return missing, fmt.Errorf("invalid address %q: %w", arg, err)
		}
		var (
			addr fmt.Stringer
			name string
			ok   bool
		)
		switch kind {
		case "mmio":
			gpa := guestarch.GuestPhysAddr(v)
			addr = gpa
			name, ok = devs.MMIOAt(gpa)
		case "port":
			if v > 0xffff {
				return missing, fmt.Errorf("invalid port %q", arg)
			}
			p := device.Port(v)
			addr = p
			name, ok = devs.PortAt(p)
		case "sysreg":
			s := device.SysRegAddr(v)
			addr = s
			name, ok = devs.SysRegAt(s)
		default:
			return missing, fmt.Errorf("invalid address kind %q, must be mmio, port or sysreg", kind)
		}
		if !ok {
			missing++
			fmt.Fprintf(w, "%v: no device\n", addr)
			continue
		}
		fmt.Fprintf(w, "%v: %s\n", addr, name)
	}
	return missing, nil
}
