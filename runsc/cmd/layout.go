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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/guestmem/runsc/cmd/util"
	"gvisor.dev/guestmem/runsc/config"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	json bool
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "map the VM layout and print the resulting areas"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] - map the regions of --layout into a new address space and print its areas.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.json, "json", false, "print the layout as JSON.")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	v, err := newVM(conf)
	if err != nil {
		return util.Errorf("layout: %v", err)
	}
	defer v.release()

	if err := l.print(os.Stdout, v); err != nil {
		return util.Errorf("layout: %v", err)
	}
	return subcommands.ExitSuccess
}

// areaInfo is the JSON form of an area.
type areaInfo struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Flags   string `json:"flags"`
	Backend string `json:"backend"`
}

// deviceInfo is the JSON form of a named device range.
type deviceInfo struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Range string `json:"range"`
}

// layoutInfo is the JSON form of a mapped layout.
type layoutInfo struct {
	Format       string       `json:"format"`
	Range        string       `json:"range"`
	Root         string       `json:"root"`
	RootRegister string       `json:"root_register"`
	FramesInUse  int64        `json:"frames_in_use"`
	Areas        []areaInfo   `json:"areas"`
	Devices      []deviceInfo `json:"devices,omitempty"`
}

func (l *Layout) info(v *vm) layoutInfo {
	info := layoutInfo{
		Format:       v.conf.NPTFormat.String(),
		Range:        v.as.Range().String(),
		Root:         v.as.RootPaddr().String(),
		RootRegister: fmt.Sprintf("%#x", v.rootRegister()),
		FramesInUse:  v.frames.Live(),
	}
	for _, a := range v.as.Areas() {
		info.Areas = append(info.Areas, areaInfo{
			Start:   fmt.Sprintf("%#x", uint64(a.Range.Start)),
			End:     fmt.Sprintf("%#x", uint64(a.Range.End)),
			Flags:   a.Flags.String(),
			Backend: a.Backend.String(),
		})
	}
	devs := v.layout.Devices()
	for i, r := range devs.MMIO {
		info.Devices = append(info.Devices, deviceInfo{Kind: "mmio", Name: devs.MMIONames[i], Range: r.String()})
	}
	for i, r := range devs.Ports {
		info.Devices = append(info.Devices, deviceInfo{Kind: "port", Name: devs.PortNames[i], Range: r.String()})
	}
	for i, r := range devs.SysRegs {
		info.Devices = append(info.Devices, deviceInfo{Kind: "sysreg", Name: devs.SysRegNames[i], Range: r.String()})
	}
	return info
}

func (l *Layout) print(w io.Writer, v *vm) error {
	info := l.info(v)
	if l.json {
		b, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("error marshaling layout: %v", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	}

	fmt.Fprintf(w, "format:        %s\n", info.Format)
	fmt.Fprintf(w, "range:         %s\n", info.Range)
	fmt.Fprintf(w, "root:          %s\n", info.Root)
	fmt.Fprintf(w, "root register: %s\n", info.RootRegister)
	fmt.Fprintf(w, "frames in use: %d\n\n", info.FramesInUse)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tFLAGS\tBACKEND")
	for _, a := range info.Areas {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Start, a.End, a.Flags, a.Backend)
	}
	if len(info.Devices) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "DEVICE\tKIND\tRANGE")
		for _, d := range info.Devices {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Kind, d.Range)
		}
	}
	return tw.Flush()
}
