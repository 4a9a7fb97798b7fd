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
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/runsc/cmd/util"
	"gvisor.dev/guestmem/runsc/config"
)

// Translate implements subcommands.Command for the "translate" command.
type Translate struct {
	length uint64
}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "translate guest-physical addresses to host-physical addresses"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return `translate [flags] <address>... - translate each address through the nested page table of --layout.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Translate) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&t.length, "length", 0, "number of bytes to check for contiguity. Zero extends to the end of the area.")
}

// Execute implements subcommands.Command.Execute.
func (t *Translate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	addrs := make([]guestarch.GuestPhysAddr, 0, f.NArg())
	for _, arg := range f.Args() {
		gpa, err := parseAddr(arg)
		if err != nil {
			return util.Errorf("translate: %v", err)
		}
		addrs = append(addrs, gpa)
	}

	v, err := newVM(conf)
	if err != nil {
		return util.Errorf("translate: %v", err)
	}
	defer v.release()

	if failed := t.translate(os.Stdout, v, addrs); failed > 0 {
		return util.Errorf("translate: %d of %d addresses failed", failed, len(addrs))
	}
	return subcommands.ExitSuccess
}

// translation is the result for a single address.
type translation struct {
	hpa   guestarch.HostPhysAddr
	limit uint64
	err   error
}

// translate looks up every address concurrently and prints the results in
// argument order. It returns the number of failed lookups.
func (t *Translate) translate(w io.Writer, v *vm, addrs []guestarch.GuestPhysAddr) int {
	results := make([]translation, len(addrs))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, gpa := range addrs {
		i, gpa := i, gpa
		g.Go(func() error {
			r := &results[i]
			r.hpa, r.limit, r.err = v.as.TranslateAndGetLimit(gpa, t.length)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(w, "%v: %v\n", addrs[i], r.err)
			continue
		}
		fmt.Fprintf(w, "%v -> %v (contiguous %#x)\n", addrs[i], r.hpa, r.limit)
	}
	return failed
}
