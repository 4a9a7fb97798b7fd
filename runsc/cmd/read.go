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
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/subcommands"
	"golang.org/x/term"
	"gvisor.dev/guestmem/pkg/addrspace"
	"gvisor.dev/guestmem/pkg/guestarch"
	"gvisor.dev/guestmem/runsc/cmd/util"
	"gvisor.dev/guestmem/runsc/config"
)

// maxReadLength bounds the buffer a single read allocates.
const maxReadLength = 16 << 20

// Read implements subcommands.Command for the "read" command.
type Read struct {
	populate bool
	raw      bool
}

// Name implements subcommands.Command.Name.
func (*Read) Name() string {
	return "read"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Read) Synopsis() string {
	return "dump guest memory"
}

// Usage implements subcommands.Command.Usage.
func (*Read) Usage() string {
	return `read [flags] <address> <length> - read guest memory of --layout. Requires --host-memory.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Read) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.populate, "populate", false, "fault in unpopulated pages with read accesses before reading.")
	f.BoolVar(&r.raw, "raw", false, "write raw bytes instead of a hex dump.")
}

// Execute implements subcommands.Command.Execute.
func (r *Read) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if !conf.HostMemory {
		return util.Errorf("read: --host-memory is required")
	}

	if r.raw && term.IsTerminal(int(os.Stdout.Fd())) {
		return util.Errorf("read: refusing to write raw bytes to a terminal")
	}

	gpa, err := parseAddr(f.Arg(0))
	if err != nil {
		return util.Errorf("read: %v", err)
	}
	length, err := strconv.ParseUint(f.Arg(1), 0, 64)
	if err != nil {
		return util.Errorf("read: invalid length %q: %v", f.Arg(1), err)
	}

	v, err := newVM(conf)
	if err != nil {
		return util.Errorf("read: %v", err)
	}
	defer v.release()

	if err := r.read(os.Stdout, v, gpa, length); err != nil {
		return util.Errorf("read: %v", err)
	}
	return subcommands.ExitSuccess
}

func (r *Read) read(w io.Writer, v *vm, gpa guestarch.GuestPhysAddr, length uint64) error {
	if length > maxReadLength {
		return fmt.Errorf("length %#x exceeds maximum %#x", length, maxReadLength)
	}
	rng, err := guestarch.RangeFromSize(gpa, length)
	if err != nil {
		return err
	}
	if r.populate {
		if err := populate(v.as, rng); err != nil {
			return err
		}
	}

	buf := make([]byte, length)
	n, err := v.as.ReadAt(buf, int64(gpa))
	if r.raw {
		if _, werr := w.Write(buf[:n]); werr != nil {
			return werr
		}
	} else {
		d := hex.Dumper(w)
		if _, werr := d.Write(buf[:n]); werr != nil {
			return werr
		}
		if werr := d.Close(); werr != nil {
			return werr
		}
	}
	if err != nil {
		return fmt.Errorf("read %d of %d bytes: %w", n, length, err)
	}
	return nil
}

// populate issues a read fault for every page of rng that has no
// translation yet.
func populate(as *addrspace.AddressSpace, rng guestarch.GuestPhysRange) error {
	for page := rng.Start.RoundDown(); page < rng.End; page += guestarch.PageSize {
		if _, err := as.Translate(page); err == nil {
			continue
		}
		if err := as.HandlePageFault(addrspace.NestedPageFault{
			Addr:   page,
			Access: guestarch.AccessType{Read: true},
		}); err != nil {
			return err
		}
		if page+guestarch.PageSize < page {
			break
		}
	}
	return nil
}
