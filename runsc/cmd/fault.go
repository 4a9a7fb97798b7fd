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
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/guestmem/pkg/addrspace"
	"gvisor.dev/guestmem/pkg/log"
	"gvisor.dev/guestmem/runsc/cmd/util"
	"gvisor.dev/guestmem/runsc/config"
)

// Fault implements subcommands.Command for the "fault" command.
type Fault struct {
	stopOnError bool
	quiet       bool
}

// Name implements subcommands.Command.Name.
func (*Fault) Name() string {
	return "fault"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Fault) Synopsis() string {
	return "replay a trace of nested page faults"
}

// Usage implements subcommands.Command.Usage.
func (*Fault) Usage() string {
	return `fault [flags] <trace file> - replay nested page faults against the address space of --layout.

Each line of the trace holds an access type and a guest-physical address:

  r 0x1000
  w 0x2008
  x 0x3000

Blank lines and lines starting with '#' are ignored. Use "-" to read the trace
from stdin.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (fa *Fault) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&fa.stopOnError, "stop-on-error", false, "stop at the first fault that cannot be handled.")
	f.BoolVar(&fa.quiet, "quiet", false, "only print the summary.")
}

// Execute implements subcommands.Command.Execute.
func (fa *Fault) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	in := io.Reader(os.Stdin)
	if path := f.Arg(0); path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return util.Errorf("fault: %v", err)
		}
		defer file.Close()
		in = file
	}
	faults, err := parseTrace(in)
	if err != nil {
		return util.Errorf("fault: %v", err)
	}

	v, err := newVM(conf)
	if err != nil {
		return util.Errorf("fault: %v", err)
	}
	defer v.release()

	s := fa.replay(os.Stdout, v, faults)
	fmt.Fprintf(os.Stdout, "%d faults, %d handled, %d rejected, %d frames in use, took %s\n",
		s.total, s.handled, s.rejected, v.frames.Live(), s.took)
	if s.rejected > 0 && fa.stopOnError {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// parseTrace reads a fault trace.
func parseTrace(r io.Reader) ([]addrspace.NestedPageFault, error) {
	var faults []addrspace.NestedPageFault
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: want \"<r|w|x> <address>\", got %q", line, text)
		}
		access, err := parseAccess(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		gpa, err := parseAddr(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		faults = append(faults, addrspace.NestedPageFault{Addr: gpa, Access: access})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return faults, nil
}

// replayStats summarizes a replay.
type replayStats struct {
	total    int
	handled  int
	rejected int
	took     string
}

func (fa *Fault) replay(w io.Writer, v *vm, faults []addrspace.NestedPageFault) replayStats {
	devs := v.layout.Devices()
	start := time.Now()
	s := replayStats{}
	for _, f := range faults {
		s.total++
		if err := v.as.HandlePageFault(f); err != nil {
			s.rejected++
			if !fa.quiet {
				if name, ok := devs.MMIOAt(f.Addr); ok {
					fmt.Fprintf(w, "%v: %v (device %q)\n", f, err, name)
				} else {
					fmt.Fprintf(w, "%v: %v\n", f, err)
				}
			}
			if fa.stopOnError {
				break
			}
			continue
		}
		s.handled++
		if !fa.quiet {
			fmt.Fprintf(w, "%v: ok\n", f)
		}
		log.Debugf("Handled %v, %d frames in use", f, v.frames.Live())
	}
	s.took = elapsed(start)
	return s
}
