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
	"flag"
	"strings"
	"testing"
	"time"

	"gvisor.dev/guestmem/pkg/npt"
)

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}

	// All defaults doesn't require setting flags.
	flags := c.ToFlags()
	if len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if want := (npt.EPT{}); c.NPTFormat.Format != want {
		t.Errorf("NPTFormat=%v, want: %v", c.NPTFormat.Format, want)
	}
	if want := time.Second; c.FaultLogRate != want {
		t.Errorf("FaultLogRate=%v, want: %v", c.FaultLogRate, want)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Lookup("debug").Value.Set("true"); err != nil {
		t.Errorf("Flag set: %v", err)
	}
	if err := testFlags.Lookup("npt-format").Value.Set("svm"); err != nil {
		t.Errorf("Flag set: %v", err)
	}
	if err := testFlags.Lookup("frame-pool").Value.Set("8192"); err != nil {
		t.Errorf("Flag set: %v", err)
	}
	if err := testFlags.Lookup("fault-log-rate").Value.Set("5ms"); err != nil {
		t.Errorf("Flag set: %v", err)
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := (npt.NPT{}); c.NPTFormat.Format != want {
		t.Errorf("NPTFormat=%v, want: %v", c.NPTFormat.Format, want)
	}
	if want := uint64(8192); c.FramePool != want {
		t.Errorf("FramePool=%v, want: %v", c.FramePool, want)
	}
	if want := 5 * time.Millisecond; c.FaultLogRate != want {
		t.Errorf("FaultLogRate=%v, want: %v", c.FaultLogRate, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	testFlags.Set("debug", "true")
	testFlags.Set("host-memory", "false") // Matches default value.
	testFlags.Set("npt-format", "stage2")
	testFlags.Set("layout", "vm.toml")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}

	flags := c.ToFlags()
	if len(flags) != 3 {
		t.Errorf("wrong number of flags set, want: 3, got: %d: %s", len(flags), flags)
	}
	t.Logf("Flags: %s", flags)
	fm := map[string]string{}
	for _, f := range flags {
		kv := strings.Split(f, "=")
		fm[kv[0]] = kv[1]
	}
	for name, want := range map[string]string{
		"--debug":      "true",
		"--npt-format": "stage2",
		"--layout":     "vm.toml",
	} {
		if got, ok := fm[name]; ok {
			if got != want {
				t.Errorf("flag %q, want: %q, got: %q", name, want, got)
			}
		} else {
			t.Errorf("flag %q not set", name)
		}
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		flag  string
		value string
	}{
		{name: "log-format", flag: "log-format", value: "xml"},
		{name: "frame-pool-zero", flag: "frame-pool", value: "0"},
		{name: "frame-pool-unaligned", flag: "frame-pool", value: "4097"},
		{name: "frame-pool-huge", flag: "frame-pool", value: "18446744073709547520"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
			RegisterFlags(testFlags)
			if err := testFlags.Set(tc.flag, tc.value); err != nil {
				t.Fatalf("Flag set: %v", err)
			}
			if _, err := NewFromFlags(testFlags); err == nil {
				t.Errorf("NewFromFlags() succeeded with --%s=%s", tc.flag, tc.value)
			}
		})
	}
}

func TestNPTFormatFlag(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Set("npt-format", "riscv"); err == nil {
		t.Errorf("--npt-format=riscv accepted")
	}
	if err := testFlags.Set("npt-format", "ARM64"); err != nil {
		t.Fatalf("Flag set: %v", err)
	}
	if got, want := testFlags.Lookup("npt-format").Value.String(), "stage2"; got != want {
		t.Errorf("npt-format=%q, want: %q", got, want)
	}
}
