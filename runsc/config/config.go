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

// Package config provides basic infrastructure to set configuration settings
// for guestmem. Each setting can be set via command-line flags, and the
// memory layout of the VM is read from a TOML or YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"gvisor.dev/guestmem/pkg/log"
	"gvisor.dev/guestmem/pkg/npt"
)

// Config holds configuration that is not part of the layout file.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register a new flag in flags.go, with same name and add a description.
//  4. Add any necessary validation into validate().
type Config struct {
	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// NPTFormat is the nested page table format.
	NPTFormat NPTFormat `flag:"npt-format"`

	// LayoutFile is the path to the VM memory layout.
	LayoutFile string `flag:"layout"`

	// FramePool is the size in bytes of the pool host-physical frames are
	// allocated from.
	FramePool uint64 `flag:"frame-pool"`

	// HostMemory backs the frame pool with anonymous host memory, so that
	// guest memory can be read and written.
	HostMemory bool `flag:"host-memory"`

	// FaultLogRate is the minimum interval between warnings about rejected
	// nested page faults.
	FaultLogRate time.Duration `flag:"fault-log-rate"`
}

func (c *Config) validate() error {
	if _, err := log.NewEmitter(c.LogFormat, nil); err != nil {
		return err
	}
	if c.FramePool == 0 || c.FramePool%4096 != 0 {
		return fmt.Errorf("--frame-pool must be a non-zero multiple of 4096, got %d", c.FramePool)
	}
	if c.FramePool>>12 > 1<<32-1 {
		return fmt.Errorf("--frame-pool %d is too large", c.FramePool)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	for _, f := range c.ToFlags() {
		log.Infof("\t%s", f)
	}
}

// NPTFormat is the nested page table format to use.
type NPTFormat struct {
	npt.Format
}

// Set implements flag.Value.Set.
func (f *NPTFormat) Set(v string) error {
	format, err := npt.FormatByName(v)
	if err != nil {
		return err
	}
	f.Format = format
	return nil
}

// Get implements flag.Getter.Get.
func (f *NPTFormat) Get() any {
	return *f
}

// String implements flag.Value.String.
func (f *NPTFormat) String() string {
	if f.Format == nil {
		return ""
	}
	return strings.ToLower(f.Format.String())
}

func nptFormatPtr(name string) *NPTFormat {
	var f NPTFormat
	if err := f.Set(name); err != nil {
		panic(err)
	}
	return &f
}
