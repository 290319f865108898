// Copyright 2024 The gVisor Authors.
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

// Package config centralises proot-go's run configuration, the way
// runsc/config.Config centralises sandbox configuration, but scoped to
// a handful of fields: the guest rootfs, the binding table, the
// initial working directory, and the command to launch as the init
// tracee.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"

	"gvisor.dev/protrace/pkg/fs"
)

// Config holds the parsed command line (and optional mounts file)
// driving one proot-go run.
type Config struct {
	Rootfs     string
	Bindings   BindingFlag
	Cwd        string
	MountsFile string
	Command    []string
}

// BindingFlag accumulates repeatable "-b host:guest" flag values,
// modeled on do.go's volumes type: a flag.Value backed by a plain
// string slice, appending on every Set.
type BindingFlag []string

// String implements flag.Value.
func (b *BindingFlag) String() string {
	return strings.Join(*b, ",")
}

// Set implements flag.Value.
func (b *BindingFlag) Set(value string) error {
	*b = append(*b, value)
	return nil
}

// Get implements flag.Getter.
func (b *BindingFlag) Get() any {
	return b
}

// BuildView assembles the fs.View this configuration describes: the
// rootfs binding first (applied last, so it never shadows a more
// specific "-b"), then the mounts file entries, then the "-b" flags in
// the order given, each one displacing anything it overlaps since
// fs.View.AddBinding always makes the newest binding win.
func (c *Config) BuildView() (*fs.View, error) {
	if c.Rootfs == "" {
		c.Rootfs = "/"
	}
	view := fs.NewView(c.Rootfs)

	if c.MountsFile != "" {
		fileBindings, err := LoadMountsFile(c.MountsFile)
		if err != nil {
			return nil, errors.Wrap(err, "config: loading mounts file")
		}
		for _, b := range fileBindings {
			view.AddBinding(b)
		}
	}

	for _, raw := range c.Bindings {
		b, err := fs.ParseBinding(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "config: binding %q", raw)
		}
		view.AddBinding(b)
	}

	cwd := c.Cwd
	if cwd == "" {
		cwd = "/"
	}
	view.SetCwd(cwd)
	return view, nil
}

// LoadMountsFile reads a strict subset of an OCI-spec-shaped mounts
// file: a bare JSON array of specs.Mount{Source,Destination,Type},
// the way do.go assembles an OCI specs.Spec from its own flags. Only
// Source and Destination are consulted; Type and Options carry no
// meaning for a binding and are accepted but ignored.
func LoadMountsFile(path string) ([]fs.Binding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mounts []specs.Mount
	if err := json.Unmarshal(data, &mounts); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	bindings := make([]fs.Binding, 0, len(mounts))
	for _, m := range mounts {
		if m.Source == "" || m.Destination == "" {
			return nil, fmt.Errorf("config: mount entry missing source or destination in %s", path)
		}
		bindings = append(bindings, fs.NewBinding(m.Source, m.Destination))
	}
	return bindings, nil
}
