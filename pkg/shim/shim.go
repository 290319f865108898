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

// Package shim locates the loader shim binary (cmd/proot-go-loader)
// and installs a private, read-only copy of it under the system temp
// directory for the lifetime of one tracer run. Tracees exec the copy;
// the original stays wherever it was installed.
package shim

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
)

// LoaderName is the shim binary's name, searched for next to the
// proot-go executable and then on PATH.
const LoaderName = "proot-go-loader"

// EnvOverride, when set, names the shim binary directly and skips the
// search.
const EnvOverride = "PROOT_LOADER"

// Locate finds the loader shim binary to install.
func Locate() (string, error) {
	if p := os.Getenv(EnvOverride); p != "" {
		return p, nil
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), LoaderName)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	p, err := exec.LookPath(LoaderName)
	if err != nil {
		return "", errors.Wrapf(err, "shim: cannot find %s (set %s to override)", LoaderName, EnvOverride)
	}
	return p, nil
}

// Installed is one temp-file copy of the shim, removed by Remove.
type Installed struct {
	Path string
}

// Install copies the shim at src into a fresh temp file, mode 0500.
func Install(src string) (*Installed, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, errors.Wrap(err, "shim: opening loader")
	}
	defer in.Close()

	out, err := os.CreateTemp("", "proot-loader-*")
	if err != nil {
		return nil, errors.Wrap(err, "shim: creating temp file")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return nil, errors.Wrap(err, "shim: copying loader")
	}
	if err := out.Chmod(0500); err != nil {
		out.Close()
		os.Remove(out.Name())
		return nil, errors.Wrap(err, "shim: chmod loader")
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return nil, errors.Wrap(err, "shim: closing loader copy")
	}
	return &Installed{Path: out.Name()}, nil
}

// Remove deletes the installed copy. Safe to call more than once.
func (i *Installed) Remove() {
	if i.Path != "" {
		os.Remove(i.Path)
		i.Path = ""
	}
}
