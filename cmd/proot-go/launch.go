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

package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
)

// Launch implements subcommands.Command for the internal "launch"
// stage: the traced child's only job is to exec the guest command, so
// the tracer sees that execve and pivots it through the loader shim.
// Never invoked by users directly; "run" spawns it.
type Launch struct{}

// Name implements subcommands.Command.Name.
func (*Launch) Name() string {
	return "launch"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Launch) Synopsis() string {
	return "internal: exec the guest command inside the traced child"
}

// Usage implements subcommands.Command.Usage.
func (*Launch) Usage() string {
	return "launch <command...> - internal, do not use directly.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Launch) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Launch) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	args := f.Args()
	if len(args) == 0 {
		return subcommands.ExitUsageError
	}
	// The path is a guest path; the tracer rewrites it at the execve
	// enter-stop. Exec only returns on error.
	err := unix.Exec(args[0], args, os.Environ())
	unix.Exit(errnoExitCode(err))
	return subcommands.ExitFailure // unreachable
}

func errnoExitCode(err error) int {
	if errno, ok := err.(unix.Errno); ok && errno == unix.ENOENT {
		return 127
	}
	return 126
}
