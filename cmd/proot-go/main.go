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

// Binary proot-go runs a command under a simulated root filesystem by
// interposing on its filesystem syscalls with ptrace. No privileges
// are required.
//
// Usage: proot-go [-r rootfs] [-b host:guest ...] [-w cwd] [command...]
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(Run), "")
	subcommands.Register(new(Launch), "internal")

	// The plain invocation "proot-go [flags] command..." is the whole
	// point of the tool, so "run" is implied unless another registered
	// command is named explicitly.
	if len(os.Args) < 2 || !isCommandName(os.Args[1]) {
		os.Args = append([]string{os.Args[0], "run"}, os.Args[1:]...)
	}

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

func isCommandName(arg string) bool {
	switch arg {
	case "run", "launch", "help", "flags", "commands":
		return true
	}
	return false
}
