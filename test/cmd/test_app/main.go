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

// Binary test_app runs inside a traced guest and probes the behaviors
// the tracer is supposed to virtualise: path resolution through
// bindings, symlink and trailing-slash semantics, the emulated cwd,
// and readlink detranslation. Each probe is a command; new ones can be
// added as new commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(statCmd), "")
	subcommands.Register(new(mkdirCmd), "")
	subcommands.Register(new(readlinkCmd), "")
	subcommands.Register(new(cwdCmd), "")
	subcommands.Register(new(catCmd), "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// statCmd prints the file type lstat reports for each argument, so a
// test can tell a symlink from the directory it points at, with and
// without a trailing slash.
type statCmd struct{}

func (*statCmd) Name() string           { return "stat" }
func (*statCmd) Synopsis() string       { return "lstat each path and print its file type" }
func (*statCmd) Usage() string          { return "stat <path>...\n" }
func (*statCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*statCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	status := subcommands.ExitSuccess
	for _, p := range f.Args() {
		var st unix.Stat_t
		if err := unix.Lstat(p, &st); err != nil {
			fmt.Printf("%s: %v\n", p, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Printf("%s: %s\n", p, fileTypeName(st.Mode))
	}
	return status
}

func fileTypeName(mode uint32) string {
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return "directory"
	case unix.S_IFLNK:
		return "symlink"
	case unix.S_IFREG:
		return "regular"
	default:
		return fmt.Sprintf("mode %#o", mode&unix.S_IFMT)
	}
}

// mkdirCmd attempts mkdir on each argument and prints the outcome;
// used to check that mkdir through a symlink reports EEXIST without
// creating the target.
type mkdirCmd struct{}

func (*mkdirCmd) Name() string           { return "mkdir" }
func (*mkdirCmd) Synopsis() string       { return "mkdir each path and print the result" }
func (*mkdirCmd) Usage() string          { return "mkdir <path>...\n" }
func (*mkdirCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*mkdirCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	for _, p := range f.Args() {
		if err := unix.Mkdir(p, 0755); err != nil {
			fmt.Printf("%s: %v\n", p, err)
		} else {
			fmt.Printf("%s: created\n", p)
		}
	}
	return subcommands.ExitSuccess
}

// readlinkCmd prints each symlink's target as the guest observes it.
type readlinkCmd struct{}

func (*readlinkCmd) Name() string           { return "readlink" }
func (*readlinkCmd) Synopsis() string       { return "print each symlink's target" }
func (*readlinkCmd) Usage() string          { return "readlink <path>...\n" }
func (*readlinkCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*readlinkCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	status := subcommands.ExitSuccess
	for _, p := range f.Args() {
		target, err := os.Readlink(p)
		if err != nil {
			fmt.Printf("%s: %v\n", p, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Printf("%s -> %s\n", p, target)
	}
	return status
}

// cwdCmd chdirs through its arguments in order and prints getcwd after
// each step, exercising the emulated cwd.
type cwdCmd struct{}

func (*cwdCmd) Name() string           { return "cwd" }
func (*cwdCmd) Synopsis() string       { return "chdir through each path, printing getcwd after each" }
func (*cwdCmd) Usage() string          { return "cwd <path>...\n" }
func (*cwdCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*cwdCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	for _, p := range f.Args() {
		if err := unix.Chdir(p); err != nil {
			fmt.Printf("chdir %s: %v\n", p, err)
			return subcommands.ExitFailure
		}
		wd, err := os.Getwd()
		if err != nil {
			fmt.Printf("getcwd: %v\n", err)
			return subcommands.ExitFailure
		}
		fmt.Println(wd)
	}
	return subcommands.ExitSuccess
}

// catCmd copies each file to stdout, the "bound path is readable"
// probe.
type catCmd struct{}

func (*catCmd) Name() string           { return "cat" }
func (*catCmd) Synopsis() string       { return "print each file's contents" }
func (*catCmd) Usage() string          { return "cat <path>...\n" }
func (*catCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*catCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	for _, p := range f.Args() {
		data, err := os.ReadFile(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", p, err)
			return subcommands.ExitFailure
		}
		os.Stdout.Write(data)
	}
	return subcommands.ExitSuccess
}
