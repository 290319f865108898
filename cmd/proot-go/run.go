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
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"gvisor.dev/protrace/pkg/arch"
	"gvisor.dev/protrace/pkg/config"
	"gvisor.dev/protrace/pkg/ptlog"
	"gvisor.dev/protrace/pkg/shim"
	"gvisor.dev/protrace/pkg/syscalls"
	"gvisor.dev/protrace/pkg/tracer"
)

// defaultCommand is launched when no command is given.
var defaultCommand = []string{"/bin/sh"}

// Run implements subcommands.Command for the "run" command, the
// implied default: trace a command under the configured guest root.
type Run struct {
	conf    config.Config
	verbose bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run a command under a simulated root filesystem (the default command)"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [-r rootfs] [-b host:guest ...] [-w cwd] [command...] - run a command.

The command (default /bin/sh) is launched as a traced child whose
filesystem syscalls are rewritten so it observes the rootfs given with
-r as its root directory, with any -b bindings grafted on top.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.conf.Rootfs, "r", "/", "guest root filesystem path")
	f.Var(&r.conf.Bindings, "b", "binding HOST:GUEST, may be repeated")
	f.StringVar(&r.conf.Cwd, "w", "/", "initial working directory inside the guest")
	f.StringVar(&r.conf.MountsFile, "mounts-file", "", "OCI-style mounts file with extra bindings")
	f.BoolVar(&r.verbose, "v", false, "enable debug logging")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if r.verbose {
		ptlog.SetLevel(logrus.DebugLevel)
	}
	r.conf.Command = f.Args()
	if len(r.conf.Command) == 0 {
		r.conf.Command = defaultCommand
	}

	view, err := r.conf.BuildView()
	if err != nil {
		ptlog.Errorf("%v", err)
		return subcommands.ExitUsageError
	}

	loaderPath, err := shim.Locate()
	if err != nil {
		ptlog.Errorf("%v", err)
		return subcommands.ExitFailure
	}
	installed, err := shim.Install(loaderPath)
	if err != nil {
		ptlog.Errorf("%v", err)
		return subcommands.ExitFailure
	}
	defer installed.Remove()

	// ptrace requests must come from the thread that owns the trace
	// relationship, so the spawning and the whole event loop stay
	// pinned to one OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	child, err := spawnInit(r.conf.Command)
	if err != nil {
		ptlog.Errorf("spawning init tracee: %v", err)
		return subcommands.ExitFailure
	}

	loop := tracer.NewLoop(currentArch(), installed.Path, syscalls.Classify)
	installSignalHandlers(child.Process.Pid)

	code, err := loop.Run(child.Process.Pid, view)
	if err != nil {
		ptlog.Errorf("%v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitStatus(code)
}

// spawnInit re-executes this binary as "proot-go launch command...",
// with PTRACE_TRACEME requested before the exec. The launch stage then
// execs the real command, and that second execve is the first one the
// tracer translates.
func spawnInit(command []string) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		self = "/proc/self/exe"
	}
	child := exec.Command(self, append([]string{"launch"}, command...)...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	if err := child.Start(); err != nil {
		return nil, err
	}
	return child, nil
}

// installSignalHandlers tears the traced tree down when the tracer
// itself is told to die, and reports status on SIGUSR1/SIGUSR2. The
// handler only signals the init tracee; the event loop observes the
// resulting exits and drains the rest of the tree itself.
func installSignalHandlers(initPid int) {
	fatal := make(chan os.Signal, 1)
	signal.Notify(fatal, unix.SIGINT, unix.SIGTERM, unix.SIGHUP, unix.SIGQUIT)
	status := make(chan os.Signal, 1)
	signal.Notify(status, unix.SIGUSR1, unix.SIGUSR2)

	go func() {
		for {
			select {
			case sig := <-fatal:
				ptlog.Warningf("received %v, killing traced tree", sig)
				unix.Kill(initPid, unix.SIGKILL)
			case <-status:
				ptlog.Infof("tracing pid %d", initPid)
			}
		}
	}()
}

func currentArch() arch.ID {
	if runtime.GOARCH == "arm64" {
		return arch.ARM64
	}
	return arch.AMD64
}
