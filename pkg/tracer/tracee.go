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

// Package tracer implements the event loop and tracee registry: the
// per-tracee state machine driving syscall enter/exit stops, dispatch
// to pkg/syscalls rewriters and the pkg/execve pivot, seccomp
// fast-path restart, signal forwarding, and fork/vfork/clone child
// bookkeeping.
package tracer

import (
	"gvisor.dev/protrace/pkg/arch"
	"gvisor.dev/protrace/pkg/fs"
	"gvisor.dev/protrace/pkg/loader"
	"gvisor.dev/protrace/pkg/syscalls"
)

// Status is which half of a syscall this tracee is currently stopped
// at, or that translation already failed.
type Status int

const (
	SysEnter Status = iota
	SysExit
	StatusError
)

// RestartMethod selects which ptrace restart call Loop issues for a
// tracee on its next iteration.
type RestartMethod int

const (
	RestartNone RestartMethod = iota
	RestartWithoutExitStage // PTRACE_CONT: seccomp fast path
	RestartWithExitStage    // PTRACE_SYSCALL
)

// SigStopStatus tracks synchronisation with a freshly cloned child that
// has SIGSTOPped itself but whose PTRACE_EVENT_{FORK,VFORK,CLONE} has
// not yet been observed by the parent's stop.
type SigStopStatus int

const (
	SigStopNone SigStopStatus = iota
	SigStopWaitForEvent
)

// Tracee is the per-process state the event loop maintains.
type Tracee struct {
	Pid    int
	Status Status
	// Errno holds the synthesised return value when Status ==
	// StatusError: once an enter-stage rewrite fails, the syscall is
	// cancelled and this errno is written back as its result at exit.
	Errno int64

	RestartHow RestartMethod
	Regs       arch.Regs
	FS         *fs.View
	Heap       syscalls.Heap

	Seccomp        bool
	SysexitPending bool
	SigStop        SigStopStatus

	// NewExe/Exe give execve atomic-looking semantics: NewExe is set at
	// execve-enter and only committed to Exe at execve-exit once the
	// kernel reports success.
	NewExe string
	Exe    string

	// pendingExecve carries the execve-enter result (the parsed
	// LoadInfo) across to the matching execve-exit stop.
	pendingExecve *pendingExecve
}

type pendingExecve struct {
	info *loader.LoadInfo
}

// NewTracee constructs a fresh Tracee for pid, sharing or cloning fsView
// per the CLONE_FS policy the caller has already resolved (see
// Registry.SpawnChild).
func NewTracee(pid int, fsView *fs.View, regs arch.Regs) *Tracee {
	return &Tracee{
		Pid:    pid,
		Status: SysEnter,
		Regs:   regs,
		FS:     fsView,
	}
}

// ResetRestartHow picks the default restart method for this stop: if nothing
// else has already picked a restart method for this stop, a seccomp
// tracee with no exit stage owed (SysexitPending) takes the fast path
// (skip the exit stage); every other tracee requests the exit stage.
func (t *Tracee) ResetRestartHow() {
	if t.RestartHow != RestartNone {
		return
	}
	if t.Seccomp && !t.SysexitPending {
		t.RestartHow = RestartWithoutExitStage
	} else {
		t.RestartHow = RestartWithExitStage
	}
}

// SetError transitions the tracee into error status: the syscall
// number is voided so the kernel executes no syscall, and errno is
// remembered to be written back as the result at exit-stage.
func (t *Tracee) SetError(errno int64) {
	t.Status = StatusError
	t.Errno = errno
	t.Regs.CancelSyscall()
}
