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

package tracer

import (
	"golang.org/x/sys/unix"

	"gvisor.dev/protrace/pkg/arch"
	"gvisor.dev/protrace/pkg/fs"
)

// Registry owns the lifecycle of every tracee: a flat pid->Tracee map,
// mutated only by the single event-loop goroutine, so no locking is
// required.
type Registry struct {
	tracees map[int]*Tracee
	alive   []int
	newRegs func() arch.Regs
}

// NewRegistry builds an empty Registry. newRegs constructs a fresh
// per-architecture register view for each tracee (arch.NewRegs).
func NewRegistry(newRegs func() arch.Regs) *Registry {
	return &Registry{tracees: make(map[int]*Tracee), newRegs: newRegs}
}

// Get returns the tracee for pid, or nil if untracked.
func (r *Registry) Get(pid int) *Tracee { return r.tracees[pid] }

// Len reports how many tracees are still alive.
func (r *Registry) Len() int { return len(r.alive) }

// Create registers a brand-new tracee (the init process, or a freshly
// cloned child) with the given filesystem view.
func (r *Registry) Create(pid int, fsView *fs.View) *Tracee {
	t := NewTracee(pid, fsView, r.newRegs())
	r.tracees[pid] = t
	r.alive = append(r.alive, pid)
	return t
}

// Remove drops pid from the registry once it has exited or been killed.
func (r *Registry) Remove(pid int) {
	delete(r.tracees, pid)
	for i, p := range r.alive {
		if p == pid {
			r.alive = append(r.alive[:i], r.alive[i+1:]...)
			break
		}
	}
}

// SpawnChild builds the
// child Tracee that inherits from parent, sharing its *fs.View directly
// when CLONE_FS is set (the pointer is shared, not refcounted; Go's GC
// retires it once the last referencing Tracee is collected) or deep-
// copying it otherwise.
func (r *Registry) SpawnChild(parent *Tracee, childPid int, cloneFS bool) *Tracee {
	var childFS *fs.View
	if cloneFS {
		childFS = parent.FS
	} else {
		childFS = parent.FS.Clone()
	}
	child := r.Create(childPid, childFS)
	child.Exe = parent.Exe
	child.Heap = parent.Heap
	child.Seccomp = parent.Seccomp
	child.SysexitPending = parent.SysexitPending
	child.SigStop = SigStopWaitForEvent
	return child
}

// CloneFlagsFromSyscall recovers the CLONE_FS-relevant flags for a
// fork/vfork/clone event: only clone(2) can request filesystem
// sharing, and it carries its flags in SysArg1; fork and vfork never
// share.
func CloneFlagsFromSyscall(sysnum uintptr, regs arch.Regs) int {
	switch sysnum {
	case unix.SYS_CLONE:
		return regs.SysArg(arch.Current, 0).Int()
	default:
		return 0
	}
}
