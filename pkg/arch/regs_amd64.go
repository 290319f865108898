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

//go:build amd64

package arch

import (
	"golang.org/x/sys/unix"
)

// invalidSyscallNum is poked into orig_rax to make the kernel skip the
// syscall entirely (see cancel_syscall in the translator design notes).
const invalidSyscallNum = ^uintptr(0)

// amd64Regs is the amd64 Regs implementation: the Original snapshot
// frozen at syscall-enter, the mutable Current snapshot, and the last
// register set known to be live in the kernel, kept so Push can skip
// the ioctl when nothing would change.
type amd64Regs struct {
	original unix.PtraceRegs
	current  unix.PtraceRegs
	live     unix.PtraceRegs
}

// NewRegs constructs the Regs implementation for the running architecture.
func NewRegs() Regs { return &amd64Regs{} }

func (r *amd64Regs) Arch() ID { return AMD64 }

func (r *amd64Regs) Fetch(pid int) error {
	if err := unix.PtraceGetRegs(pid, &r.original); err != nil {
		return err
	}
	r.current = r.original
	r.live = r.original
	return nil
}

func (r *amd64Regs) FetchCurrent(pid int) error {
	if err := unix.PtraceGetRegs(pid, &r.current); err != nil {
		return err
	}
	r.live = r.current
	return nil
}

func (r *amd64Regs) Push(pid int, onlyResult bool) error {
	want := r.current
	if onlyResult {
		// restore_original_regs: only Rax (the result register) is
		// permitted to diverge from the enter-time snapshot.
		want = r.original
		want.Rax = r.current.Rax
	}
	if want == r.live {
		// Register push minimality: nothing changed, issue no ioctl.
		return nil
	}
	r.current = want
	if err := unix.PtraceSetRegs(pid, &r.current); err != nil {
		return err
	}
	r.live = r.current
	return nil
}

func (r *amd64Regs) SysNum(v RegVersion) uintptr {
	return uintptr(r.snap(v).Orig_rax)
}

func (r *amd64Regs) SetSysNum(n uintptr) { r.current.Orig_rax = uint64(n) }

func (r *amd64Regs) SysArg(v RegVersion, n int) SyscallArgument {
	regs := r.snap(v)
	switch n {
	case 0:
		return SyscallArgument{uintptr(regs.Rdi)}
	case 1:
		return SyscallArgument{uintptr(regs.Rsi)}
	case 2:
		return SyscallArgument{uintptr(regs.Rdx)}
	case 3:
		return SyscallArgument{uintptr(regs.R10)}
	case 4:
		return SyscallArgument{uintptr(regs.R8)}
	case 5:
		return SyscallArgument{uintptr(regs.R9)}
	default:
		return SyscallArgument{}
	}
}

func (r *amd64Regs) SetSysArg(n int, value uintptr) {
	switch n {
	case 0:
		r.current.Rdi = uint64(value)
	case 1:
		r.current.Rsi = uint64(value)
	case 2:
		r.current.Rdx = uint64(value)
	case 3:
		r.current.R10 = uint64(value)
	case 4:
		r.current.R8 = uint64(value)
	case 5:
		r.current.R9 = uint64(value)
	}
}

func (r *amd64Regs) SysResult(v RegVersion) int64 { return int64(r.snap(v).Rax) }
func (r *amd64Regs) SetSysResult(value int64)     { r.current.Rax = uint64(value) }

func (r *amd64Regs) StackPointer(v RegVersion) uintptr { return uintptr(r.snap(v).Rsp) }
func (r *amd64Regs) SetStackPointer(value uintptr)     { r.current.Rsp = uint64(value) }

func (r *amd64Regs) InstrPointer(v RegVersion) uintptr { return uintptr(r.snap(v).Rip) }
func (r *amd64Regs) SetInstrPointer(value uintptr)     { r.current.Rip = uint64(value) }

func (r *amd64Regs) CancelSyscall() { r.current.Orig_rax = uint64(invalidSyscallNum) }

func (r *amd64Regs) RestoreOriginal(n int) {
	switch n {
	case -1:
		r.current.Rsp = r.original.Rsp
	case 0:
		r.current.Rdi = r.original.Rdi
	case 1:
		r.current.Rsi = r.original.Rsi
	case 2:
		r.current.Rdx = r.original.Rdx
	case 3:
		r.current.R10 = r.original.R10
	case 4:
		r.current.R8 = r.original.R8
	case 5:
		r.current.R9 = r.original.R9
	}
}

func (r *amd64Regs) snap(v RegVersion) unix.PtraceRegs {
	if v == Original {
		return r.original
	}
	return r.current
}
