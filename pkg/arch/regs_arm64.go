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

//go:build arm64

package arch

import (
	"golang.org/x/sys/unix"
)

// invalidSyscallNum is poked into x8 to make the kernel skip the syscall
// entirely. AArch64 has no out-of-band "orig" syscall register, so -1 is
// used, the same convention strace relies on.
const invalidSyscallNum = ^uintptr(0)

// arm64Regs is the arm64 Regs implementation. x8 carries the syscall
// number, x0-x5 the six arguments, x0 the return value on exit.
type arm64Regs struct {
	original unix.PtraceRegs
	current  unix.PtraceRegs
	live     unix.PtraceRegs
}

// NewRegs constructs the Regs implementation for the running architecture.
func NewRegs() Regs { return &arm64Regs{} }

func (r *arm64Regs) Arch() ID { return ARM64 }

func (r *arm64Regs) Fetch(pid int) error {
	if err := unix.PtraceGetRegs(pid, &r.original); err != nil {
		return err
	}
	r.current = r.original
	r.live = r.original
	return nil
}

func (r *arm64Regs) FetchCurrent(pid int) error {
	if err := unix.PtraceGetRegs(pid, &r.current); err != nil {
		return err
	}
	r.live = r.current
	return nil
}

func (r *arm64Regs) Push(pid int, onlyResult bool) error {
	want := r.current
	if onlyResult {
		want = r.original
		want.Regs[0] = r.current.Regs[0]
	}
	if want == r.live {
		return nil
	}
	r.current = want
	if err := unix.PtraceSetRegs(pid, &r.current); err != nil {
		return err
	}
	r.live = r.current
	return nil
}

func (r *arm64Regs) SysNum(v RegVersion) uintptr { return uintptr(r.snap(v).Regs[8]) }
func (r *arm64Regs) SetSysNum(n uintptr)         { r.current.Regs[8] = uint64(n) }

func (r *arm64Regs) SysArg(v RegVersion, n int) SyscallArgument {
	regs := r.snap(v)
	if n < 0 || n > 5 {
		return SyscallArgument{}
	}
	return SyscallArgument{uintptr(regs.Regs[n])}
}

func (r *arm64Regs) SetSysArg(n int, value uintptr) {
	if n < 0 || n > 5 {
		return
	}
	r.current.Regs[n] = uint64(value)
}

func (r *arm64Regs) SysResult(v RegVersion) int64 { return int64(r.snap(v).Regs[0]) }
func (r *arm64Regs) SetSysResult(value int64)     { r.current.Regs[0] = uint64(value) }

func (r *arm64Regs) StackPointer(v RegVersion) uintptr { return uintptr(r.snap(v).Sp) }
func (r *arm64Regs) SetStackPointer(value uintptr)     { r.current.Sp = value }

func (r *arm64Regs) InstrPointer(v RegVersion) uintptr { return uintptr(r.snap(v).Pc) }
func (r *arm64Regs) SetInstrPointer(value uintptr)     { r.current.Pc = value }

func (r *arm64Regs) CancelSyscall() { r.current.Regs[8] = uint64(invalidSyscallNum) }

func (r *arm64Regs) RestoreOriginal(n int) {
	switch {
	case n == -1:
		r.current.Sp = r.original.Sp
	case n >= 0 && n <= 5:
		r.current.Regs[n] = r.original.Regs[n]
	}
}

func (r *arm64Regs) snap(v RegVersion) unix.PtraceRegs {
	if v == Original {
		return r.original
	}
	return r.current
}
