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

// Package arch provides per-architecture, named access to a ptrace
// register snapshot: the syscall number, its six arguments, the return
// value, the stack pointer and the instruction pointer.
package arch

import "fmt"

// ID identifies a supported tracee architecture.
type ID int

const (
	AMD64 ID = iota
	ARM64
)

func (a ID) String() string {
	switch a {
	case AMD64:
		return "amd64"
	case ARM64:
		return "arm64"
	default:
		return fmt.Sprintf("ID(%d)", int(a))
	}
}

// PIELoadBase is the fixed address added to a position-independent
// executable's mappings when its first PT_LOAD segment has p_vaddr == 0.
func (a ID) PIELoadBase() uintptr {
	switch a {
	case AMD64:
		return 0x555555554000
	case ARM64:
		return 0x555555554000
	default:
		return 0x400000
	}
}

// InterpLoadBase is the base used for the ELF interpreter (ld.so), kept
// distinct from the main executable's so the two never overlap.
func (a ID) InterpLoadBase() uintptr {
	return a.PIELoadBase() + 0x100000000
}

// ShimLoadAddress is the fixed virtual address the loader shim is linked
// at, chosen to stay clear of both load bases above.
func (a ID) ShimLoadAddress() uintptr {
	return 0x70000000
}

// SyscallArgument is one of a syscall's six raw argument words, with
// typed accessors matching the common C argument widths.
type SyscallArgument struct {
	Value uintptr
}

func (a SyscallArgument) Pointer() uintptr { return a.Value }
func (a SyscallArgument) Int() int         { return int(int32(a.Value)) }
func (a SyscallArgument) Uint() uint       { return uint(uint32(a.Value)) }
func (a SyscallArgument) Int64() int64     { return int64(a.Value) }
func (a SyscallArgument) Uint64() uint64   { return uint64(a.Value) }
func (a SyscallArgument) SizeT() uintptr   { return a.Value }
func (a SyscallArgument) ModeT() uint32    { return uint32(a.Value) }

// SyscallArguments is the six-argument form used by rewriters.
type SyscallArguments [6]SyscallArgument

// RegVersion selects which of the two snapshots a Regs method reads from
// or writes to.
type RegVersion int

const (
	// Original is the frozen snapshot taken at syscall-enter.
	Original RegVersion = iota
	// Current is the mutable snapshot rewriters operate on.
	Current
)

// Regs is the per-architecture register view. One concrete
// implementation exists per supported architecture, selected at compile
// time via build tags (regs_amd64.go, regs_arm64.go).
type Regs interface {
	// Arch reports which architecture this view decodes.
	Arch() ID

	// Fetch reads the live ptrace register set for pid into both the
	// Original and Current snapshots (only valid immediately after
	// PTRACE_GETREGS at a fresh enter-stop).
	Fetch(pid int) error

	// FetchCurrent re-reads only Current, leaving Original untouched;
	// used when re-entering the translator mid syscall-exit handling.
	FetchCurrent(pid int) error

	// Push writes Current back to the kernel via PTRACE_SETREGS, unless
	// onlyResult is true, in which case only the result register may
	// differ from Original (the exit-stage default, "restore_original_regs").
	// No ioctl is issued if the relevant registers are unchanged
	// (register push minimality).
	Push(pid int, onlyResult bool) error

	SysNum(v RegVersion) uintptr
	SetSysNum(n uintptr)

	SysArg(v RegVersion, n int) SyscallArgument
	SetSysArg(n int, value uintptr)

	SysResult(v RegVersion) int64
	SetSysResult(value int64)

	StackPointer(v RegVersion) uintptr
	SetStackPointer(value uintptr)

	InstrPointer(v RegVersion) uintptr
	SetInstrPointer(value uintptr)

	// CancelSyscall sets SysNum to an invalid syscall number so the
	// kernel executes no syscall on exit; the caller is expected to
	// synthesise SysResult at exit-stage.
	CancelSyscall()

	// RestoreOriginal copies register n (by syscall-argument index, or
	// -1 for the stack pointer) from Original into Current.
	RestoreOriginal(n int)
}
