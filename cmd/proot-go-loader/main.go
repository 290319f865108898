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

// Binary proot-go-loader is the loader shim: the tracer substitutes it
// for every guest execve and, once the kernel has loaded it, writes a
// load-script onto its stack (pkg/loadscript wire format) with the
// first argument register pointing at the first record. The shim
// interprets the script with raw syscalls only - open, mmap, mprotect,
// close, prctl, execve - then patches the auxiliary vector and jumps
// to the real program's entry point.
//
// The entry trampoline (rt0_*.s) captures the script address before
// the runtime starts, so the binary must be linked with its entry
// symbol overridden and its text pinned clear of guest load ranges:
//
//	go build -ldflags="-E _rt0_shim -T 0x70000000" ./cmd/proot-go-loader
package main

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// loadScriptAddr returns the script address the entry trampoline
// (rt0_*.s) saved from the first argument register before the runtime
// initialised. Zero means the binary was run directly rather than
// exec'd by the tracer.
func loadScriptAddr() uintptr

// jumpToEntry switches the stack pointer to sp, clears the registers
// the ABI reserves (rtld_fini, flags) and jumps to entry. Implemented
// per architecture in jump_*.s. Never returns.
func jumpToEntry(entry, sp uintptr)

// Load-script record tags, one machine word each on the wire. These
// mirror pkg/loadscript; the shim re-declares them so it depends on
// nothing but the syscall layer.
const (
	tagOpenNext = iota
	tagOpen
	tagMmapFile
	tagMmapAnonymous
	tagMakeStackExec
	tagStartTraced
	tagStart
)

// Auxiliary vector tags the shim must rewrite for the loaded program.
const (
	atNull   = 0
	atPhdr   = 3
	atPhent  = 4
	atPhnum  = 5
	atBase   = 7
	atEntry  = 9
	atExecfn = 31
)

func main() {
	script := loadScriptAddr()
	if script == 0 {
		unix.Exit(127)
	}
	interpret(script)
	unix.Exit(125) // a well-formed script never falls off the end
}

func word(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

const wordSize = unsafe.Sizeof(uintptr(0))

func interpret(cursor uintptr) {
	fd := -1
	freshOpen := false
	atBaseAddr := uintptr(0)

	for {
		tag := word(cursor)
		cursor += wordSize

		switch tag {
		case tagOpen, tagOpenNext:
			path := word(cursor)
			cursor += wordSize
			if fd >= 0 {
				sysClose(fd)
			}
			fd = sysOpen(path)
			if fd < 0 {
				unix.Exit(124)
			}
			freshOpen = true

		case tagMmapFile:
			addr, length, prot, offset, clear := word(cursor), word(cursor+wordSize),
				word(cursor+2*wordSize), word(cursor+3*wordSize), word(cursor+4*wordSize)
			cursor += 5 * wordSize
			got := sysMmap(addr, length, prot, unix.MAP_PRIVATE|unix.MAP_FIXED, fd, offset)
			if got != addr {
				unix.Exit(123)
			}
			zeroTail(addr+length-clear, clear)
			if freshOpen {
				atBaseAddr = addr
				freshOpen = false
			}

		case tagMmapAnonymous:
			addr, length, prot := word(cursor), word(cursor+wordSize), word(cursor+2*wordSize)
			cursor += 5 * wordSize
			got := sysMmap(addr, length, prot, unix.MAP_PRIVATE|unix.MAP_FIXED|unix.MAP_ANONYMOUS, -1, 0)
			if got != addr {
				unix.Exit(123)
			}

		case tagMakeStackExec:
			start := word(cursor)
			cursor += wordSize
			sysMprotect(start, 1, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC|unix.PROT_GROWSDOWN)

		case tagStart, tagStartTraced:
			sp, entry := word(cursor), word(cursor+wordSize)
			phdr, phent, phnum := word(cursor+2*wordSize), word(cursor+3*wordSize), word(cursor+4*wordSize)
			atEntryVal, execfn := word(cursor+5*wordSize), word(cursor+6*wordSize)

			if fd >= 0 {
				sysClose(fd)
			}
			patchAuxv(sp, phdr, phent, phnum, atBaseAddr, atEntryVal, execfn)
			sysSetName(basename(execfn))
			if tag == tagStartTraced {
				// Surface a fresh execve notification to the tracer; it
				// rebuilds the script and restarts this interpreter.
				sysExecve(execfn)
				unix.Exit(122)
			}
			jumpToEntry(entry, sp)

		default:
			unix.Exit(121)
		}
	}
}

// patchAuxv walks the kernel-built stack at sp (argc, argv, NULL,
// envp, NULL, auxv...) and rewrites the entries describing the shim so
// they describe the loaded program instead.
func patchAuxv(sp, phdr, phent, phnum, base, entry, execfn uintptr) {
	p := sp + wordSize // skip argc
	for word(p) != 0 { // skip argv
		p += wordSize
	}
	p += wordSize
	for word(p) != 0 { // skip envp
		p += wordSize
	}
	p += wordSize

	for ; word(p) != atNull; p += 2 * wordSize {
		val := (*uintptr)(unsafe.Pointer(p + wordSize))
		switch word(p) {
		case atPhdr:
			*val = phdr
		case atPhent:
			*val = phent
		case atPhnum:
			*val = phnum
		case atBase:
			*val = base
		case atEntry:
			*val = entry
		case atExecfn:
			*val = execfn
		}
	}
}

func zeroTail(addr, length uintptr) {
	for i := uintptr(0); i < length; i++ {
		*(*byte)(unsafe.Pointer(addr + i)) = 0
	}
}

// basename returns the address of the final path component of the NUL-
// terminated string at path, for PR_SET_NAME.
func basename(path uintptr) uintptr {
	last := path
	for p := path; ; p++ {
		c := *(*byte)(unsafe.Pointer(p))
		if c == 0 {
			return last
		}
		if c == '/' {
			last = p + 1
		}
	}
}

func sysOpen(path uintptr) int {
	dirfd := int64(unix.AT_FDCWD)
	fd, _, errno := unix.Syscall6(unix.SYS_OPENAT, uintptr(dirfd), path, unix.O_RDONLY, 0, 0, 0)
	if errno != 0 {
		return -1
	}
	return int(fd)
}

func sysClose(fd int) {
	unix.Syscall(unix.SYS_CLOSE, uintptr(fd), 0, 0)
}

func sysMmap(addr, length, prot, flags uintptr, fd int, offset uintptr) uintptr {
	got, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, prot, flags, uintptr(fd), offset)
	if errno != 0 {
		return 0
	}
	return got
}

func sysMprotect(addr, length, prot uintptr) {
	unix.Syscall(unix.SYS_MPROTECT, addr, length, prot)
}

func sysSetName(name uintptr) {
	unix.Syscall6(unix.SYS_PRCTL, unix.PR_SET_NAME, name, 0, 0, 0, 0)
}

func sysExecve(path uintptr) {
	var nullVec [1]uintptr
	argv := uintptr(unsafe.Pointer(&nullVec[0]))
	unix.Syscall(unix.SYS_EXECVE, path, argv, argv)
}
