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

// Package execve implements the execve pivot: on enter, it parses
// the tracee's target program into a loader.LoadInfo and redirects the
// syscall at the loader shim; on exit, it serialises that LoadInfo into
// a load-script written to the tracee's stack.
package execve

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"gvisor.dev/protrace/pkg/arch"
	"gvisor.dev/protrace/pkg/fs"
	"gvisor.dev/protrace/pkg/loader"
	"gvisor.dev/protrace/pkg/memio"
)

// Params bundles the per-tracee state the pivot needs, supplied by
// pkg/tracer rather than a shared Tracee type, so this package has no
// dependency on the tracer's own bookkeeping.
type Params struct {
	Pid          int
	Regs         arch.Regs
	View         *fs.View
	Arch         arch.ID
	ShimHostPath string
}

// Result is what EnterTranslate hands back for the tracer to stash on
// its Tracee until the matching execve-exit stop.
type Result struct {
	Info *loader.LoadInfo
	Argv []string
}

const argPointerWordSize = 8

// EnterTranslate implements the execve-enter pivot: read the path and
// argv, run the shebang/ELF binfmt chain (capped at
// loader.MaxShebangIterations), then replace SysArg1 with the loader
// shim's host path and SysArg2 with a freshly materialised argv.
func EnterTranslate(p Params) (*Result, error) {
	rawGuestPath, err := memio.ReadString(p.Pid, p.Regs.SysArg(arch.Current, 0).Pointer())
	if err != nil {
		return nil, errors.Wrap(err, "execve: reading path")
	}
	argv, err := readArgv(p.Pid, p.Regs.SysArg(arch.Current, 1).Pointer())
	if err != nil {
		return nil, errors.Wrap(err, "execve: reading argv")
	}

	guestPath := rawGuestPath

	resolved := false
	for i := 0; i < loader.MaxShebangIterations; i++ {
		hostPath, err := p.View.Translate(guestPath, true)
		if err != nil {
			return nil, err
		}
		interp, arg, ok, err := loader.ParseShebang(hostPath)
		if err != nil {
			return nil, err
		}
		if !ok {
			resolved = true
			break
		}
		argv = loader.SpliceArgv(interp, arg, guestPath, argv)
		guestPath = interp
	}
	if !resolved {
		return nil, unix.ELOOP
	}

	hostPath, err := p.View.Translate(guestPath, true)
	if err != nil {
		return nil, err
	}

	info, err := loader.LoadELF(p.Arch, rawGuestPath, guestPath, hostPath, func(guestInterpPath string) (string, string, error) {
		canon, err := p.View.Canonicalize(guestInterpPath, true)
		if err != nil {
			return "", "", err
		}
		host, err := p.View.Translate(canon, true)
		if err != nil {
			return "", "", err
		}
		return canon, host, nil
	})
	if err != nil {
		return nil, err
	}

	// Replace the executable path (arg1) with the loader shim's host
	// path, and argv (arg2) with a freshly materialised array -- always,
	// even when the binfmt chain made no changes, since the kernel must
	// now exec the shim rather than the guest program.
	shimAddr, err := memio.AllocateAndWrite(p.Pid, p.Regs, append([]byte(p.ShimHostPath), 0))
	if err != nil {
		return nil, err
	}
	p.Regs.SetSysArg(0, shimAddr)

	newArgvAddr, err := materialiseArgv(p.Pid, p.Regs, argv)
	if err != nil {
		return nil, err
	}
	p.Regs.SetSysArg(1, newArgvAddr)

	return &Result{Info: info, Argv: argv}, nil
}

func readArgv(pid int, addr uintptr) ([]string, error) {
	var out []string
	for i := 0; ; i++ {
		ptr, err := memio.ReadWord(pid, addr+uintptr(i*argPointerWordSize))
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			break
		}
		s, err := memio.ReadString(pid, uintptr(ptr))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		if len(out) > 4096 {
			return nil, unix.E2BIG
		}
	}
	return out, nil
}

func bytesToWord(b []byte) uint64 {
	var w uint64
	for i := 0; i < len(b) && i < 8; i++ {
		w |= uint64(b[i]) << (8 * i)
	}
	return w
}

func wordToBytes(w uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(w >> (8 * i))
	}
	return b
}

// materialiseArgv writes each argv string and a NULL-terminated pointer
// array onto the tracee's stack, returning the array's address.
func materialiseArgv(pid int, regs arch.Regs, argv []string) (uintptr, error) {
	addrs := make([]uint64, 0, len(argv))
	// Allocate strings back-to-front so the pointer array ends up above
	// them on the (downward-growing) stack once allocated afterwards.
	for i := len(argv) - 1; i >= 0; i-- {
		addr, err := memio.AllocateAndWrite(pid, regs, append([]byte(argv[i]), 0))
		if err != nil {
			return 0, err
		}
		addrs = append([]uint64{uint64(addr)}, addrs...)
	}

	buf := make([]byte, 0, (len(addrs)+1)*8)
	for _, a := range addrs {
		buf = append(buf, wordToBytes(a)...)
	}
	buf = append(buf, wordToBytes(0)...)

	return memio.AllocateAndWrite(pid, regs, buf)
}
