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

// Package memio reads and writes strings and byte buffers in a tracee's
// address space, and allocates scratch space on its stack by moving
// its stack pointer while it is stopped.
package memio

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PathMax bounds the strings this package will read; exceeding it is
// reported as ENAMETOOLONG, matching kernel path handling.
const PathMax = 4096

const wordSize = 8

// ReadString reads a NUL-terminated string from the tracee's address
// space starting at addr, capped at PathMax bytes.
func ReadString(pid int, addr uintptr) (string, error) {
	buf, err := ReadBytes(pid, addr, PathMax)
	if err != nil {
		return "", err
	}
	// ReadBytes already stopped before the NUL; a result filling the
	// whole PathMax window had no terminator inside it.
	if len(buf) >= PathMax {
		return "", unix.ENAMETOOLONG
	}
	return string(buf), nil
}

// ReadBytes reads up to max bytes from the tracee's address space, via
// process_vm_readv with a PTRACE_PEEKDATA fallback for kernels without
// cross-memory attach, stopping early at the first NUL byte if one is
// found (callers that want the full buffer should request exactly the
// size they need).
func ReadBytes(pid int, addr uintptr, max int) ([]byte, error) {
	buf := make([]byte, max)
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(max)}}
	remote := []unix.RemoteIovec{{Base: addr, Len: max}}
	n, err := unix.ProcessVMReadv(pid, local, remote, 0)
	if err == nil {
		if idx := indexZero(buf[:n]); idx >= 0 {
			return buf[:idx], nil
		}
		return buf[:n], nil
	}

	// Fall back to word-at-a-time PEEKDATA for kernels and containers
	// where cross-memory attach is unavailable.
	out := make([]byte, 0, max)
	for off := 0; off < max; off += wordSize {
		wbuf := make([]byte, wordSize)
		if _, err := unix.PtracePeekData(pid, addr+uintptr(off), wbuf); err != nil {
			return nil, errors.Wrapf(err, "memio: peek at %#x", addr+uintptr(off))
		}
		if idx := indexZero(wbuf); idx >= 0 {
			out = append(out, wbuf[:idx]...)
			return out, nil
		}
		out = append(out, wbuf...)
	}
	return out, nil
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// ReadWord reads one machine word at addr. Unlike ReadBytes it never
// treats a zero byte as a terminator, so it is the right primitive for
// pointer-sized values (argv entries, auxv slots).
func ReadWord(pid int, addr uintptr) (uint64, error) {
	buf := make([]byte, wordSize)
	if _, err := unix.PtracePeekData(pid, addr, buf); err != nil {
		return 0, errors.Wrapf(err, "memio: peek word at %#x", addr)
	}
	var w uint64
	for i, b := range buf {
		w |= uint64(b) << (8 * i)
	}
	return w, nil
}

// WriteBytes writes data into the tracee's address space at addr. The
// trailing partial word is merged with a peeked word so bytes beyond
// addr+len(data) are preserved.
func WriteBytes(pid int, addr uintptr, data []byte) error {
	full := len(data) / wordSize * wordSize
	for off := 0; off < full; off += wordSize {
		if err := pokeWord(pid, addr+uintptr(off), data[off:off+wordSize]); err != nil {
			return err
		}
	}
	if rem := len(data) - full; rem > 0 {
		peek := make([]byte, wordSize)
		if _, err := unix.PtracePeekData(pid, addr+uintptr(full), peek); err != nil {
			return errors.Wrapf(err, "memio: peek tail word at %#x", addr+uintptr(full))
		}
		copy(peek, data[full:])
		if err := pokeWord(pid, addr+uintptr(full), peek); err != nil {
			return err
		}
	}
	return nil
}

func pokeWord(pid int, addr uintptr, word []byte) error {
	if _, err := unix.PtracePokeData(pid, addr, word); err != nil {
		return errors.Wrapf(err, "memio: poke at %#x", addr)
	}
	return nil
}

// WriteCString NUL-terminates s and writes it via WriteBytes.
func WriteCString(pid int, addr uintptr, s string) error {
	return WriteBytes(pid, addr, append([]byte(s), 0))
}
