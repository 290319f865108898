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

// Package loader implements the ELF and shebang loaders: parsing a
// guest executable into the LoadInfo the execve pivot (pkg/execve)
// serialises into a load-script.
package loader

import (
	"debug/elf"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"gvisor.dev/protrace/pkg/arch"
)

// PageSize is the only page size this loader supports (amd64/arm64,
// 4 KiB base pages).
const PageSize = 4096

// maxShebangIterations bounds recursive "#!" rewriting: a chain longer
// than this fails with ELOOP rather than looping forever, matching the
// kernel's own interpreter-depth convention.
const maxShebangIterations = 4

// Mapping describes one mmap the loader shim must perform to bring a
// PT_LOAD segment (or BSS tail) into the tracee's address space. All
// fields are page-aligned except ClearLength.
type Mapping struct {
	Addr        uint64
	Length      uint64
	ClearLength uint64
	Prot        uint32
	Flags       uint32
	Offset      uint64
}

// LoadInfo is the parsed form of a guest executable: everything the
// execve pivot needs to build a load-script.
type LoadInfo struct {
	RawPath            string
	CanonicalGuestPath string
	HostPath           string

	Is64                 bool
	Entry                uint64
	PHOff                uint64
	PHEntSize            uint16
	PHNum                uint16
	LoadBase             uint64
	Mappings             []Mapping
	Interp               *LoadInfo
	NeedsExecutableStack bool
}

func pageAlignDown(x uint64) uint64 { return x &^ (PageSize - 1) }
func pageAlignUp(x uint64) uint64   { return pageAlignDown(x+PageSize-1) }

// addMapping computes the one or two Mappings for a PT_LOAD segment,
// splitting into a file-backed mapping and a trailing anonymous mapping
// when memsz > filesz.
func addMapping(vaddr, memsz, filesz, off uint64, prot uint32) []Mapping {
	var out []Mapping

	fileMapStart := pageAlignDown(vaddr)
	fileMapEnd := pageAlignUp(vaddr + filesz)
	fileOff := off - (vaddr - fileMapStart)

	if fileMapEnd > fileMapStart {
		clear := uint64(0)
		if tail := filesz % PageSize; tail != 0 {
			clear = PageSize - tail
		}
		out = append(out, Mapping{
			Addr:        fileMapStart,
			Length:      fileMapEnd - fileMapStart,
			ClearLength: clear,
			Prot:        prot,
			Flags:       unix.MAP_PRIVATE | unix.MAP_FIXED,
			Offset:      fileOff,
		})
	}

	memMapEnd := pageAlignUp(vaddr + memsz)
	if memMapEnd > fileMapEnd {
		out = append(out, Mapping{
			Addr:   fileMapEnd,
			Length: memMapEnd - fileMapEnd,
			Prot:   prot,
			Flags:  unix.MAP_PRIVATE | unix.MAP_FIXED | unix.MAP_ANONYMOUS,
		})
	}

	return out
}

func progFlagsToProt(f elf.ProgFlag) uint32 {
	var prot uint32
	if f&elf.PF_R != 0 {
		prot |= unix.PROT_READ
	}
	if f&elf.PF_W != 0 {
		prot |= unix.PROT_WRITE
	}
	if f&elf.PF_X != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

// LoadELF parses hostPath as an ELF executable. translateInterp, if
// non-nil, is used to resolve a PT_INTERP path from guest to host and
// recurse. Only one interpreter level is permitted: an interpreter
// must itself be statically linked.
func LoadELF(a arch.ID, rawPath, canonicalGuestPath, hostPath string, translateInterp func(guestInterpPath string) (canonical, host string, err error)) (*LoadInfo, error) {
	f, err := elf.Open(hostPath)
	if err != nil {
		return nil, errors.Wrapf(err, "loader: open %s", hostPath)
	}
	defer f.Close()

	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, unix.ENOEXEC
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, unix.EACCES
	}

	li := &LoadInfo{
		RawPath:            rawPath,
		CanonicalGuestPath: canonicalGuestPath,
		HostPath:           hostPath,
		Is64:               f.Class == elf.ELFCLASS64,
		Entry:              f.Entry,
	}

	var firstLoad *elf.Prog
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD {
			firstLoad = prog
			break
		}
	}
	if firstLoad == nil {
		return nil, unix.ENOEXEC
	}

	pieBase := uint64(0)
	firstLoadVaddrZero := false
	if firstLoad.Vaddr == 0 && f.Type == elf.ET_DYN {
		firstLoadVaddrZero = true
		pieBase = uint64(a.PIELoadBase())
	}
	li.LoadBase = pieBase

	for _, prog := range f.Progs {
		switch prog.Type {
		case elf.PT_LOAD:
			base := uint64(0)
			if firstLoadVaddrZero {
				base = pieBase
			}
			maps := addMapping(base+prog.Vaddr, prog.Memsz, prog.Filesz, prog.Off, progFlagsToProt(prog.Flags))
			li.Mappings = append(li.Mappings, maps...)
		case elf.PT_INTERP:
			if li.Interp != nil {
				return nil, errors.New("loader: multiple PT_INTERP segments")
			}
			data := make([]byte, prog.Filesz)
			if _, err := readAt(hostPath, data, int64(prog.Off)); err != nil {
				return nil, errors.Wrap(err, "loader: reading PT_INTERP")
			}
			interpGuestPath := cStringFromBytes(data)
			if translateInterp == nil {
				return nil, errors.New("loader: PT_INTERP present but no resolver supplied")
			}
			interpCanon, interpHost, err := translateInterp(interpGuestPath)
			if err != nil {
				return nil, err
			}
			interpInfo, err := LoadELF(a, interpGuestPath, interpCanon, interpHost, nil)
			if err != nil {
				return nil, errors.Wrap(err, "loader: loading interpreter")
			}
			if interpInfo.LoadBase != 0 {
				// Rebase from PIELoadBase onto the interpreter's own base.
				delta := uint64(a.InterpLoadBase()) - interpInfo.LoadBase
				for i := range interpInfo.Mappings {
					interpInfo.Mappings[i].Addr += delta
				}
				interpInfo.Entry += delta
				interpInfo.LoadBase = uint64(a.InterpLoadBase())
			}
			li.Interp = interpInfo
		case elf.PT_GNU_STACK:
			if prog.Flags&elf.PF_X != 0 {
				li.NeedsExecutableStack = true
			}
		}
	}

	phoff, err := readPhoff(hostPath, li.Is64)
	if err != nil {
		return nil, err
	}
	// AT_PHDR is an in-memory address: the first segment's mapped base
	// plus the header table's offset within it.
	li.PHOff = li.LoadBase + firstLoad.Vaddr - firstLoad.Off + phoff
	li.PHEntSize = progHeaderEntSize(li.Is64)
	li.PHNum = uint16(len(f.Progs))

	if firstLoadVaddrZero {
		li.Entry += pieBase
	}

	return li, nil
}

// readPhoff reads e_phoff directly from the ELF header: debug/elf
// parses program headers but does not re-expose the raw header offset
// fields AT_PHDR needs.
func readPhoff(hostPath string, is64 bool) (uint64, error) {
	var raw [64]byte
	if _, err := readAt(hostPath, raw[:], 0); err != nil {
		return 0, errors.Wrap(err, "loader: reading ELF header")
	}
	order := binary.ByteOrder(binary.LittleEndian)
	if raw[5] == 2 { // EI_DATA == ELFDATA2MSB
		order = binary.BigEndian
	}
	if is64 {
		return order.Uint64(raw[32:40]), nil
	}
	return uint64(order.Uint32(raw[28:32])), nil
}

func progHeaderEntSize(is64 bool) uint16 {
	if is64 {
		return 56
	}
	return 32
}

func cStringFromBytes(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func readAt(path string, buf []byte, off int64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.ReadAt(buf, off)
}
