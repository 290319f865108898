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

package memio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"gvisor.dev/protrace/pkg/arch"
)

// stackRegs is a minimal arch.Regs carrying just the two stack-pointer
// snapshots AllocOnStack consults.
type stackRegs struct {
	id         arch.ID
	originalSP uintptr
	currentSP  uintptr
}

func (r *stackRegs) Arch() arch.ID          { return r.id }
func (r *stackRegs) Fetch(int) error        { return nil }
func (r *stackRegs) FetchCurrent(int) error { return nil }
func (r *stackRegs) Push(int, bool) error   { return nil }
func (r *stackRegs) SysNum(arch.RegVersion) uintptr { return 0 }
func (r *stackRegs) SetSysNum(uintptr)              {}
func (r *stackRegs) SysArg(arch.RegVersion, int) arch.SyscallArgument {
	return arch.SyscallArgument{}
}
func (r *stackRegs) SetSysArg(int, uintptr)         {}
func (r *stackRegs) SysResult(arch.RegVersion) int64 { return 0 }
func (r *stackRegs) SetSysResult(int64)             {}
func (r *stackRegs) StackPointer(v arch.RegVersion) uintptr {
	if v == arch.Original {
		return r.originalSP
	}
	return r.currentSP
}
func (r *stackRegs) SetStackPointer(v uintptr)            { r.currentSP = v }
func (r *stackRegs) InstrPointer(arch.RegVersion) uintptr { return 0 }
func (r *stackRegs) SetInstrPointer(uintptr)              {}
func (r *stackRegs) CancelSyscall()                       {}
func (r *stackRegs) RestoreOriginal(int)                  {}

func TestAllocOnStackSkipsRedZoneOnce(t *testing.T) {
	regs := &stackRegs{id: arch.AMD64, originalSP: 0x10000, currentSP: 0x10000}

	// First allocation from the untouched stack pointer also clears the
	// ABI red zone.
	addr, err := AllocOnStack(regs, 64)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x10000-64-RedZoneSize), addr)

	// Subsequent allocations only move by their own size.
	addr2, err := AllocOnStack(regs, 32)
	require.NoError(t, err)
	assert.Equal(t, addr-32, addr2)
}

func TestAllocOnStackNoRedZoneOnArm64(t *testing.T) {
	regs := &stackRegs{id: arch.ARM64, originalSP: 0x10000, currentSP: 0x10000}

	addr, err := AllocOnStack(regs, 64)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x10000-64), addr)
}

func TestAllocOnStackOverflow(t *testing.T) {
	regs := &stackRegs{id: arch.ARM64, originalSP: 16, currentSP: 16}

	_, err := AllocOnStack(regs, 1024)
	assert.ErrorIs(t, err, unix.EFAULT)
}

func TestAllocOnStackNegativeSizeReclaims(t *testing.T) {
	regs := &stackRegs{id: arch.ARM64, originalSP: 0x10000, currentSP: 0x8000}

	addr, err := AllocOnStack(regs, -0x100)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x8100), addr)
}
