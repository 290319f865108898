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

package syscalls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"gvisor.dev/protrace/pkg/arch"
)

// fakeRegs is an in-memory arch.Regs for rewriter tests that never
// touch a live tracee.
type fakeRegs struct {
	sysnum    uintptr
	args      [6]uintptr
	result    int64
	sp        uintptr
	cancelled bool
	pushes    int
}

func (r *fakeRegs) Arch() arch.ID              { return arch.AMD64 }
func (r *fakeRegs) Fetch(int) error            { return nil }
func (r *fakeRegs) FetchCurrent(int) error     { return nil }
func (r *fakeRegs) Push(int, bool) error       { r.pushes++; return nil }
func (r *fakeRegs) SysNum(arch.RegVersion) uintptr { return r.sysnum }
func (r *fakeRegs) SetSysNum(n uintptr)        { r.sysnum = n }
func (r *fakeRegs) SysArg(_ arch.RegVersion, n int) arch.SyscallArgument {
	return arch.SyscallArgument{Value: r.args[n]}
}
func (r *fakeRegs) SetSysArg(n int, v uintptr)            { r.args[n] = v }
func (r *fakeRegs) SysResult(arch.RegVersion) int64       { return r.result }
func (r *fakeRegs) SetSysResult(v int64)                  { r.result = v }
func (r *fakeRegs) StackPointer(arch.RegVersion) uintptr  { return r.sp }
func (r *fakeRegs) SetStackPointer(v uintptr)             { r.sp = v }
func (r *fakeRegs) InstrPointer(arch.RegVersion) uintptr  { return 0 }
func (r *fakeRegs) SetInstrPointer(uintptr)               {}
func (r *fakeRegs) CancelSyscall()                        { r.cancelled = true }
func (r *fakeRegs) RestoreOriginal(int)                   {}

func brkContext(regs *fakeRegs, h *Heap) Context {
	return Context{Pid: 1, Regs: regs, Heap: h}
}

func TestBrkFirstCallBecomesMmap(t *testing.T) {
	regs := &fakeRegs{args: [6]uintptr{0}}
	h := &Heap{}

	require.NoError(t, enterBrk(brkContext(regs, h)))
	assert.Equal(t, uintptr(sysMmap), regs.sysnum)
	assert.Equal(t, uintptr(initialHeapSize), regs.args[1])

	// The kernel hands back the arena; the tracee sees it as the break.
	regs.result = 0x7f0000000000
	require.NoError(t, exitBrk(brkContext(regs, h)))
	assert.Equal(t, uintptr(0x7f0000000000), h.Base)
	assert.Equal(t, int64(0x7f0000000000), regs.result)
}

func TestBrkInsideArenaIsCancelled(t *testing.T) {
	regs := &fakeRegs{}
	h := &Heap{Base: 0x1000000, Size: initialHeapSize, Brk: 0x1000000}

	regs.args[0] = 0x1004000
	require.NoError(t, enterBrk(brkContext(regs, h)))
	assert.True(t, regs.cancelled)
	assert.Equal(t, uintptr(0x1004000), h.Brk)

	regs.result = -int64(unix.ENOSYS)
	require.NoError(t, exitBrk(brkContext(regs, h)))
	assert.Equal(t, int64(0x1004000), regs.result)
}

func TestBrkGrowBecomesMremap(t *testing.T) {
	regs := &fakeRegs{}
	h := &Heap{Base: 0x1000000, Size: 0x10000, Brk: 0x100f000}

	requested := uintptr(0x1020000)
	regs.args[0] = requested
	require.NoError(t, enterBrk(brkContext(regs, h)))
	assert.Equal(t, uintptr(sysMremap), regs.sysnum)
	assert.Equal(t, uintptr(0x1000000), regs.args[0])
	assert.Equal(t, uintptr(0x10000), regs.args[1])
	assert.Equal(t, uintptr(0x20000), regs.args[2])

	regs.result = 0x1000000 // mremap succeeded in place
	require.NoError(t, exitBrk(brkContext(regs, h)))
	assert.Equal(t, requested, h.Brk)
	assert.Equal(t, uintptr(0x20000), h.Size)
	assert.Equal(t, int64(requested), regs.result)
}

func TestBrkGrowFailureLeavesBreak(t *testing.T) {
	regs := &fakeRegs{}
	h := &Heap{Base: 0x1000000, Size: 0x10000, Brk: 0x100f000}

	regs.args[0] = 0x1020000
	require.NoError(t, enterBrk(brkContext(regs, h)))
	regs.result = -int64(unix.ENOMEM)
	require.NoError(t, exitBrk(brkContext(regs, h)))
	assert.Equal(t, uintptr(0x100f000), h.Brk)
	assert.Equal(t, int64(0x100f000), regs.result)
}

func TestBrkBelowBaseIsRefused(t *testing.T) {
	regs := &fakeRegs{}
	h := &Heap{Base: 0x1000000, Size: 0x10000, Brk: 0x1004000}

	regs.args[0] = 0x800000
	require.NoError(t, enterBrk(brkContext(regs, h)))
	assert.True(t, regs.cancelled)

	require.NoError(t, exitBrk(brkContext(regs, h)))
	assert.Equal(t, int64(0x1004000), regs.result)
}
