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
	"golang.org/x/sys/unix"

	"gvisor.dev/protrace/pkg/arch"
)

// The kernel places a loaded program's break right after its last
// segment; a program mapped by the loader shim instead inherits the
// shim's break, which sits inside the shim's own image. brk is
// therefore emulated: the heap lives in an anonymous mapping the
// tracer grows with mremap, and the break value the tracee observes is
// synthesised here.

const (
	heapPageSize = 4096

	// initialHeapSize is the arena reserved by the first brk call.
	// MAP_NORESERVE keeps the reservation free until touched.
	initialHeapSize = 16 << 20
)

// Heap is the per-tracee emulated-heap state. It is copied on fork
// (the address space is copied with it) and reset by a successful
// execve.
type Heap struct {
	Base uintptr // arena start; 0 until the first brk allocates it
	Size uintptr // current arena length
	Brk  uintptr // break value reported to the tracee

	// pendingBrk is the break requested by an in-flight mremap grow,
	// committed at exit-stage iff the kernel reports success.
	pendingBrk uintptr
}

// Reset drops all heap state; called when a tracee's image is replaced.
func (h *Heap) Reset() { *h = Heap{} }

func heapAlignUp(x uintptr) uintptr {
	return (x + heapPageSize - 1) &^ (heapPageSize - 1)
}

// enterBrk rewrites a brk syscall at enter-stage: the first call
// becomes the arena mmap, a grow beyond the arena becomes mremap, and
// everything else is answered from cached state without entering the
// kernel at all.
func enterBrk(c Context) error {
	h := c.Heap
	if h == nil {
		return nil // pass through untouched
	}
	requested := c.Regs.SysArg(arch.Current, 0).Pointer()

	switch {
	case h.Base == 0:
		c.Regs.SetSysNum(sysMmap)
		c.Regs.SetSysArg(0, 0)
		c.Regs.SetSysArg(1, initialHeapSize)
		c.Regs.SetSysArg(2, unix.PROT_READ|unix.PROT_WRITE)
		c.Regs.SetSysArg(3, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
		c.Regs.SetSysArg(4, ^uintptr(0))
		c.Regs.SetSysArg(5, 0)

	case requested == 0 || requested == h.Brk:
		c.Regs.CancelSyscall()

	case requested > h.Base && requested <= h.Base+h.Size:
		// Still inside the arena: no kernel work, just move the break.
		h.Brk = requested
		c.Regs.CancelSyscall()

	case requested > h.Base+h.Size:
		newSize := heapAlignUp(requested - h.Base)
		h.pendingBrk = requested
		c.Regs.SetSysNum(sysMremap)
		c.Regs.SetSysArg(0, h.Base)
		c.Regs.SetSysArg(1, h.Size)
		c.Regs.SetSysArg(2, newSize)
		c.Regs.SetSysArg(3, 0)

	default:
		// Below the arena base: the break cannot move there.
		c.Regs.CancelSyscall()
	}
	return nil
}

// exitBrk reshapes the mmap/mremap result back into a break value, or
// synthesises one for a cancelled call.
func exitBrk(c Context) error {
	h := c.Heap
	if h == nil {
		return nil
	}
	result := c.Regs.SysResult(arch.Current)

	switch {
	case h.Base == 0:
		if result > 0 {
			h.Base = uintptr(result)
			h.Size = initialHeapSize
			h.Brk = h.Base
		}
		c.Regs.SetSysResult(int64(h.Brk))

	case h.pendingBrk != 0:
		if uintptr(result) == h.Base {
			h.Size = heapAlignUp(h.pendingBrk - h.Base)
			h.Brk = h.pendingBrk
		}
		h.pendingBrk = 0
		c.Regs.SetSysResult(int64(h.Brk))

	default:
		c.Regs.SetSysResult(int64(h.Brk))
	}
	return nil
}
