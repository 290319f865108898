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
	"math"

	"golang.org/x/sys/unix"

	"gvisor.dev/protrace/pkg/arch"
)

// RedZoneSize is the x86_64 System V ABI red zone: bytes below the stack
// pointer the callee may use without adjusting it. alloc_mem_on_stack
// must not collide with it when the stack pointer has not moved yet.
const RedZoneSize = 128

// AllocOnStack moves regs' Current stack pointer down by size bytes
// (plus the red zone, on amd64, when Current still equals Original) and
// returns the new stack pointer, which is the address of the newly
// reserved region. size may be negative.
func AllocOnStack(regs arch.Regs, size int64) (uintptr, error) {
	originalSP := regs.StackPointer(arch.Original)
	sp := regs.StackPointer(arch.Current)

	redZone := int64(0)
	if regs.Arch() == arch.AMD64 && sp == originalSP {
		redZone = RedZoneSize
	}
	corrected := size + redZone

	overflow := corrected > 0 && sp <= uintptr(corrected)
	underflow := corrected < 0 && sp >= uintptr(math.MaxUint64)-uintptr(-corrected)
	if overflow || underflow {
		return 0, unix.EFAULT
	}

	var newSP uintptr
	if corrected > 0 {
		newSP = sp - uintptr(corrected)
	} else {
		newSP = sp + uintptr(-corrected)
	}
	regs.SetStackPointer(newSP)
	return newSP, nil
}

// AllocateAndWrite reserves len(data) bytes on the tracee's stack and
// writes data there, returning the address. Used to materialise
// rewritten path strings and argv entries in the tracee.
func AllocateAndWrite(pid int, regs arch.Regs, data []byte) (uintptr, error) {
	addr, err := AllocOnStack(regs, int64(len(data)))
	if err != nil {
		return 0, err
	}
	if err := WriteBytes(pid, addr, data); err != nil {
		return 0, err
	}
	return addr, nil
}
