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
	"gvisor.dev/protrace/pkg/memio"
)

const (
	atSymlinkNoFollow = 0x100
	atSymlinkFollow   = 0x400
)

// Enter performs the enter-stage rewrite for class on c.
func Enter(c Context, class Class) error {
	switch class {
	case ClassIgnored, ClassExecve:
		// execve has its own pivot in pkg/execve.
		return nil

	case ClassBrk:
		return enterBrk(c)

	case ClassPathArg1Follow:
		return translateArg(c, 0, atFDCwd, true)

	case ClassPathArg1NoFollow:
		raw, err := readPathArg(c, 0)
		if err != nil {
			return err
		}
		return translateArg(c, 0, atFDCwd, hasTrailingSlash(raw))

	case ClassPathArg1NeverFollow:
		return translateArg(c, 0, atFDCwd, false)

	case ClassOpen:
		flags := int32(c.Regs.SysArg(arch.Current, 1).Uint64())
		derefFinal := !(flags&unix.O_NOFOLLOW != 0 ||
			(flags&unix.O_EXCL != 0 && flags&unix.O_CREAT != 0))
		return translateArg(c, 0, atFDCwd, derefFinal)

	case ClassOpenAt:
		flags := int32(c.Regs.SysArg(arch.Current, 2).Uint64())
		derefFinal := !(flags&unix.O_NOFOLLOW != 0 ||
			(flags&unix.O_EXCL != 0 && flags&unix.O_CREAT != 0))
		return translateAt(c, 1, derefFinal)

	case ClassOpenAtNeverFollow:
		return translateAt(c, 1, false)
	case ClassOpenAtAlwaysFollow:
		return translateAt(c, 1, true)
	case ClassOpenAtFlagNoFollow:
		flags := int32(c.Regs.SysArg(arch.Current, c.FlagArgIdx).Uint64())
		return translateAt(c, 1, flags&atSymlinkNoFollow == 0)
	case ClassOpenAtFlagFollow:
		flags := int32(c.Regs.SysArg(arch.Current, c.FlagArgIdx).Uint64())
		return translateAt(c, 1, flags&atSymlinkFollow != 0)

	case ClassLink, ClassRename:
		oldRaw, err := readPathArg(c, 0)
		if err != nil {
			return err
		}
		if err := translateArg(c, 0, atFDCwd, hasTrailingSlash(oldRaw)); err != nil {
			return err
		}
		return translateArg(c, 1, atFDCwd, false)

	case ClassLinkAt:
		flags := int32(c.Regs.SysArg(arch.Current, 4).Uint64())
		oldRaw, err := readPathArg(c, 1)
		if err != nil {
			return err
		}
		oldDirfd := int32(c.Regs.SysArg(arch.Current, 0).Int())
		oldFollow := flags&atSymlinkFollow != 0 || hasTrailingSlash(oldRaw)
		if err := translateArg(c, 1, oldDirfd, oldFollow); err != nil {
			return err
		}
		newDirfd := int32(c.Regs.SysArg(arch.Current, 2).Int())
		return translateArg(c, 3, newDirfd, false)

	case ClassSymlink:
		// symlink(target, linkpath): only linkpath (arg2) is translated;
		// the link's literal contents (arg1, the target) are untouched.
		return translateArg(c, 1, atFDCwd, false)
	case ClassSymlinkAt:
		// symlinkat(target, newdirfd, linkpath): linkpath (arg3) is
		// translated relative to newdirfd; the target is untouched.
		newDirfd := int32(c.Regs.SysArg(arch.Current, 1).Int())
		return translateArg(c, 2, newDirfd, false)

	case ClassChdir:
		return enterChdir(c)
	case ClassFchdir:
		return enterFchdir(c)
	case ClassGetcwd:
		c.Regs.CancelSyscall()
		return nil
	case ClassReadlink:
		return translateArg(c, 0, atFDCwd, false)
	case ClassReadlinkAt:
		return translateAt(c, 1, false)
	}
	return nil
}

// translateAt handles the openat family's arg0=dirfd, arg1(or given
// idx)=path pattern.
func translateAt(c Context, pathArgIdx int, derefFinal bool) error {
	dirfd := int32(c.Regs.SysArg(arch.Current, 0).Int())
	return translateArg(c, pathArgIdx, dirfd, derefFinal)
}

func enterChdir(c Context) error {
	raw, err := readPathArg(c, 0)
	if err != nil {
		return err
	}
	return finishChdir(c, raw, false)
}

func enterFchdir(c Context) error {
	fd := int32(c.Regs.SysArg(arch.Current, 0).Int())
	if c.ResolveFD == nil {
		return unix.EBADF
	}
	guestPath, err := c.ResolveFD(fd)
	if err != nil {
		return err
	}
	return finishChdir(c, guestPath, true)
}

func finishChdir(c Context, guestPath string, alreadyAbsolute bool) error {
	full := guestPath
	isAbsolute := len(guestPath) > 0 && guestPath[0] == '/'
	if !alreadyAbsolute && !isAbsolute {
		full = c.View.Cwd() + "/" + guestPath
	}
	canon, err := c.View.Canonicalize(full, true)
	if err != nil {
		return err
	}
	c.View.SetCwd(canon)
	c.Regs.CancelSyscall()
	return nil
}

// Exit performs the exit-stage fix-up for class, given the kernel's raw
// syscall result (only meaningful for Chdir/Fchdir/Getcwd/Readlink/
// ReadlinkAt/Rename/RenameAt/Brk; other classes need no exit-stage work).
func Exit(c Context, class Class) error {
	switch class {
	case ClassChdir, ClassFchdir:
		c.Regs.SetSysResult(0)
		return nil
	case ClassGetcwd:
		return exitGetcwd(c)
	case ClassReadlink, ClassReadlinkAt:
		return exitReadlink(c, class)
	case ClassRename, ClassRenameAt:
		return exitRename(c, class)
	case ClassBrk:
		return exitBrk(c)
	}
	return nil
}

func exitGetcwd(c Context) error {
	bufAddr := c.Regs.SysArg(arch.Original, 0).Pointer()
	size := c.Regs.SysArg(arch.Original, 1).SizeT()
	if bufAddr == 0 || size == 0 {
		return failEmulated(c, unix.EINVAL)
	}

	// The cached cwd may have been unlinked since the last chdir.
	guestCwd := c.View.Cwd()
	if _, err := c.View.Translate(guestCwd, true); err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return failEmulated(c, errno)
		}
		return err
	}

	data := append([]byte(guestCwd), 0)
	if len(data) > int(size) {
		return failEmulated(c, unix.ERANGE)
	}
	if err := memio.WriteBytes(c.Pid, bufAddr, data); err != nil {
		return err
	}
	c.Regs.SetSysResult(int64(len(data)))
	return nil
}

// failEmulated writes the errno of a fully emulated (cancelled)
// syscall as its result, so the tracee sees the real failure rather
// than the cancelled syscall number's ENOSYS. The event loop pushes
// the result when it restores the enter-time registers.
func failEmulated(c Context, errno unix.Errno) error {
	c.Regs.SetSysResult(-int64(errno))
	return nil
}

func exitReadlink(c Context, class Class) error {
	result := c.Regs.SysResult(arch.Current)
	if result < 0 {
		return nil
	}

	pathArgIdx := 0
	bufArgIdx, bufsizArgIdx := 1, 2
	if class == ClassReadlinkAt {
		pathArgIdx, bufArgIdx, bufsizArgIdx = 1, 2, 3
	}

	// The path argument still holds the host path written at
	// enter-stage; it is exactly the referrer Detranslate wants.
	referrerHost, err := readPathArg(c, pathArgIdx)
	if err != nil {
		return err
	}

	bufAddr := c.Regs.SysArg(arch.Original, bufArgIdx).Pointer()
	bufsize := c.Regs.SysArg(arch.Original, bufsizArgIdx).SizeT()

	target, err := memio.ReadBytes(c.Pid, bufAddr, int(result))
	if err != nil {
		return err
	}

	detranslated, err := c.View.Detranslate(string(target), referrerHost)
	if err != nil {
		return err
	}

	out := []byte(detranslated)
	if len(out) > int(bufsize) {
		out = out[:bufsize]
	}
	if err := memio.WriteBytes(c.Pid, bufAddr, out); err != nil {
		return err
	}
	c.Regs.SetSysResult(int64(len(out)))
	return nil
}

func exitRename(c Context, class Class) error {
	result := c.Regs.SysResult(arch.Current)
	if result < 0 {
		return nil
	}

	oldArgIdx, newArgIdx := 0, 1
	if class == ClassRenameAt {
		oldArgIdx, newArgIdx = 1, 3
	}

	oldHost, err := readPathArg(c, oldArgIdx)
	if err != nil {
		return err
	}
	newHost, err := readPathArg(c, newArgIdx)
	if err != nil {
		return err
	}

	oldGuest, err := c.View.Detranslate(oldHost, "")
	if err != nil {
		return nil
	}
	newGuest, err := c.View.Detranslate(newHost, "")
	if err != nil {
		return nil
	}

	cwd := c.View.Cwd()
	if cwd == oldGuest || (len(cwd) > len(oldGuest) && cwd[:len(oldGuest)] == oldGuest && cwd[len(oldGuest)] == '/') {
		c.View.SetCwd(newGuest + cwd[len(oldGuest):])
	}
	return nil
}
