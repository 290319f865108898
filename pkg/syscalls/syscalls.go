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

// Package syscalls implements the per-syscall rewriters: grouping
// syscalls by argument pattern, translating path arguments at
// syscall-enter, and fixing up results that leak host paths at
// syscall-exit.
package syscalls

import (
	"strings"

	"golang.org/x/sys/unix"

	"gvisor.dev/protrace/pkg/arch"
	"gvisor.dev/protrace/pkg/fs"
	"gvisor.dev/protrace/pkg/memio"
)

// Class groups syscalls that share an enter/exit translation recipe.
type Class int

const (
	ClassIgnored Class = iota
	ClassPathArg1Follow
	ClassPathArg1NoFollow    // lstat family: a trailing slash forces follow
	ClassPathArg1NeverFollow // unlink, rmdir, mkdir: never follow, even with a trailing slash
	ClassOpen
	ClassOpenAt              // openat: dirfd, path, O_* flags
	ClassOpenAtNeverFollow   // mkdirat, unlinkat, mknodat
	ClassOpenAtAlwaysFollow  // faccessat, fchmodat
	ClassOpenAtFlagNoFollow  // utimensat, fchownat, newfstatat, statx: AT_SYMLINK_NOFOLLOW
	ClassOpenAtFlagFollow    // name_to_handle_at: AT_SYMLINK_FOLLOW
	ClassLink                // link/rename: two bare paths
	ClassLinkAt
	ClassSymlink   // symlink: only the link path (arg2) translated; the target is kept verbatim
	ClassSymlinkAt // symlinkat: only the link path (arg3, via newdirfd) translated
	ClassChdir
	ClassFchdir
	ClassGetcwd
	ClassReadlink
	ClassReadlinkAt
	ClassRename
	ClassRenameAt
	ClassExecve
	ClassBrk
)

// Context bundles everything a rewriter needs for one tracee stop.
// ResolveFD maps a dirfd to its guest-side path (read from the
// tracer's view of /proc/<pid>/fd/<n>, supplied by pkg/tracer since
// that table is process, not syscall, state).
type Context struct {
	Pid       int
	Regs      arch.Regs
	View      *fs.View
	Heap      *Heap
	ResolveFD func(fd int32) (guestPath string, err error)

	// FlagArgIdx is the argument index of the AT_SYMLINK_* flags word for
	// ClassOpenAtFlagNoFollow/ClassOpenAtFlagFollow, since that position
	// differs per syscall (utimensat/newfstatat: 3, fchownat: 4, statx:
	// 2); the classify table fills it in alongside Class.
	FlagArgIdx int
}

const atFDCwd = -100 // AT_FDCWD

func hasTrailingSlash(p string) bool {
	return strings.HasSuffix(p, "/") || strings.HasSuffix(p, "/.")
}

func readPathArg(c Context, n int) (string, error) {
	return memio.ReadString(c.Pid, c.Regs.SysArg(arch.Current, n).Pointer())
}

func writeHostPath(c Context, n int, hostPath string) error {
	addr, err := memio.AllocateAndWrite(c.Pid, c.Regs, append([]byte(hostPath), 0))
	if err != nil {
		return err
	}
	c.Regs.SetSysArg(n, addr)
	return nil
}

// translateArg reads the guest path at argument index pathArgIdx,
// translates it (a relative path resolves against the cwd when dirfd is
// AT_FDCWD, otherwise against dirfd's guest path), and rewrites the
// argument with the host path.
func translateArg(c Context, pathArgIdx int, dirfd int32, derefFinal bool) error {
	raw, err := readPathArg(c, pathArgIdx)
	if err != nil {
		return err
	}
	host, err := c.View.TranslateAt(raw, derefFinal, dirfd == atFDCwd, func() (string, error) {
		if c.ResolveFD == nil {
			return "", unix.EBADF
		}
		return c.ResolveFD(dirfd)
	})
	if err != nil {
		return err
	}
	return writeHostPath(c, pathArgIdx, host)
}
