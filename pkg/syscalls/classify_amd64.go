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

//go:build amd64

package syscalls

import "golang.org/x/sys/unix"

// Classify maps a raw syscall number to its rewriter Class and, for the
// two flag-dependent *at classes, the argument index of its AT_SYMLINK_*
// flags word. amd64 carries both the legacy bare syscalls (open, stat,
// rename, ...) and their *at counterparts; arm64 (classify_arm64.go) only
// has the latter.
func Classify(sysnum uintptr) (Class, int) {
	switch sysnum {
	case unix.SYS_STAT, unix.SYS_CHMOD, unix.SYS_CHOWN, unix.SYS_UTIME, unix.SYS_UTIMES,
		unix.SYS_TRUNCATE, unix.SYS_ACCESS, unix.SYS_CHROOT, unix.SYS_ACCT, unix.SYS_CREAT,
		unix.SYS_GETXATTR, unix.SYS_LISTXATTR, unix.SYS_REMOVEXATTR, unix.SYS_SETXATTR,
		unix.SYS_SWAPON, unix.SYS_SWAPOFF, unix.SYS_MKNOD:
		return ClassPathArg1Follow, 0

	case unix.SYS_LSTAT, unix.SYS_LCHOWN, unix.SYS_LGETXATTR, unix.SYS_LLISTXATTR,
		unix.SYS_LREMOVEXATTR, unix.SYS_LSETXATTR:
		return ClassPathArg1NoFollow, 0

	case unix.SYS_UNLINK, unix.SYS_RMDIR, unix.SYS_MKDIR:
		return ClassPathArg1NeverFollow, 0

	case unix.SYS_OPEN:
		return ClassOpen, 0

	case unix.SYS_MKDIRAT, unix.SYS_UNLINKAT, unix.SYS_MKNODAT:
		return ClassOpenAtNeverFollow, 0
	case unix.SYS_FACCESSAT, unix.SYS_FCHMODAT:
		return ClassOpenAtAlwaysFollow, 0
	case unix.SYS_UTIMENSAT, unix.SYS_NEWFSTATAT:
		return ClassOpenAtFlagNoFollow, 3
	case unix.SYS_STATX:
		return ClassOpenAtFlagNoFollow, 2
	case unix.SYS_FCHOWNAT:
		return ClassOpenAtFlagNoFollow, 4
	case unix.SYS_NAME_TO_HANDLE_AT:
		return ClassOpenAtFlagFollow, 4
	case unix.SYS_OPENAT:
		return ClassOpenAt, 0

	case unix.SYS_LINK:
		return ClassLink, 0
	case unix.SYS_RENAME:
		return ClassRename, 0
	case unix.SYS_LINKAT:
		return ClassLinkAt, 0
	case unix.SYS_RENAMEAT, unix.SYS_RENAMEAT2:
		return ClassRenameAt, 0

	case unix.SYS_SYMLINK:
		return ClassSymlink, 0
	case unix.SYS_SYMLINKAT:
		return ClassSymlinkAt, 0

	case unix.SYS_CHDIR:
		return ClassChdir, 0
	case unix.SYS_FCHDIR:
		return ClassFchdir, 0
	case unix.SYS_GETCWD:
		return ClassGetcwd, 0
	case unix.SYS_READLINK:
		return ClassReadlink, 0
	case unix.SYS_READLINKAT:
		return ClassReadlinkAt, 0

	case unix.SYS_EXECVE:
		return ClassExecve, 0
	case unix.SYS_BRK:
		return ClassBrk, 0
	}
	return ClassIgnored, 0
}

// Raw numbers for the brk emulation's rewritten syscalls.
const (
	sysMmap   = unix.SYS_MMAP
	sysMremap = unix.SYS_MREMAP
)
