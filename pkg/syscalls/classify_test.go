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
	"golang.org/x/sys/unix"
)

// The entries here exist on both supported architectures, so the test
// runs against whichever Classify the build tag selected.
func TestClassifyCommonSyscalls(t *testing.T) {
	for _, tc := range []struct {
		name    string
		sysnum  uintptr
		class   Class
		flagIdx int
	}{
		{"openat", unix.SYS_OPENAT, ClassOpenAt, 0},
		{"mkdirat", unix.SYS_MKDIRAT, ClassOpenAtNeverFollow, 0},
		{"unlinkat", unix.SYS_UNLINKAT, ClassOpenAtNeverFollow, 0},
		{"faccessat", unix.SYS_FACCESSAT, ClassOpenAtAlwaysFollow, 0},
		{"utimensat", unix.SYS_UTIMENSAT, ClassOpenAtFlagNoFollow, 3},
		{"fchownat", unix.SYS_FCHOWNAT, ClassOpenAtFlagNoFollow, 4},
		{"statx", unix.SYS_STATX, ClassOpenAtFlagNoFollow, 2},
		{"linkat", unix.SYS_LINKAT, ClassLinkAt, 0},
		{"renameat", unix.SYS_RENAMEAT, ClassRenameAt, 0},
		{"symlinkat", unix.SYS_SYMLINKAT, ClassSymlinkAt, 0},
		{"chdir", unix.SYS_CHDIR, ClassChdir, 0},
		{"fchdir", unix.SYS_FCHDIR, ClassFchdir, 0},
		{"getcwd", unix.SYS_GETCWD, ClassGetcwd, 0},
		{"readlinkat", unix.SYS_READLINKAT, ClassReadlinkAt, 0},
		{"execve", unix.SYS_EXECVE, ClassExecve, 0},
		{"brk", unix.SYS_BRK, ClassBrk, 0},
		{"getpid", unix.SYS_GETPID, ClassIgnored, 0},
		{"read", unix.SYS_READ, ClassIgnored, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			class, flagIdx := Classify(tc.sysnum)
			assert.Equal(t, tc.class, class)
			assert.Equal(t, tc.flagIdx, flagIdx)
		})
	}
}

func TestHasTrailingSlash(t *testing.T) {
	assert.True(t, hasTrailingSlash("/a/b/"))
	assert.True(t, hasTrailingSlash("/a/b/."))
	assert.False(t, hasTrailingSlash("/a/b"))
	assert.False(t, hasTrailingSlash("/a/b/.."))
}
