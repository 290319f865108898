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

package tracer

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// prootBinary returns the path of a built proot-go binary, or skips:
// these tests drive real tracees end to end and need both binaries
// (proot-go and proot-go-loader, found next to it) built beforehand.
// CI sandboxes without ptrace permission skip the same way.
func prootBinary(t *testing.T) string {
	t.Helper()
	bin := os.Getenv("PROOT_TEST_BIN")
	if bin == "" {
		t.Skip("PROOT_TEST_BIN not set; skipping end-to-end tracing test")
	}
	return bin
}

// staticGuestBinary names a statically linked binary (busybox, a
// static sleep) to copy into the rootfs; copying a dynamic binary's
// whole library closure is more than these scenarios need.
func staticGuestBinary(t *testing.T) string {
	t.Helper()
	bin := os.Getenv("PROOT_TEST_STATIC_BIN")
	if bin == "" {
		t.Skip("PROOT_TEST_STATIC_BIN not set; skipping")
	}
	return bin
}

func TestChrootEquivalentRoot(t *testing.T) {
	proot := prootBinary(t)
	guest := staticGuestBinary(t)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0755))
	data, err := os.ReadFile(guest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "guest"), data, 0755))

	out, err := exec.Command(proot, "-r", root, "/bin/guest").CombinedOutput()
	assert.NoError(t, err, "output: %s", out)
}

func TestBoundPathIsReadable(t *testing.T) {
	proot := prootBinary(t)
	guest := staticGuestBinary(t)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0755))
	data, err := os.ReadFile(guest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "guest"), data, 0755))

	hostDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(hostDir, "hostname"), []byte("bound-host\n"), 0644))

	out, err := exec.Command(proot,
		"-r", root, "-b", hostDir+":/etc",
		"/bin/guest", "cat", "/etc/hostname").CombinedOutput()
	require.NoError(t, err, "output: %s", out)
	assert.True(t, strings.Contains(string(out), "bound-host"), "output: %s", out)
}
