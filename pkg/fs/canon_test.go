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

package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newTestRoot builds a small directory tree under t.TempDir() and
// returns a View rooted there.
func newTestRoot(t *testing.T) (*View, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acpi"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "acpi", "events"), nil, 0644))
	return NewView(root), root
}

func TestCanonicalizeNormalPath(t *testing.T) {
	v, _ := newTestRoot(t)

	got, err := v.Canonicalize("/acpi/./../acpi//events", false)
	require.NoError(t, err)
	assert.Equal(t, "/acpi/events", got)
}

func TestCanonicalizeInvalidPath(t *testing.T) {
	v, _ := newTestRoot(t)

	_, err := v.Canonicalize("/../../../test", false)
	assert.Error(t, err)
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	v, _ := newTestRoot(t)

	once, err := v.Canonicalize("/acpi/./../acpi//events", false)
	require.NoError(t, err)
	twice, err := v.Canonicalize(once, false)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestTranslateDetranslateRoundtrip(t *testing.T) {
	v, _ := newTestRoot(t)

	canon, err := v.Canonicalize("/acpi/events", false)
	require.NoError(t, err)

	host, err := v.Translate(canon, false)
	require.NoError(t, err)

	back, err := v.Detranslate(host, "")
	require.NoError(t, err)
	assert.Equal(t, canon, back)
}

func TestSymlinkEscapeClampsAtRoot(t *testing.T) {
	v, root := newTestRoot(t)
	require.NoError(t, os.Symlink("../../acpi/events", filepath.Join(root, "link")))

	// The target climbs far above the guest root; resolution clamps
	// there, so the link lands on /acpi/events inside the rootfs.
	got, err := v.Canonicalize("/link", true)
	require.NoError(t, err)
	assert.Equal(t, "/acpi/events", got)

	// Same shape, but pointing at something the rootfs lacks.
	require.NoError(t, os.Symlink("../../etc/passwd", filepath.Join(root, "dangling")))
	_, err = v.Canonicalize("/dangling", true)
	assert.ErrorIs(t, err, unix.ENOENT)
}

func TestSymlinkToDirTrailingSlash(t *testing.T) {
	v, root := newTestRoot(t)
	require.NoError(t, os.Symlink("/acpi", filepath.Join(root, "ld")))

	// Without dereferencing, the final symlink is kept as-is.
	got, err := v.Canonicalize("/ld", false)
	require.NoError(t, err)
	assert.Equal(t, "/ld", got)

	// Dereferenced (as a trailing slash forces), it becomes the dir.
	got, err = v.Canonicalize("/ld", true)
	require.NoError(t, err)
	assert.Equal(t, "/acpi", got)
}

func TestDanglingSymlinkKeptWithoutDeref(t *testing.T) {
	v, root := newTestRoot(t)
	require.NoError(t, os.Symlink("/d", filepath.Join(root, "ls")))

	// Without dereferencing (mkdir, unlink, rmdir) the dangling symlink
	// itself is the result, so the kernel sees the symlink and reports
	// EEXIST for a mkdir without creating the target.
	got, err := v.Canonicalize("/ls", false)
	require.NoError(t, err)
	assert.Equal(t, "/ls", got)

	_, err = v.Canonicalize("/ls", true)
	assert.ErrorIs(t, err, unix.ENOENT)
}
