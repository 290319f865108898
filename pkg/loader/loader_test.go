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

package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMappingNoBSS(t *testing.T) {
	maps := addMapping(0x1000, 0x500, 0x500, 0x0, 5)
	require.Len(t, maps, 1)
	assert.EqualValues(t, 0x1000, maps[0].Addr)
	assert.EqualValues(t, PageSize, maps[0].Length)
}

func TestAddMappingWithBSS(t *testing.T) {
	// filesz smaller than memsz: a BSS tail beyond the last file-backed
	// page requires a second, anonymous mapping.
	maps := addMapping(0x1000, 0x3000, 0x500, 0x0, 6)
	require.Len(t, maps, 2)
	assert.True(t, maps[1].Flags&0x20 != 0 || maps[1].Length > 0)
	assert.Greater(t, maps[0].ClearLength, uint64(0))
}

func TestParseShebang(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/interp -x\necho hi\n"), 0755))

	interp, arg, ok, err := ParseShebang(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/bin/interp", interp)
	assert.Equal(t, "-x", arg)
}

func TestParseShebangNotAScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notascript")
	require.NoError(t, os.WriteFile(path, []byte("\x7fELF...."), 0755))

	_, _, ok, err := ParseShebang(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpliceArgv(t *testing.T) {
	argv := SpliceArgv("/bin/interp", "-x", "/script", []string{"/script", "A"})
	assert.Equal(t, []string{"/bin/interp", "-x", "/script", "A"}, argv)
}
