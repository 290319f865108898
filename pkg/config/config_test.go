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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gvisor.dev/protrace/pkg/fs"
)

func TestBuildViewDefaults(t *testing.T) {
	c := Config{}
	view, err := c.BuildView()
	require.NoError(t, err)
	assert.Equal(t, "/", view.Root())
	assert.Equal(t, "/", view.Cwd())
}

func TestBuildViewBindingsAndCwd(t *testing.T) {
	c := Config{
		Rootfs:   "/tmp/rootfs",
		Bindings: BindingFlag{"/etc:/etc", "/opt/data:/data"},
		Cwd:      "/home",
	}
	view, err := c.BuildView()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/rootfs", view.Root())
	assert.Equal(t, "/home", view.Cwd())

	// The newest binding wins, so /data resolves through the -b flag
	// rather than the rootfs fallback.
	b, ok := view.FindBinding("/data/file", fs.Guest)
	require.True(t, ok)
	assert.Equal(t, "/opt/data", b.HostPrefix)
}

func TestBuildViewRejectsBadBinding(t *testing.T) {
	c := Config{Bindings: BindingFlag{"relative:also-relative"}}
	_, err := c.BuildView()
	assert.Error(t, err)
}

func TestLoadMountsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mounts.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"source": "/srv/web", "destination": "/var/www", "type": "bind"},
		{"source": "/etc", "destination": "/etc"}
	]`), 0644))

	bindings, err := LoadMountsFile(path)
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	assert.Equal(t, "/srv/web", bindings[0].HostPrefix)
	assert.Equal(t, "/var/www", bindings[0].GuestPrefix)
	assert.True(t, bindings[0].NeedsSubstitution)
	assert.False(t, bindings[1].NeedsSubstitution)
}

func TestLoadMountsFileMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mounts.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"destination": "/x"}]`), 0644))

	_, err := LoadMountsFile(path)
	assert.Error(t, err)
}

func TestBindingFlagAccumulates(t *testing.T) {
	var b BindingFlag
	require.NoError(t, b.Set("/a:/b"))
	require.NoError(t, b.Set("/c"))
	assert.Equal(t, "/a:/b,/c", b.String())
}
