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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBindingSymmetric(t *testing.T) {
	b := NewBinding("/bin", "/bin")
	assert.False(t, b.NeedsSubstitution)

	b = NewBinding("/etc", "/media")
	assert.True(t, b.NeedsSubstitution)
}

func TestParseBinding(t *testing.T) {
	b, err := ParseBinding("/etc:/media")
	require.NoError(t, err)
	assert.Equal(t, "/etc", b.HostPrefix)
	assert.Equal(t, "/media", b.GuestPrefix)

	b, err = ParseBinding("/etc")
	require.NoError(t, err)
	assert.Equal(t, "/etc", b.HostPrefix)
	assert.Equal(t, "/etc", b.GuestPrefix)

	_, err = ParseBinding("relative:/media")
	assert.Error(t, err)
}

func TestSubstitutePathPrefixRoot(t *testing.T) {
	b := NewBinding("/home/user", "/")
	out, err := b.substitutePrefix(GuestToHost, "/bin/sleep")
	require.NoError(t, err)
	assert.Equal(t, "/home/user/bin/sleep", out)
}

func TestSubstitutePathPrefixDifferentPath(t *testing.T) {
	b := NewBinding("/etc", "/media")
	out, err := b.substitutePrefix(GuestToHost, "/media/folder/subfolder")
	require.NoError(t, err)
	assert.Equal(t, "/etc/folder/subfolder", out)

	out, err = b.substitutePrefix(HostToGuest, "/etc/folder/subfolder")
	require.NoError(t, err)
	assert.Equal(t, "/media/folder/subfolder", out)
}

func TestSubstitutePathPrefixTooLong(t *testing.T) {
	b := NewBinding(strings.Repeat("/aaaaaaaaaa", 1000), "/m")
	_, err := b.substitutePrefix(GuestToHost, "/m/x")
	assert.Error(t, err)
}
