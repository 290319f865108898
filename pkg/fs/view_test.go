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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindBindingPrecedence(t *testing.T) {
	v := NewView("/home/user")

	b, ok := v.FindBinding("/bin", Guest)
	require.True(t, ok)
	assert.Equal(t, "/", b.GuestPrefix)

	_, ok = v.FindBinding("/etc", Host)
	assert.False(t, ok, "outside the guestfs and no binding covers it")

	v.AddBinding(NewBinding("/etc", "/media"))

	b, ok = v.FindBinding("/media/folder/subfolder", Guest)
	require.True(t, ok)
	assert.Equal(t, "/media", b.GuestPrefix)

	b, ok = v.FindBinding("/etc/folder/subfolder", Host)
	require.True(t, ok)
	assert.Equal(t, "/media", b.GuestPrefix)

	// Binding precedence: a newer overlapping binding wins.
	v.AddBinding(NewBinding("/var/etc", "/media"))
	b, ok = v.FindBinding("/media/x", Guest)
	require.True(t, ok)
	assert.Equal(t, "/var/etc", b.HostPrefix)
}

func TestSubstituteBindingSymmetricIsUntranslated(t *testing.T) {
	v := NewView("/home/user")
	v.AddBinding(NewBinding("/etc/something", "/etc/something"))

	out, translated, ok := v.SubstituteBinding("/etc/something/subfolder", GuestToHost)
	require.True(t, ok)
	assert.False(t, translated)
	assert.Equal(t, "/etc/something/subfolder", out)
}

func TestDetranslateNonSymlink(t *testing.T) {
	v := NewView("/home/user")

	out, err := v.Detranslate("/home/user/bin/sleep", "")
	require.NoError(t, err)
	assert.Equal(t, "/bin/sleep", out)

	v.AddBinding(NewBinding("/etc/host", "/etc/guest"))
	out, err = v.Detranslate("/etc/host/something", "")
	require.NoError(t, err)
	assert.Equal(t, "/etc/guest/something", out)
}

func TestDetranslateAsymmetricReferrerConsistency(t *testing.T) {
	v := NewView("/home/user")
	v.AddBinding(NewBinding("/lib", "/foo"))

	// The symlink itself lives at host path "/lib/a" (bound to guest
	// "/foo/a") and its content is the host path "/lib/b" -- both sides
	// of the same binding, so the target must appear as "/foo/b".
	out, err := v.Detranslate("/lib/b", "/lib/a")
	require.NoError(t, err)
	assert.Equal(t, "/foo/b", out)
}

func TestDetranslateRelativeUnchanged(t *testing.T) {
	v := NewView("/home/user")
	out, err := v.Detranslate("relative/target", "")
	require.NoError(t, err)
	assert.Equal(t, "relative/target", out)
}
