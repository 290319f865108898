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

package execve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gvisor.dev/protrace/pkg/loader"
	"gvisor.dev/protrace/pkg/loadscript"
)

func TestPackStrings(t *testing.T) {
	buf, offsets := packStrings([]string{"/bin/sh", "", "/lib/ld.so"})
	require.Len(t, offsets, 3)
	assert.Equal(t, uint64(0), offsets[0])
	assert.Equal(t, 0, len(buf)%wordAlign)
	assert.Equal(t, byte(0), buf[len("/bin/sh")])

	// Each string's bytes, starting at its own offset, round-trip back
	// to a NUL-terminated copy of the original.
	for i, want := range []string{"/bin/sh", "", "/lib/ld.so"} {
		got := buf[offsets[i]:]
		null := 0
		for null < len(got) && got[null] != 0 {
			null++
		}
		assert.Equal(t, want, string(got[:null]))
	}
}

func TestPatchStringAddrsOpenAndOpenNext(t *testing.T) {
	body := []loadscript.Statement{
		loadscript.Open{Next: false},
		loadscript.Open{Next: true},
		loadscript.Start{Traced: true},
	}
	patchStringAddrs(body, 0x8000, []uint64{0x10, 0x30, 0x50})

	open := body[0].(loadscript.Open)
	openNext := body[1].(loadscript.Open)
	start := body[2].(loadscript.Start)

	assert.EqualValues(t, 0x8010, open.StringAddr)
	assert.EqualValues(t, 0x8030, openNext.StringAddr)
	assert.EqualValues(t, 0x8050, start.AtExecfn)
	assert.True(t, start.Traced)
}

func TestInterpCanonicalPathNilInterp(t *testing.T) {
	assert.Equal(t, "", interpCanonicalPath(&loader.LoadInfo{}))
}
