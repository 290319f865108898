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

package loadscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	in := []Statement{
		Open{StringAddr: 0x1000},
		Mmap{Addr: 0x400000, Length: 0x1000, Prot: 5, Offset: 0, ClearLength: 0x20},
		Mmap{Addr: 0x401000, Length: 0x1000, Prot: 3, Offset: 0, ClearLength: 0, Anonymous: true},
		Open{StringAddr: 0x1010, Next: true},
		MakeStackExec{Start: 0x7ffff000},
		Start{
			StackPointer: 0x7fffe000, EntryPoint: 0x400080, AtPhdr: 0x400040,
			AtPhent: 56, AtPhnum: 9, AtEntry: 0x400080, AtExecfn: 0x1020,
		},
	}

	encoded := Encode(in)
	out, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeUnknownTag(t *testing.T) {
	_, err := Decode([]byte{99, 0, 0, 0, 0, 0, 0, 0})
	assert.Error(t, err)
}
