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
)

func TestWordByteRoundTrip(t *testing.T) {
	for _, w := range []uint64{0, 1, 0xdeadbeef, 0xffffffffffffffff} {
		assert.Equal(t, w, bytesToWord(wordToBytes(w)))
	}
}

func TestBytesToWordShortInput(t *testing.T) {
	assert.Equal(t, uint64(0x34), bytesToWord([]byte{0x34}))
	assert.Equal(t, uint64(0), bytesToWord(nil))
}
