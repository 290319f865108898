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
	"gvisor.dev/protrace/pkg/arch"
	"gvisor.dev/protrace/pkg/loader"
	"gvisor.dev/protrace/pkg/loadscript"
	"gvisor.dev/protrace/pkg/memio"
)

const wordAlign = 8

// ExitBuildLoadScript implements the execve-exit pivot: assemble a
// load-script for the program parsed at enter-stage,
// write it to the tracee's stack below the shim's own kernel-provided
// stack image, and point arg1/SP at it.
func ExitBuildLoadScript(p Params, info *loader.LoadInfo, traced bool) error {
	strings, offsets := packStrings([]string{
		info.CanonicalGuestPath,
		interpCanonicalPath(info),
		info.RawPath,
	})

	var body []loadscript.Statement
	body = append(body, loadscript.Open{Next: false})
	for _, m := range info.Mappings {
		body = append(body, mappingStatement(m))
	}
	if info.Interp != nil {
		body = append(body, loadscript.Open{Next: true})
		for _, m := range info.Interp.Mappings {
			body = append(body, mappingStatement(m))
		}
	}

	needsExecStack := info.NeedsExecutableStack || (info.Interp != nil && info.Interp.NeedsExecutableStack)
	sp := p.Regs.StackPointer(arch.Current)
	if needsExecStack {
		pageAddr := uint64(sp) &^ (loader.PageSize - 1)
		body = append(body, loadscript.MakeStackExec{Start: pageAddr})
	}

	entry := info.Entry
	if info.Interp != nil {
		entry = info.Interp.Entry
	}
	body = append(body, loadscript.Start{
		StackPointer: uint64(sp),
		EntryPoint:   entry,
		AtPhdr:       info.PHOff,
		AtPhent:      uint64(info.PHEntSize),
		AtPhnum:      uint64(info.PHNum),
		AtEntry:      info.Entry,
		Traced:       traced,
	})

	// Encode first to learn the statement section's length: it does not
	// depend on the final string addresses, only on which statements are
	// present, so a single allocation below can reserve the exact size
	// before any string address is known.
	encodedLen := len(loadscript.Encode(body))

	addr, err := memio.AllocOnStack(p.Regs, int64(encodedLen+len(strings)))
	if err != nil {
		return err
	}
	stringBase := uint64(addr) + uint64(encodedLen)

	patchStringAddrs(body, stringBase, offsets)

	buf := append(loadscript.Encode(body), strings...)
	if err := memio.WriteBytes(p.Pid, addr, buf); err != nil {
		return err
	}

	p.Regs.SetStackPointer(addr)
	p.Regs.SetSysArg(0, addr)
	return nil
}

// patchStringAddrs fills in the Open/OpenNext StringAddr and the final
// Start/StartTraced's AtExecfn now that stringBase is known.
func patchStringAddrs(body []loadscript.Statement, stringBase uint64, offsets []uint64) {
	for i, s := range body {
		switch v := s.(type) {
		case loadscript.Open:
			if v.Next {
				v.StringAddr = stringBase + offsets[1]
			} else {
				v.StringAddr = stringBase + offsets[0]
			}
			body[i] = v
		case loadscript.Start:
			v.AtExecfn = stringBase + offsets[2]
			body[i] = v
		}
	}
}

func interpCanonicalPath(info *loader.LoadInfo) string {
	if info.Interp == nil {
		return ""
	}
	return info.Interp.CanonicalGuestPath
}

// packStrings NUL-terminates and word-aligns each string in order,
// returning the concatenated blob and each string's offset within it.
func packStrings(values []string) ([]byte, []uint64) {
	var buf []byte
	offsets := make([]uint64, len(values))
	for i, v := range values {
		offsets[i] = uint64(len(buf))
		buf = append(buf, v...)
		buf = append(buf, 0)
		if pad := len(buf) % wordAlign; pad != 0 {
			buf = append(buf, make([]byte, wordAlign-pad)...)
		}
	}
	return buf, offsets
}

func mappingStatement(m loader.Mapping) loadscript.Statement {
	return loadscript.Mmap{
		Addr:        m.Addr,
		Length:      m.Length,
		Prot:        uint64(m.Prot),
		Offset:      m.Offset,
		ClearLength: m.ClearLength,
		Anonymous:   m.Flags&0x20 != 0, // MAP_ANONYMOUS
	}
}
