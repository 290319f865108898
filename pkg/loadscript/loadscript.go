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

// Package loadscript encodes and decodes the load-script bytecode: the
// tagged-record stream the tracer writes onto a tracee's stack and the
// loader shim (cmd/proot-go-loader) interprets with raw syscalls.
package loadscript

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Tag identifies a LoadStatement's payload shape, matching the wire
// format cmd/proot-go-loader decodes.
type Tag uint64

const (
	TagOpenNext Tag = iota
	TagOpen
	TagMmapFile
	TagMmapAnonymous
	TagMakeStackExec
	TagStartTraced
	TagStart
)

var byteOrder = binary.LittleEndian

// Statement is one record of the load-script. Concrete types below
// implement it.
type Statement interface {
	Tag() Tag
}

// Open closes the previously opened file descriptor, if any (for both
// Open and OpenNext), and opens StringAddr read-only, saving the new fd.
type Open struct {
	StringAddr uint64
	Next       bool // true encodes as OpenNext rather than Open
}

func (s Open) Tag() Tag {
	if s.Next {
		return TagOpenNext
	}
	return TagOpen
}

// Mmap maps part of the last opened file (MmapFile) or an anonymous
// private region (MmapAnonymous) into the tracee.
type Mmap struct {
	Addr        uint64
	Length      uint64
	Prot        uint64
	Offset      uint64
	ClearLength uint64
	Anonymous   bool
}

func (s Mmap) Tag() Tag {
	if s.Anonymous {
		return TagMmapAnonymous
	}
	return TagMmapFile
}

// MakeStackExec marks the page at Start executable (PT_GNU_STACK with
// PF_X set on either the main executable or its interpreter).
type MakeStackExec struct {
	Start uint64
}

func (MakeStackExec) Tag() Tag { return TagMakeStackExec }

// Start hands control to the loaded program's entry point, after
// patching the auxiliary vector. Traced makes the shim re-invoke execve
// instead of jumping, so the tracer observes a fresh notification.
type Start struct {
	StackPointer uint64
	EntryPoint   uint64
	AtPhdr       uint64
	AtPhent      uint64
	AtPhnum      uint64
	AtEntry      uint64
	AtExecfn     uint64
	Traced       bool
}

func (s Start) Tag() Tag {
	if s.Traced {
		return TagStartTraced
	}
	return TagStart
}

// Encode serialises statements as a tag-word-prefixed record stream,
// one write to tracee memory for the whole buffer.
func Encode(statements []Statement) []byte {
	buf := new(bytes.Buffer)
	for _, s := range statements {
		binary.Write(buf, byteOrder, uint64(s.Tag()))
		switch v := s.(type) {
		case Open:
			binary.Write(buf, byteOrder, v.StringAddr)
		case Mmap:
			binary.Write(buf, byteOrder, []uint64{v.Addr, v.Length, v.Prot, v.Offset, v.ClearLength})
		case MakeStackExec:
			binary.Write(buf, byteOrder, v.Start)
		case Start:
			binary.Write(buf, byteOrder, []uint64{
				v.StackPointer, v.EntryPoint, v.AtPhdr, v.AtPhent,
				v.AtPhnum, v.AtEntry, v.AtExecfn,
			})
		}
	}
	return buf.Bytes()
}

// Decode parses a record stream back into statements; used by the
// round-trip test to confirm Encode and Decode agree on the wire
// layout cmd/proot-go-loader also implements.
func Decode(data []byte) ([]Statement, error) {
	r := bytes.NewReader(data)
	var out []Statement
	for r.Len() > 0 {
		var tag uint64
		if err := binary.Read(r, byteOrder, &tag); err != nil {
			return nil, errors.Wrap(err, "loadscript: reading tag")
		}
		switch Tag(tag) {
		case TagOpen, TagOpenNext:
			var addr uint64
			if err := binary.Read(r, byteOrder, &addr); err != nil {
				return nil, err
			}
			out = append(out, Open{StringAddr: addr, Next: Tag(tag) == TagOpenNext})
		case TagMmapFile, TagMmapAnonymous:
			var fields [5]uint64
			if err := binary.Read(r, byteOrder, &fields); err != nil {
				return nil, err
			}
			out = append(out, Mmap{
				Addr: fields[0], Length: fields[1], Prot: fields[2],
				Offset: fields[3], ClearLength: fields[4],
				Anonymous: Tag(tag) == TagMmapAnonymous,
			})
		case TagMakeStackExec:
			var start uint64
			if err := binary.Read(r, byteOrder, &start); err != nil {
				return nil, err
			}
			out = append(out, MakeStackExec{Start: start})
		case TagStart, TagStartTraced:
			var fields [7]uint64
			if err := binary.Read(r, byteOrder, &fields); err != nil {
				return nil, err
			}
			out = append(out, Start{
				StackPointer: fields[0], EntryPoint: fields[1], AtPhdr: fields[2],
				AtPhent: fields[3], AtPhnum: fields[4], AtEntry: fields[5],
				AtExecfn: fields[6], Traced: Tag(tag) == TagStartTraced,
			})
		default:
			return nil, errors.Errorf("loadscript: unknown tag %d", tag)
		}
	}
	return out, nil
}
