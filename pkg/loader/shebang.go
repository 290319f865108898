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
	"bufio"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// shebangMagic is the two bytes that mark an interpreter script.
const shebangMagic = "#!"

// maxShebangLineLength mirrors the kernel's BINPRM_BUF_SIZE.
const maxShebangLineLength = 128

// ParseShebang reads the first line of hostPath and, if it begins with
// "#!", returns the interpreter path and its single optional argument
// (the kernel only ever splices one). ok is false for a non-shebang
// file (the caller falls through to the ELF loader).
func ParseShebang(hostPath string) (interp, arg string, ok bool, err error) {
	f, oerr := os.Open(hostPath)
	if oerr != nil {
		return "", "", false, oerr
	}
	defer f.Close()

	magic := make([]byte, 2)
	if _, rerr := f.Read(magic); rerr != nil || string(magic) != shebangMagic {
		return "", "", false, nil
	}

	if _, serr := f.Seek(2, 0); serr != nil {
		return "", "", false, serr
	}
	reader := bufio.NewReaderSize(f, maxShebangLineLength)
	line, _ := reader.ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if len(line) > maxShebangLineLength {
		line = line[:maxShebangLineLength]
	}
	line = strings.TrimLeft(line, " \t")

	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 0 || fields[0] == "" {
		return "", "", false, unix.ENOEXEC
	}
	interp = fields[0]
	if len(fields) == 2 {
		arg = strings.TrimSpace(fields[1])
	}
	return interp, arg, true, nil
}

// SpliceArgv builds the new argv for a shebang resolution: scriptPath
// (the script's path) replaces the original argv[0], and interp (plus
// its optional arg) is prepended, matching the kernel's own splice:
// [interp, arg?, scriptPath, originalArgv[1:]...].
func SpliceArgv(interp, arg, scriptPath string, originalArgv []string) []string {
	out := make([]string, 0, len(originalArgv)+2)
	out = append(out, interp)
	if arg != "" {
		out = append(out, arg)
	}
	out = append(out, scriptPath)
	if len(originalArgv) > 1 {
		out = append(out, originalArgv[1:]...)
	}
	return out
}

// MaxShebangIterations is exported for the execve pivot's binfmt loop.
const MaxShebangIterations = maxShebangIterations
