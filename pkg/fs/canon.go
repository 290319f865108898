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
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// maxSymlinkDepth bounds recursive symlink resolution during
// canonicalisation, matching Linux's own ELOOP limit.
const maxSymlinkDepth = 40

// Canonicalize resolves guestPath (which must be absolute) to a
// canonical guest path: absolute, "."/".."-free, with every
// intermediate component verified to exist and be a directory or a
// symlink to one, and the final component dereferenced iff derefFinal.
func (v *View) Canonicalize(guestPath string, derefFinal bool) (string, error) {
	if !strings.HasPrefix(guestPath, "/") {
		return "", unix.EINVAL
	}
	return v.canonicalize(guestPath, derefFinal, 0)
}

func (v *View) canonicalize(guestPath string, derefFinal bool, depth int) (string, error) {
	if depth > maxSymlinkDepth {
		return "", unix.ELOOP
	}

	pending := splitComponents(guestPath)
	var accum []string // accumulated canonical components, root-relative
	spliced := false   // true once a symlink target has been expanded

	for i := 0; i < len(pending); i++ {
		comp := pending[i]
		isLast := i == len(pending)-1

		switch comp {
		case ".":
			continue
		case "..":
			if len(accum) == 0 {
				// A caller-supplied path may not climb above the root,
				// but a symlink target escaping the root clamps there,
				// the way ".." behaves at a real chroot's root.
				if spliced {
					continue
				}
				return "", unix.EINVAL
			}
			accum = accum[:len(accum)-1]
			continue
		}

		accum = append(accum, comp)
		candidate := "/" + strings.Join(accum, "/")

		hostPath, err := v.translateNoCanon(candidate)
		if err != nil {
			return "", err
		}

		info, err := os.Lstat(hostPath)
		if err != nil {
			if os.IsNotExist(err) {
				return "", unix.ENOENT
			}
			return "", err
		}

		mode := info.Mode()
		switch {
		case mode.IsDir():
			continue
		case mode&os.ModeSymlink != 0:
			if !isLast || derefFinal {
				target, err := os.Readlink(hostPath)
				if err != nil {
					return "", err
				}
				if strings.HasPrefix(target, "/") {
					accum = nil
				} else {
					accum = accum[:len(accum)-1]
				}
				rest := pending[i+1:]
				pending = append(splitComponents(target), rest...)
				spliced = true
				i = -1
				depth++
				if depth > maxSymlinkDepth {
					return "", unix.ELOOP
				}
				continue
			}
			// Final component, not dereferenced: kept as-is.
			continue
		default:
			if !isLast {
				return "", unix.ENOTDIR
			}
			// Final, non-directory, non-symlink: fine (e.g. a regular
			// file being stat'd).
			continue
		}
	}

	if len(accum) == 0 {
		return "/", nil
	}
	return "/" + strings.Join(accum, "/"), nil
}

// splitComponents splits an absolute or relative guest path into its
// non-empty, non-root components; a leading "/" is implicit for
// absolute paths and is not itself a component.
func splitComponents(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// translateNoCanon substitutes guest->host for an already-canonical
// (so far) guest path, without recursing into canonicalisation; used
// internally while walking components.
func (v *View) translateNoCanon(guestPath string) (string, error) {
	out, _, ok := v.SubstituteBinding(guestPath, GuestToHost)
	if !ok {
		return "", unix.ENOENT
	}
	return out, nil
}
