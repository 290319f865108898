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

import "path"

// View is a tracee's filesystem view: its ordered binding table, its
// cached guest working directory, and the guest root's host path. View
// is shared directly (by pointer) between tracees that inherit
// CLONE_FS, and deep-copied on fork otherwise (see pkg/tracer).
type View struct {
	// bindings is kept newest-first: AddBinding prepends, so a plain
	// front-to-back scan is "newest to oldest", so a later binding
	// shadows an earlier one covering the same guest path.
	bindings []Binding
	cwd      string
	root     string
}

// NewView creates a view rooted at root, with cwd defaulting to "/".
func NewView(root string) *View {
	v := &View{root: root, cwd: "/"}
	v.AddBinding(NewBinding(root, "/"))
	return v
}

// AddBinding installs a binding so it is matched before all previously
// added bindings ("most recently added binding wins").
func (v *View) AddBinding(b Binding) {
	v.bindings = append([]Binding{b}, v.bindings...)
}

// Root returns the guest root's host path.
func (v *View) Root() string { return v.root }

// Cwd returns the cached canonical guest working directory.
func (v *View) Cwd() string { return v.cwd }

// SetCwd updates the cached guest working directory (used by the
// chdir/fchdir emulation in pkg/syscalls).
func (v *View) SetCwd(guestCwd string) { v.cwd = guestCwd }

// Clone deep-copies the view for a forked tracee that does not share
// CLONE_FS with its parent.
func (v *View) Clone() *View {
	cp := &View{
		bindings: append([]Binding(nil), v.bindings...),
		cwd:      v.cwd,
		root:     v.root,
	}
	return cp
}

// FindBinding implements find_binding: scan newest to oldest, return the
// first binding whose side-prefix is a prefix of path. On the Host side,
// when root != "/", any path under root is excluded from matching an
// explicit binding — detranslate's root-stripping fallback owns that
// case instead, so an asymmetric binding nested under root cannot
// shadow a path that genuinely belongs to the guestfs.
func (v *View) FindBinding(p string, side Side) (Binding, bool) {
	if side == Host && v.root != "/" && v.belongsToGuestfs(p) {
		return Binding{}, false
	}
	for _, b := range v.bindings {
		if hasPrefixPath(p, b.prefix(side)) {
			return b, true
		}
	}
	return Binding{}, false
}

func (v *View) belongsToGuestfs(hostPath string) bool {
	return hasPrefixPath(hostPath, v.root)
}

// SubstituteBinding finds a binding for path on dir.From and, if it
// needs substitution, returns the rewritten path. ok is false when no
// binding matched at all; translated is false (with no error) when a
// symmetric binding matched and path is returned unchanged.
func (v *View) SubstituteBinding(p string, dir Direction) (result string, translated bool, ok bool) {
	b, found := v.FindBinding(p, dir.From)
	if !found {
		return "", false, false
	}
	if !b.NeedsSubstitution {
		return p, false, true
	}
	out, err := b.substitutePrefix(dir, p)
	if err != nil {
		return "", false, false
	}
	return out, true, true
}

// stripRoot strips the view's root prefix from a host path, used as
// Detranslate's last-resort fallback.
func (v *View) stripRoot(hostPath string) (string, bool) {
	if !hasPrefixPath(hostPath, v.root) {
		return "", false
	}
	rest := hostPath[len(v.root):]
	if rest == "" {
		return "/", true
	}
	return path.Clean("/" + rest), true
}
