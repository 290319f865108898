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

// Package fs implements the binding table, path canonicaliser and
// guest/host translator: the ordered host/guest prefix pairs that
// assemble the virtual root, and the path pipeline that rewrites
// syscall path arguments in both directions.
package fs

import (
	"strings"

	"github.com/pkg/errors"

	"gvisor.dev/protrace/pkg/memio"
)

// Side names one half of a Binding.
type Side int

const (
	Host Side = iota
	Guest
)

// Direction names a translation's source and destination sides.
type Direction struct {
	From, To Side
}

var (
	// GuestToHost is used by Translate.
	GuestToHost = Direction{Guest, Host}
	// HostToGuest is used by Detranslate.
	HostToGuest = Direction{Host, Guest}
)

// Binding maps a guest path prefix onto a host path prefix. Immutable
// after creation.
type Binding struct {
	HostPrefix        string
	GuestPrefix       string
	NeedsSubstitution bool
}

// NewBinding builds a Binding; NeedsSubstitution is false iff the two
// prefixes are byte-equal (a symmetric binding short-circuits
// substitution, since the path is identical on both sides).
func NewBinding(hostPrefix, guestPrefix string) Binding {
	return Binding{
		HostPrefix:        hostPrefix,
		GuestPrefix:       guestPrefix,
		NeedsSubstitution: hostPrefix != guestPrefix,
	}
}

// ParseBinding parses a CLI "-b host:guest" argument. A bare "host"
// (no colon) binds host at the same guest path.
func ParseBinding(spec string) (Binding, error) {
	if spec == "" {
		return Binding{}, errors.New("fs: empty binding spec")
	}
	host, guest, ok := strings.Cut(spec, ":")
	if !ok {
		guest = host
	}
	if !strings.HasPrefix(host, "/") || !strings.HasPrefix(guest, "/") {
		return Binding{}, errors.Errorf("fs: binding %q: both host and guest paths must be absolute", spec)
	}
	return NewBinding(host, guest), nil
}

// prefix returns the binding's prefix on the given side.
func (b Binding) prefix(side Side) string {
	if side == Host {
		return b.HostPrefix
	}
	return b.GuestPrefix
}

// substitutePrefix replaces b's from-side prefix with its to-side
// prefix in path. path must already have the from-side prefix.
func (b Binding) substitutePrefix(dir Direction, path string) (string, error) {
	from, to := b.prefix(dir.From), b.prefix(dir.To)
	rest := strings.TrimPrefix(path, from)
	out := to
	if rest != "" {
		if to != "/" {
			out += "/"
		}
		out += strings.TrimPrefix(rest, "/")
	}
	if len(out) > memio.PathMax {
		return "", errors.Errorf("fs: substituted path exceeds PATH_MAX: %q", out)
	}
	return out, nil
}

// hasPrefixPath reports whether path is prefix or a path rooted under it
// (i.e. prefix itself, or prefix + "/" + anything).
func hasPrefixPath(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
