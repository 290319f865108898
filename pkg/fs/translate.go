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
	"path"
	"strings"

	"golang.org/x/sys/unix"
)

// Translate resolves a guest path to its host path: canonicalise, then
// substitute guest->host.
func (v *View) Translate(guestPath string, derefFinal bool) (string, error) {
	canon, err := v.Canonicalize(guestPath, derefFinal)
	if err != nil {
		return "", err
	}
	host, _, ok := v.SubstituteBinding(canon, GuestToHost)
	if !ok {
		return "", unix.ENOENT
	}
	return host, nil
}

// TranslateAt implements translate_path_at: if path is absolute, or
// dirfd denotes the cwd, this reduces to Translate against
// cwd-relative resolution; otherwise resolveDirfd supplies the guest
// path of dirfd (read from the tracee's /proc/pid/fd table by the
// caller) and path is joined onto it before translating.
func (v *View) TranslateAt(guestPath string, derefFinal bool, dirfdIsCwd bool, resolveDirfd func() (string, error)) (string, error) {
	full := guestPath
	switch {
	case strings.HasPrefix(guestPath, "/"):
		// already absolute
	case dirfdIsCwd:
		full = path.Join(v.cwd, guestPath)
	default:
		dirGuestPath, err := resolveDirfd()
		if err != nil {
			return "", err
		}
		full = path.Join(dirGuestPath, guestPath)
	}
	return v.Translate(full, derefFinal)
}

// Detranslate converts a host path back to its guest-visible form. If
// path is relative it is returned unchanged (the common case for
// readlink targets). referrer, when non-empty, is the host path of the
// symlink whose content is being detranslated; if the referrer does not
// itself live under the guestfs root, the binding substitution is only
// followed when the referrer and the target resolve to the very same
// binding, so that a symlink entirely inside one bound directory stays
// self-consistent in the guest view.
func (v *View) Detranslate(hostPath string, referrer string) (string, error) {
	if !strings.HasPrefix(hostPath, "/") {
		return hostPath, nil
	}

	followBinding := true
	if referrer != "" {
		followBinding = false
		if !v.belongsToGuestfs(referrer) {
			refBinding, refOK := v.FindBinding(referrer, Host)
			targetBinding, targetOK := v.FindBinding(hostPath, Host)
			if refOK && targetOK {
				followBinding = refBinding.HostPrefix == targetBinding.HostPrefix
			}
		}
	}

	if followBinding {
		if out, _, ok := v.SubstituteBinding(hostPath, HostToGuest); ok {
			return out, nil
		}
	}

	if stripped, ok := v.stripRoot(hostPath); ok {
		return stripped, nil
	}
	return "", unix.ENOENT
}
