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

// Package ptrerr gives translation and load errors a POSIX errno, a
// short context string, and (via github.com/pkg/errors) a cause chain,
// and converts them to the value a failed syscall reports.
package ptrerr

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Errno wraps a POSIX errno with a human-readable context. A
// translation error raised at enter-stage is converted into one of
// these and synthesised as the syscall's return value at exit-stage.
type Errno struct {
	Errno   unix.Errno
	Context string
	cause   error
}

func (e *Errno) Error() string {
	if e.Context == "" {
		return e.Errno.Error()
	}
	return e.Context + ": " + e.Errno.Error()
}

func (e *Errno) Unwrap() error { return e.cause }

// Is reports whether target is the same errno value, so callers can
// write `errors.Is(err, unix.ENOENT)`.
func (e *Errno) Is(target error) bool {
	errno, ok := target.(unix.Errno)
	return ok && errno == e.Errno
}

// New wraps errno with a context string.
func New(errno unix.Errno, context string) *Errno {
	return &Errno{Errno: errno, Context: context}
}

// Wrap attaches errno and context to an existing cause, keeping the
// chain walkable with errors.Cause/errors.Unwrap.
func Wrap(cause error, errno unix.Errno, context string) *Errno {
	return &Errno{Errno: errno, Context: context, cause: errors.Wrap(cause, context)}
}

// As extracts the POSIX errno from err if it is (or wraps) an *Errno,
// and false otherwise.
func As(err error) (unix.Errno, bool) {
	var e *Errno
	if errors.As(err, &e) {
		return e.Errno, true
	}
	return 0, false
}

// ToErrno extracts the errno to synthesise as a syscall return value,
// defaulting to EIO for errors that carry none (a fatal, unrecoverable
// error should not normally flow through this path).
func ToErrno(err error) unix.Errno {
	if errno, ok := As(err); ok {
		return errno
	}
	if errno, ok := err.(unix.Errno); ok {
		return errno
	}
	return unix.EIO
}
