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

// Package ptlog is the tracer's structured logger: a package-level
// logrus logger wrapped in free functions so call sites stay terse,
// with per-tracee field tagging for anything attributable to a pid.
package ptlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}()

// SetLevel adjusts verbosity; called once from cmd/proot-go's -v flag.
func SetLevel(level logrus.Level) { base.SetLevel(level) }

// ForTracee returns a logger pre-tagged with a tracee pid, the way
// every tracer-side log line in this repo should be attributed.
func ForTracee(pid int) *logrus.Entry {
	return base.WithField("pid", pid)
}

func Debugf(format string, args ...interface{}) { base.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { base.Infof(format, args...) }
func Warningf(format string, args ...interface{}) {
	base.Warningf(format, args...)
}
func Errorf(format string, args ...interface{}) { base.Errorf(format, args...) }
