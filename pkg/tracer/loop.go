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

package tracer

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"gvisor.dev/protrace/pkg/arch"
	"gvisor.dev/protrace/pkg/execve"
	"gvisor.dev/protrace/pkg/fs"
	"gvisor.dev/protrace/pkg/ptlog"
	"gvisor.dev/protrace/pkg/ptrerr"
	"gvisor.dev/protrace/pkg/syscalls"
)

// defaultPtraceOptions is the one PTRACE_SETOPTIONS mask, issued once,
// at the init tracee's first stop.
const defaultPtraceOptions = unix.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACEVFORKDONE |
	unix.PTRACE_O_TRACEEXEC |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEEXIT

// Loop is the tracer's event loop: single-threaded, cooperative,
// driven entirely by wait4. Each stop is handled synchronously before
// the next wait4, so no tracer-internal locking exists anywhere.
type Loop struct {
	Registry     *Registry
	Arch         arch.ID
	ShimHostPath string
	Classify     func(sysnum uintptr) (syscalls.Class, int)

	optionsSet bool
	initPid    int
	exitCode   int

	// pendingStops remembers pids that stopped before their parent's
	// clone event registered them, so they can be restarted once known.
	pendingStops map[int]bool
}

// NewLoop builds a Loop for the given architecture. classify is
// arch-specific (pkg/syscalls.Classify, selected at compile time by
// build tag).
func NewLoop(a arch.ID, shimHostPath string, classify func(uintptr) (syscalls.Class, int)) *Loop {
	return &Loop{
		Registry:     NewRegistry(arch.NewRegs),
		Arch:         a,
		ShimHostPath: shimHostPath,
		Classify:     classify,
		pendingStops: make(map[int]bool),
	}
}

// Run drives the event loop until every tracee has exited, returning the
// init tracee's exit code (or 1 if it was killed by a signal). initPid
// is the already-forked, not-yet-execve'd tracee (see cmd/proot-go's
// Launch); initFS is its starting filesystem view.
func (l *Loop) Run(initPid int, initFS *fs.View) (int, error) {
	l.initPid = initPid
	l.Registry.Create(initPid, initFS)

	for l.Registry.Len() > 0 {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 1, fmt.Errorf("tracer: wait4: %w", err)
		}

		switch {
		case ws.Exited():
			l.onTerminated(pid, ws.ExitStatus())
			continue
		case ws.Signaled():
			l.onTerminated(pid, 1)
			continue
		}

		t := l.Registry.Get(pid)
		if t == nil {
			// A tracee we have not registered yet (its parent's
			// PTRACE_EVENT_{FORK,VFORK,CLONE} stop has not been
			// processed). Leave it stopped; handleNewChild restarts it
			// once the owning event registers it.
			l.pendingStops[pid] = true
			continue
		}
		t.RestartHow = RestartNone

		if ws.Stopped() {
			l.handleStopped(t, ws)
		}

		t.ResetRestartHow()
		l.restart(t, stopSignal(ws))
	}

	return l.exitCode, nil
}

func (l *Loop) onTerminated(pid, code int) {
	if pid == l.initPid {
		l.exitCode = code
	}
	delete(l.pendingStops, pid)
	l.Registry.Remove(pid)
}

func stopSignal(ws unix.WaitStatus) unix.Signal {
	if ws.Stopped() {
		return ws.StopSignal()
	}
	return 0
}

// sigSyscallTrap is the stop signal PTRACE_O_TRACESYSGOOD makes the
// kernel report for genuine syscall-stops, so they never need a
// siginfo probe to be told apart from a delivered SIGTRAP.
const sigSyscallTrap = unix.SIGTRAP | 0x80

func (l *Loop) handleStopped(t *Tracee, ws unix.WaitStatus) {
	sig := ws.StopSignal()

	switch {
	case sig == unix.SIGSTOP:
		l.ensurePtraceOptions(t.Pid)
		if t.SigStop == SigStopWaitForEvent {
			t.SigStop = SigStopNone
		}
		return

	case sig == sigSyscallTrap:
		l.translate(t)
		return

	case sig == unix.SIGTRAP:
		// PTRACE_EVENT stops also arrive as SIGTRAP; ws.TrapCause()
		// disambiguates them from a bare trap (cause 0), which is the
		// init tracee's very first post-execve stop, seen before
		// TRACESYSGOOD and TRACEEXEC could be set on it.
		switch cause := ws.TrapCause(); cause {
		case unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK, unix.PTRACE_EVENT_CLONE:
			l.handleNewChild(t, unix.Signal(cause))
		case unix.PTRACE_EVENT_EXEC, unix.PTRACE_EVENT_VFORK_DONE:
			// No state to update; the next stop for this tracee drives
			// the actual translation.
		case unix.PTRACE_EVENT_EXIT:
			// Logged only; the tracee's actual termination is reported
			// by a subsequent Exited/Signaled wait4 status.
		case unix.PTRACE_EVENT_SECCOMP:
			// PTRACE_EVENT_SECCOMP2 (the BPF-return-value variant) is
			// not distinguished from the plain seccomp trap: every
			// kernel that can emit it also supports this one.
			t.Seccomp = true
			l.translate(t)
		default:
			l.ensurePtraceOptions(t.Pid)
		}
		return

	default:
		// Any other stop signal carries no syscall to translate; it is
		// simply forwarded to the tracee on restart.
		if sig != unix.SIGCHLD {
			t.RestartHow = RestartWithExitStage
		}
	}
}

func (l *Loop) ensurePtraceOptions(pid int) {
	if l.optionsSet {
		return
	}
	l.optionsSet = true
	if err := unix.PtraceSetOptions(pid, defaultPtraceOptions); err != nil {
		ptlog.ForTracee(pid).Errorf("ptrace setoptions: %v", err)
	}
}

// handleNewChild handles a fork/vfork/clone event-stop: read the
// new child's pid from the event message, inherit the parent's
// filesystem view (shared under CLONE_FS, deep-copied otherwise), and
// mark it waiting for its own startup SIGSTOP.
func (l *Loop) handleNewChild(parent *Tracee, cause unix.Signal) {
	if err := parent.Regs.FetchCurrent(parent.Pid); err != nil {
		ptlog.ForTracee(parent.Pid).Errorf("fetch regs for clone event: %v", err)
		return
	}
	sysnum := parent.Regs.SysNum(arch.Current)

	flags := CloneFlagsFromSyscall(sysnum, parent.Regs)
	cloneFS := flags&unix.CLONE_FS != 0

	childPidRaw, err := unix.PtraceGetEventMsg(parent.Pid)
	if err != nil {
		ptlog.ForTracee(parent.Pid).Errorf("geteventmsg: %v", err)
		return
	}
	childPid := int(childPidRaw)

	child := l.Registry.SpawnChild(parent, childPid, cloneFS)
	if l.pendingStops[childPid] {
		// The child's startup SIGSTOP already arrived and left it
		// parked; release it now that it is registered.
		delete(l.pendingStops, childPid)
		child.SigStop = SigStopNone
		if err := unix.PtraceSyscall(childPid, 0); err != nil {
			ptlog.ForTracee(childPid).Debugf("restarting parked child: %v", err)
		}
	}
}

// translate runs the per-syscall translation or the execve pivot for
// one enter or exit stop.
func (l *Loop) translate(t *Tracee) {
	// The Original snapshot is frozen at enter; the exit stop only
	// refreshes Current, so restoring Original at exit gives back the
	// enter-time stack pointer and arguments.
	var err error
	if t.Status == SysEnter {
		err = t.Regs.Fetch(t.Pid)
	} else {
		err = t.Regs.FetchCurrent(t.Pid)
	}
	if err != nil {
		ptlog.ForTracee(t.Pid).Errorf("fetch regs: %v", err)
		return
	}

	if t.Seccomp {
		switch t.Status {
		case SysEnter:
			t.RestartHow = RestartWithExitStage
			t.SysexitPending = true
		case SysExit, StatusError:
			t.RestartHow = RestartWithoutExitStage
			t.SysexitPending = false
		}
	}

	// Classify from the enter-time snapshot: a cancelled (emulated)
	// syscall carries a voided number in Current at its exit stop.
	sysnum := t.Regs.SysNum(arch.Original)
	class, flagIdx := l.Classify(sysnum)

	switch t.Status {
	case SysEnter:
		l.translateEnter(t, sysnum, class, flagIdx)
	case SysExit, StatusError:
		l.translateExit(t, class)
	}
}

func (l *Loop) translateEnter(t *Tracee, sysnum uintptr, class syscalls.Class, flagIdx int) {
	if class == syscalls.ClassExecve {
		l.enterExecve(t)
		if t.Status != StatusError {
			t.Status = SysExit
		}
		t.Regs.Push(t.Pid, false)
		return
	}

	ctx := syscalls.Context{
		Pid:        t.Pid,
		Regs:       t.Regs,
		View:       t.FS,
		Heap:       &t.Heap,
		ResolveFD:  func(fd int32) (string, error) { return resolveFD(t.Pid, t.FS, fd) },
		FlagArgIdx: flagIdx,
	}
	if err := syscalls.Enter(ctx, class); err != nil {
		t.SetError(int64(ptrerr.ToErrno(err)))
	} else {
		t.Status = SysExit
	}
	t.Regs.Push(t.Pid, false)
}

func (l *Loop) translateExit(t *Tracee, class syscalls.Class) {
	if t.Status == StatusError {
		t.Regs.SetSysResult(-t.Errno)
		t.Regs.Push(t.Pid, true)
		t.Status = SysEnter
		return
	}

	if class == syscalls.ClassExecve {
		l.exitExecve(t)
		t.Status = SysEnter
		return
	}

	ctx := syscalls.Context{
		Pid:       t.Pid,
		Regs:      t.Regs,
		View:      t.FS,
		Heap:      &t.Heap,
		ResolveFD: func(fd int32) (string, error) { return resolveFD(t.Pid, t.FS, fd) },
	}
	if err := syscalls.Exit(ctx, class); err != nil {
		ptlog.ForTracee(t.Pid).Debugf("exit fixup: %v", err)
	}
	// Give back the enter-time registers (stack pointer included, which
	// reclaims any scratch strings allocated there), keeping only the
	// syscall result.
	if err := t.Regs.Push(t.Pid, true); err != nil {
		ptlog.ForTracee(t.Pid).Errorf("restoring regs at exit: %v", err)
	}
	t.Status = SysEnter
}

// resolveFD reads the tracee's open file descriptor table
// (/proc/<pid>/fd/<n>) to recover the guest path a dirfd refers to, for
// the *at syscalls' dirfd-relative resolution.
func resolveFD(pid int, view *fs.View, fd int32) (string, error) {
	link := fmt.Sprintf("/proc/%d/fd/%d", pid, fd)
	hostPath, err := os.Readlink(link)
	if err != nil {
		return "", unix.EBADF
	}
	return view.Detranslate(hostPath, "")
}

func (l *Loop) enterExecve(t *Tracee) {
	res, err := execve.EnterTranslate(execve.Params{
		Pid:          t.Pid,
		Regs:         t.Regs,
		View:         t.FS,
		Arch:         l.Arch,
		ShimHostPath: l.ShimHostPath,
	})
	if err != nil {
		t.SetError(int64(ptrerr.ToErrno(err)))
		return
	}
	t.NewExe = res.Info.CanonicalGuestPath
	t.pendingExecve = &pendingExecve{info: res.Info}
}

func (l *Loop) exitExecve(t *Tracee) {
	result := t.Regs.SysResult(arch.Current)
	if result < 0 || t.pendingExecve == nil {
		// Failed execve: the old image survives, so the enter-time
		// registers must be given back.
		t.pendingExecve = nil
		t.NewExe = ""
		if err := t.Regs.Push(t.Pid, true); err != nil {
			ptlog.ForTracee(t.Pid).Errorf("restoring regs after failed execve: %v", err)
		}
		return
	}
	info := t.pendingExecve.info
	t.pendingExecve = nil

	if err := execve.ExitBuildLoadScript(execve.Params{
		Pid:  t.Pid,
		Regs: t.Regs,
		View: t.FS,
		Arch: l.Arch,
	}, info, false); err != nil {
		ptlog.ForTracee(t.Pid).Errorf("execve exit: building load-script: %v", err)
		return
	}
	t.Exe = t.NewExe
	t.NewExe = ""
	t.Heap.Reset()
	t.Regs.Push(t.Pid, false)
}

func (l *Loop) restart(t *Tracee, sig unix.Signal) {
	deliver := sig
	if sig == unix.SIGSTOP || sig == unix.SIGTRAP || sig == sigSyscallTrap {
		deliver = 0
	}
	switch t.RestartHow {
	case RestartWithoutExitStage:
		if err := unix.PtraceCont(t.Pid, int(deliver)); err != nil {
			ptlog.ForTracee(t.Pid).Debugf("ptrace cont: %v", err)
		}
	case RestartWithExitStage:
		if err := unix.PtraceSyscall(t.Pid, int(deliver)); err != nil {
			ptlog.ForTracee(t.Pid).Debugf("ptrace syscall-restart: %v", err)
		}
	case RestartNone:
	}
	t.RestartHow = RestartNone
}

// KillAll tears the whole tree down: SIGKILL every live tracee, then
// drain wait4 until none remain, aggregating any per-tracee teardown
// errors instead of dropping all but the last.
func (l *Loop) KillAll() error {
	var result *multierror.Error
	for _, pid := range append([]int(nil), l.Registry.alive...) {
		if err := unix.Kill(pid, unix.SIGKILL); err != nil {
			result = multierror.Append(result, fmt.Errorf("kill %d: %w", pid, err))
		}
	}
	for l.Registry.Len() > 0 {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, 0, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			result = multierror.Append(result, fmt.Errorf("wait4 during teardown: %w", err))
			break
		}
		l.Registry.Remove(pid)
	}
	return result.ErrorOrNil()
}
