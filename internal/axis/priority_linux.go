//go:build linux

package axis

import (
	"runtime"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// lockThread pins the worker to its OS thread and gives that thread a
// SCHED_FIFO priority. Without CAP_SYS_NICE the priority is left alone.
func lockThread(priority int, l *log.Entry) {
	runtime.LockOSThread()
	if priority <= 0 {
		return
	}

	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		l.Warnf("unable to set thread priority %d: %s", priority, err)
	}
}
