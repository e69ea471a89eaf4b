//go:build !linux

package axis

import (
	"runtime"

	log "github.com/sirupsen/logrus"
)

func lockThread(priority int, l *log.Entry) {
	runtime.LockOSThread()
	if priority > 0 {
		l.Debugf("thread priority %d is only applied on linux", priority)
	}
}
