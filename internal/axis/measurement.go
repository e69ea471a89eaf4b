package axis

import "time"

// measurement is the current-measurement event: one signaler (the sample
// interrupt) and one waiter (the worker). Signals do not accumulate.
type measurement struct {
	ch chan struct{}
}

func newMeasurement() measurement {
	return measurement{ch: make(chan struct{}, 1)}
}

func (m measurement) signal() {
	select {
	case m.ch <- struct{}{}:
	default:
	}
}

// wait blocks until the next signal or until timeout has passed.
func (m measurement) wait(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-m.ch:
		return true
	case <-t.C:
		return false
	}
}
