package repo

import (
	"context"

	"github.com/cswank/motordrive/internal/axis"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Recorder persists axis events off the control workers. Record never
// blocks: when the buffer is full the event is dropped and counted.
type Recorder struct {
	events  chan axis.Event
	dropped atomic.Int64
	log     *log.Entry
}

func NewRecorder(size int) *Recorder {
	return &Recorder{
		events: make(chan axis.Event, size),
		log:    log.WithField("component", "recorder"),
	}
}

func (r *Recorder) Record(e axis.Event) {
	select {
	case r.events <- e:
	default:
		r.dropped.Inc()
	}
}

func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Run writes events until ctx is done, then flushes whatever is buffered.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.events:
			r.write(e)
		case <-ctx.Done():
			r.flush()
			return
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case e := <-r.events:
			r.write(e)
		default:
			if n := r.dropped.Load(); n > 0 {
				r.log.Warnf("dropped %d events", n)
			}
			return
		}
	}
}

func (r *Recorder) write(e axis.Event) {
	if err := AddEvent(e); err != nil {
		r.log.WithError(err).Errorf("unable to record %s event for %s", e.Kind, e.Axis)
	}
}
