package axis

import (
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

type (
	// StepInput delivers rising edges of the step pin.
	StepInput interface {
		Watch(onRisingEdge func()) error
		Unwatch() error
	}

	// DirInput reads the level of the direction pin.
	DirInput interface {
		High() bool
	}

	stepDir struct {
		step StepInput
		dir  DirInput
		ctrl Controller
		log  *log.Entry

		enabled       atomic.Bool
		countsPerStep atomic.Float64
	}
)

// setEnabled subscribes to or unsubscribes from step pulses. Calling it twice
// with the same value does nothing the second time.
func (s *stepDir) setEnabled(enable bool) {
	if s.step == nil || s.dir == nil {
		return
	}

	if enable == s.enabled.Load() {
		return
	}

	if enable {
		if err := s.step.Watch(s.onStep); err != nil {
			s.log.Errorf("unable to watch step input: %s", err)
			return
		}
		s.enabled.Store(true)
		return
	}

	s.enabled.Store(false)
	if err := s.step.Unwatch(); err != nil {
		s.log.Errorf("unable to unwatch step input: %s", err)
	}
}

// onStep runs in the edge handler's context.
func (s *stepDir) onStep() {
	if !s.enabled.Load() {
		return
	}

	dir := -1.0
	if s.dir.High() {
		dir = 1.0
	}
	s.ctrl.AddPositionSetpoint(dir * s.countsPerStep.Load())
}
