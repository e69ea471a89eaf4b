// Package gpio connects the step/direction pins through the gpio character
// device.
package gpio

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

type (
	// Step requests the step line while it is watched and releases it
	// afterwards.
	Step struct {
		chip   string
		offset int

		lock sync.Mutex
		line *gpiocdev.Line
	}

	// Dir is the direction line. It stays requested as an input.
	Dir struct {
		line *gpiocdev.Line
	}
)

func NewStep(chip string, offset int) *Step {
	return &Step{chip: chip, offset: offset}
}

func (s *Step) Watch(onRisingEdge func()) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.line != nil {
		return nil
	}

	l, err := gpiocdev.RequestLine(s.chip, s.offset,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(risingEdges(onRisingEdge)),
	)
	if err != nil {
		return errors.Wrapf(err, "unable to request step line %s:%d", s.chip, s.offset)
	}

	s.line = l
	return nil
}

func (s *Step) Unwatch() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.line == nil {
		return nil
	}

	err := s.line.Close()
	s.line = nil
	return err
}

func OpenDir(chip string, offset int) (*Dir, error) {
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsInput, gpiocdev.WithBiasDisabled)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to request dir line %s:%d", chip, offset)
	}
	return &Dir{line: l}, nil
}

// High reads the line. A failed read counts as low.
func (d *Dir) High() bool {
	v, err := d.line.Value()
	return level(v, err)
}

func (d *Dir) Close() error {
	return d.line.Close()
}

func risingEdges(f func()) gpiocdev.EventHandler {
	return func(evt gpiocdev.LineEvent) {
		if evt.Type == gpiocdev.LineEventRisingEdge {
			f()
		}
	}
}

func level(v int, err error) bool {
	return err == nil && v == 1
}
