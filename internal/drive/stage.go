package drive

import (
	"sync"
	"time"

	"github.com/cswank/motordrive/internal/axis"
	"github.com/pkg/errors"
)

var (
	ErrTimeout  = errors.New("power stage did not answer in time")
	ErrRejected = errors.New("power stage rejected the command")
)

// Stage is the part of the power stage that drives one axis.
type Stage struct {
	addr uint8
	link *Link

	lock       sync.Mutex
	flags      uint8
	vbus       float64
	encoder    axis.Estimate
	sensorless axis.Estimate
	onSample   func()

	acks chan frame
}

func newStage(l *Link, addr uint8) *Stage {
	return &Stage{
		addr: addr,
		link: l,
		acks: make(chan frame, 1),
	}
}

// OnSample registers the callback for finished current samples. It runs on
// the link's reader goroutine.
func (s *Stage) OnSample(f func()) {
	s.lock.Lock()
	s.onSample = f
	s.lock.Unlock()
}

func (s *Stage) BusVoltage() float64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.vbus
}

func (s *Stage) flag(f uint8) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.flags&f != 0
}

func (s *Stage) estimate(sensorless bool) axis.Estimate {
	s.lock.Lock()
	defer s.lock.Unlock()
	if sensorless {
		return s.sensorless
	}
	return s.encoder
}

func (s *Stage) handle(f frame) {
	est := axis.Estimate{Pos: float64(f.A), Vel: float64(f.B), Phase: float64(f.C)}

	switch f.Kind {
	case kindEncoder:
		s.lock.Lock()
		s.encoder = est
		s.lock.Unlock()
	case kindSensorless:
		s.lock.Lock()
		s.sensorless = est
		s.lock.Unlock()
	case kindSample:
		s.lock.Lock()
		s.vbus = float64(f.A)
		s.flags = f.Flags
		cb := s.onSample
		s.lock.Unlock()
		if cb != nil {
			cb()
		}
	case kindAck:
		select {
		case s.acks <- f:
		default:
		}
	}
}

func (s *Stage) command(k kind, a, b float32) error {
	return s.link.send(frame{Address: s.addr, Kind: k, A: a, B: b})
}

// request sends k and waits for the stage to acknowledge it.
func (s *Stage) request(k kind, timeout time.Duration) error {
	select {
	case <-s.acks:
	default:
	}

	if err := s.command(k, 0, 0); err != nil {
		return err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	for {
		select {
		case ack := <-s.acks:
			if kind(ack.A) != k {
				continue
			}
			if ack.Flags&flagAckOK == 0 {
				return ErrRejected
			}
			return nil
		case <-t.C:
			return ErrTimeout
		}
	}
}
