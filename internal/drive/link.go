// Package drive talks to the power stage that runs PWM and the current loop
// for each axis. The stage reports every finished current sample, which is
// what paces the axis control loops.
package drive

import (
	"bufio"
	"io"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// Link is the serial connection to the power stage. Axes share it and are
// told apart by the address byte of each frame.
type Link struct {
	port io.ReadWriteCloser
	log  *log.Entry

	writeLock sync.Mutex
	closed    atomic.Bool

	lock   sync.RWMutex
	stages map[uint8]*Stage
}

// Open connects to the power stage on device.
func Open(device string, baud int) (*Link, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open serial port %s", device)
	}

	return NewLink(port), nil
}

func NewLink(port io.ReadWriteCloser) *Link {
	return &Link{
		port:   port,
		log:    log.WithField("component", "drive"),
		stages: map[uint8]*Stage{},
	}
}

// Stage returns the power stage channel for an axis address.
func (l *Link) Stage(addr uint8) *Stage {
	l.lock.Lock()
	defer l.lock.Unlock()

	s, ok := l.stages[addr]
	if !ok {
		s = newStage(l, addr)
		l.stages[addr] = s
	}
	return s
}

// Run reads frames until the port fails or the link is closed. Frames that
// fail to decode are skipped one byte at a time until the stream is in sync
// again.
func (l *Link) Run() error {
	r := bufio.NewReaderSize(l.port, 4*frameSize)
	for {
		buf, err := r.Peek(frameSize)
		if err != nil {
			if l.closed.Load() {
				return nil
			}
			return errors.Wrap(err, "power stage link")
		}

		f, err := decode(buf)
		if err != nil {
			l.log.Debugf("skipping byte: %s", err)
			r.Discard(1)
			continue
		}
		r.Discard(frameSize)

		l.lock.RLock()
		s, ok := l.stages[f.Address]
		l.lock.RUnlock()
		if !ok {
			continue
		}
		s.handle(f)
	}
}

// Close disarms every stage and closes the port.
func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	l.lock.RLock()
	var err error
	for _, s := range l.stages {
		err = multierr.Append(err, s.command(kindDisarm, 0, 0))
	}
	l.lock.RUnlock()

	return multierr.Append(err, l.port.Close())
}

func (l *Link) send(f frame) error {
	buf, err := f.encode()
	if err != nil {
		return err
	}

	l.writeLock.Lock()
	defer l.writeLock.Unlock()

	_, err = l.port.Write(buf)
	return err
}
