package axis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type fakeMotor struct {
	calibrated  atomic.Bool
	calibrateOK atomic.Bool
	armOK       atomic.Bool
	checksOK    atomic.Bool
	// failAt makes the n-th drive update fail, 0 never
	failAt  atomic.Int32
	updates atomic.Int32
	arms    atomic.Int32
	disarms atomic.Int32
	armed   atomic.Bool
	// current is the last commanded magnitude
	current   atomic.Float64
	disarmErr error
}

func newFakeMotor() *fakeMotor {
	m := &fakeMotor{}
	m.calibrated.Store(true)
	m.calibrateOK.Store(true)
	m.armOK.Store(true)
	m.checksOK.Store(true)
	return m
}

func (m *fakeMotor) Setup() error       { return nil }
func (m *fakeMotor) DoChecks() bool     { return m.checksOK.Load() }
func (m *fakeMotor) IsCalibrated() bool { return m.calibrated.Load() }

func (m *fakeMotor) RunCalibration() bool {
	ok := m.calibrateOK.Load()
	m.calibrated.Store(ok)
	return ok
}

func (m *fakeMotor) Arm() bool {
	m.arms.Inc()
	ok := m.armOK.Load()
	m.armed.Store(ok)
	return ok
}

func (m *fakeMotor) Disarm() error {
	m.disarms.Inc()
	m.armed.Store(false)
	m.current.Store(0)
	return m.disarmErr
}

func (m *fakeMotor) Update(current, phase float64) bool {
	n := m.updates.Inc()
	if m.failAt.Load() == n {
		return false
	}
	m.current.Store(current)
	return true
}

type fakeEstimator struct {
	calibrated  atomic.Bool
	calibrateOK atomic.Bool
	failAt      atomic.Int32
	// updates counts updates that asked for an estimate
	updates  atomic.Int32
	monitors atomic.Int32
}

func newFakeEstimator() *fakeEstimator {
	e := &fakeEstimator{}
	e.calibrated.Store(true)
	e.calibrateOK.Store(true)
	return e
}

func (e *fakeEstimator) Setup() error       { return nil }
func (e *fakeEstimator) IsCalibrated() bool { return e.calibrated.Load() }

func (e *fakeEstimator) RunCalibration() bool {
	ok := e.calibrateOK.Load()
	e.calibrated.Store(ok)
	return ok
}

func (e *fakeEstimator) Update(est *Estimate) bool {
	if est == nil {
		e.monitors.Inc()
		return true
	}
	n := e.updates.Inc()
	if e.failAt.Load() == n {
		return false
	}
	*est = Estimate{Pos: float64(n), Vel: 1, Phase: 0.5}
	return true
}

type fakeController struct {
	mode     atomic.Int32
	setpoint atomic.Float64
	failAt   atomic.Int32
	updates  atomic.Int32
}

func (c *fakeController) ControlMode() ControlMode          { return ControlMode(c.mode.Load()) }
func (c *fakeController) AddPositionSetpoint(delta float64) { c.setpoint.Add(delta) }
func (c *fakeController) PositionSetpoint() float64         { return c.setpoint.Load() }

func (c *fakeController) Update(pos, vel float64) (float64, bool) {
	n := c.updates.Inc()
	return 1, c.failAt.Load() != n
}

type fakeBus struct {
	volts atomic.Float64
}

func (b *fakeBus) BusVoltage() float64 { return b.volts.Load() }

type fakeStep struct {
	mu       sync.Mutex
	cb       func()
	watches  atomic.Int32
	unwatchs atomic.Int32
}

func (s *fakeStep) Watch(f func()) error {
	s.mu.Lock()
	s.cb = f
	s.mu.Unlock()
	s.watches.Inc()
	return nil
}

func (s *fakeStep) Unwatch() error {
	s.unwatchs.Inc()
	return nil
}

// edge fires the last registered handler, as a late interrupt would.
func (s *fakeStep) edge() {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type fakeDir struct {
	high atomic.Bool
}

func (d *fakeDir) High() bool { return d.high.Load() }

type rig struct {
	a          *Axis
	motor      *fakeMotor
	encoder    *fakeEstimator
	sensorless *fakeEstimator
	ctrl       *fakeController
	bus        *fakeBus
	step       *fakeStep
	dir        *fakeDir

	lock   sync.Mutex
	events []Event
}

func testHardware() HardwareConfig {
	hw := DefaultHardwareConfig("test")
	hw.ThreadPriority = 0
	hw.MeasurementTimeout = 50 * time.Millisecond
	return hw
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RampUpTime = 0.001
	cfg.RampUpDistance = 1
	cfg.SpinUpTargetVel = 0
	cfg.DcBusBrownoutTripLevel = 8
	return cfg
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	r := &rig{
		motor:      newFakeMotor(),
		encoder:    newFakeEstimator(),
		sensorless: newFakeEstimator(),
		ctrl:       &fakeController{},
		bus:        &fakeBus{},
		step:       &fakeStep{},
		dir:        &fakeDir{},
	}
	r.bus.volts.Store(24)
	r.ctrl.mode.Store(int32(VelocityControl))

	a, err := New(testHardware(), cfg, r.motor, r.encoder, r.sensorless, r.ctrl,
		WithBusMonitor(r.bus),
		WithStepDir(r.step, r.dir),
		WithObserver(r.record),
	)
	require.NoError(t, err)
	r.a = a
	return r
}

func (r *rig) record(e Event) {
	r.lock.Lock()
	r.events = append(r.events, e)
	r.lock.Unlock()
}

func (r *rig) errorEvents() []Event {
	r.lock.Lock()
	defer r.lock.Unlock()

	var out []Event
	for _, e := range r.events {
		if e.Kind == EventError {
			out = append(out, e)
		}
	}
	return out
}

// dispatched returns the states in the order the worker ran them.
func (r *rig) dispatched() []State {
	r.lock.Lock()
	defer r.lock.Unlock()
	var out []State
	for _, e := range r.events {
		if e.Kind == EventDispatch {
			out = append(out, e.State)
		}
	}
	return out
}

// start runs the worker. With signal set a goroutine plays the current
// measurement interrupt.
func (r *rig) start(t *testing.T, signal bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.a.Start(ctx))

	if signal {
		go func() {
			for ctx.Err() == nil {
				r.a.SignalCurrentMeas()
				time.Sleep(20 * time.Microsecond)
			}
		}()
	}

	t.Cleanup(func() {
		cancel()
		r.a.Wait()
	})
}

func (r *rig) waitFor(t *testing.T, want ...State) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := r.dispatched()
		return len(got) >= len(want)
	}, 2*time.Second, time.Millisecond, "waiting for %v", want)
}
