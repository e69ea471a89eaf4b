package axis

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

type (
	// Axis runs the state machine of one motor and its encoder. All of its
	// control work happens on a single worker goroutine.
	Axis struct {
		hw  HardwareConfig
		log *log.Entry

		motor      Motor
		encoder    Encoder
		sensorless SensorlessEstimator
		ctrl       Controller
		bus        BusMonitor
		observe    func(Event)

		meas    measurement
		stepDir stepDir

		// owned by the worker
		chain  TaskChain
		cfg    Config
		failed bool

		cfgLock    sync.Mutex
		cfgView    Config
		cfgPending bool

		requested atomic.Int32
		state     atomic.Int32
		err       atomic.Int32
		started   atomic.Bool
		done      chan struct{}
	}

	Option func(*Axis)

	// Event is emitted when the worker dispatches a state or an error
	// becomes active.
	Event struct {
		Axis  string    `json:"axis"`
		At    time.Time `json:"at"`
		Kind  EventKind `json:"kind"`
		State State     `json:"state"`
		Error ErrorKind `json:"error"`
	}

	EventKind string

	Status struct {
		Name             string    `json:"name"`
		State            State     `json:"state"`
		Requested        State     `json:"requested"`
		Error            ErrorKind `json:"error"`
		StepDirEnabled   bool      `json:"step_dir_enabled"`
		PositionSetpoint float64   `json:"position_setpoint"`
	}
)

const (
	EventDispatch EventKind = "dispatch"
	EventError    EventKind = "error"
)

// WithStepDir connects the step and direction inputs.
func WithStepDir(step StepInput, dir DirInput) Option {
	return func(a *Axis) {
		a.stepDir.step = step
		a.stepDir.dir = dir
	}
}

// WithBusMonitor enables the DC bus brownout check.
func WithBusMonitor(b BusMonitor) Option {
	return func(a *Axis) {
		a.bus = b
	}
}

// WithObserver registers f for every Event. f is called on the worker and
// must not block.
func WithObserver(f func(Event)) Option {
	return func(a *Axis) {
		a.observe = f
	}
}

func WithLogger(l *log.Entry) Option {
	return func(a *Axis) {
		a.log = l
	}
}

// New wires an axis to its collaborators. The first state it runs is the
// startup sequence.
func New(hw HardwareConfig, cfg Config, m Motor, e Encoder, s SensorlessEstimator, c Controller, opts ...Option) (*Axis, error) {
	if err := hw.validate(); err != nil {
		return nil, errors.Wrapf(err, "axis %s", hw.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "axis %s", hw.Name)
	}

	a := &Axis{
		hw:         hw,
		log:        log.WithField("axis", hw.Name),
		motor:      m,
		encoder:    e,
		sensorless: s,
		ctrl:       c,
		observe:    func(Event) {},
		meas:       newMeasurement(),
		cfg:        cfg,
		cfgView:    cfg,
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(a)
	}

	a.stepDir.ctrl = c
	a.stepDir.log = a.log
	a.stepDir.countsPerStep.Store(cfg.CountsPerStep)
	a.requested.Store(int32(StartupSequence))

	for _, x := range []interface{}{m, e, s, c} {
		if b, ok := x.(Binder); ok {
			b.Bind(a)
		}
	}

	return a, nil
}

// Setup initializes the encoder and motor hardware.
func (a *Axis) Setup() error {
	if err := a.encoder.Setup(); err != nil {
		return errors.Wrap(err, "encoder setup")
	}

	if err := a.motor.Setup(); err != nil {
		return errors.Wrap(err, "motor setup")
	}

	return nil
}

// Start launches the worker. It runs until ctx is cancelled.
func (a *Axis) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	go a.run(ctx)
	return nil
}

// Wait blocks until a started worker has returned.
func (a *Axis) Wait() {
	<-a.done
}

// SignalCurrentMeas wakes the worker. It is called by the current sample
// source once per sample.
func (a *Axis) SignalCurrentMeas() {
	if a.started.Load() {
		a.meas.signal()
	}
}

// RequestState asks the worker to run req. The running loop ends at its next
// tick and the worker plans req at the top of its next iteration.
func (a *Axis) RequestState(req State) error {
	if req == Undefined || !req.known() {
		return errors.Wrapf(ErrUnknownState, "%d", req)
	}

	if _, err := Plan(req, a.Config()); err != nil {
		return errors.Wrapf(err, "request %s", req)
	}

	a.requested.Store(int32(req))
	return nil
}

// Config returns the newest accepted config, which may not be in use yet.
func (a *Axis) Config() Config {
	a.cfgLock.Lock()
	defer a.cfgLock.Unlock()
	return a.cfgView
}

// SetConfig replaces the config. The worker applies it before it runs the
// next state.
func (a *Axis) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfgLock.Lock()
	a.cfgView = cfg
	a.cfgPending = true
	a.cfgLock.Unlock()
	return nil
}

func (a *Axis) ClearError() {
	a.err.Store(int32(NoError))
}

func (a *Axis) Name() string       { return a.hw.Name }
func (a *Axis) State() State       { return State(a.state.Load()) }
func (a *Axis) Error() ErrorKind   { return ErrorKind(a.err.Load()) }
func (a *Axis) Logger() *log.Entry { return a.log }

func (a *Axis) Status() Status {
	return Status{
		Name:             a.hw.Name,
		State:            a.State(),
		Requested:        State(a.requested.Load()),
		Error:            a.Error(),
		StepDirEnabled:   a.stepDir.enabled.Load(),
		PositionSetpoint: a.ctrl.PositionSetpoint(),
	}
}

func (a *Axis) run(ctx context.Context) {
	defer close(a.done)

	lockThread(a.hw.ThreadPriority, a.log)

	if !a.motor.Arm() {
		a.log.Warn("initial arm failed")
	}

	for ctx.Err() == nil {
		a.step(ctx)
	}

	a.stepDir.setEnabled(false)
	a.state.Store(int32(Undefined))
	a.log.Info("worker stopped")
}

// step is one pass of the state machine: plan, validate, dispatch, advance.
func (a *Axis) step(ctx context.Context) {
	a.applyConfig()

	if req := State(a.requested.Swap(int32(Undefined))); req != Undefined {
		chain, err := Plan(req, a.cfg)
		if err != nil {
			a.log.Errorf("unable to plan %s: %s", req, err)
			a.setError(InvalidState)
			chain.Reset(Idle)
		} else {
			a.err.Store(int32(NoError))
		}
		a.chain = chain
		a.log.Infof("requested %s: %v", req, a.chain.States())
	}

	if requiresMotorCalibration(a.chain.Head()) && !a.motor.IsCalibrated() {
		a.log.Warnf("%s needs a calibrated motor", a.chain.Head())
		a.chain.invalidateHead()
	}
	if requiresEncoderCalibration(a.chain.Head()) && !a.encoder.IsCalibrated() {
		a.log.Warnf("%s needs a calibrated encoder", a.chain.Head())
		a.chain.invalidateHead()
	}

	current := a.chain.Head()
	a.state.Store(int32(current))
	a.emit(EventDispatch, current)

	stop := func() bool {
		return ctx.Err() != nil || a.requested.Load() != int32(Undefined)
	}

	if a.dispatch(current, stop) {
		a.chain.PopFront()
	} else {
		a.chain.Reset(Idle)
	}
	a.state.Store(int32(a.chain.Head()))
}

func (a *Axis) dispatch(s State, stop func() bool) bool {
	a.failed = false

	switch s {
	case MotorCalibration:
		if !a.motor.RunCalibration() {
			return a.fail(MotorFailed)
		}
		return true
	case EncoderCalibration:
		if !a.encoder.RunCalibration() {
			return a.fail(EncoderFailed)
		}
		return true
	case SensorlessControl:
		ok := a.runSensorlessSpinUp(stop) && a.runSensorlessControlLoop(stop)
		return a.disarm() && ok
	case ClosedLoopControl:
		ok := a.runClosedLoopControlLoop(stop)
		return a.disarm() && ok
	case Idle:
		a.runIdleLoop(stop)
		if stop() && a.requested.Load() == int32(Undefined) {
			// shutting down, leave the motor disarmed
			return true
		}
		if !a.motor.Arm() {
			return a.fail(MotorFailed)
		}
		return true
	default:
		return a.fail(InvalidState)
	}
}

// disarm leaves the motor unpowered after a driven state, whether it ended
// by failure, request or shutdown.
func (a *Axis) disarm() bool {
	if err := a.motor.Disarm(); err != nil {
		a.log.WithError(err).Error("unable to disarm motor")
		return a.fail(MotorFailed)
	}
	return true
}

func (a *Axis) applyConfig() {
	a.cfgLock.Lock()
	defer a.cfgLock.Unlock()

	if !a.cfgPending {
		return
	}
	a.cfg = a.cfgView
	a.cfgPending = false
	a.stepDir.countsPerStep.Store(a.cfg.CountsPerStep)
}

// fail records e for the running state and reports false so a tick can
// return it directly.
func (a *Axis) fail(e ErrorKind) bool {
	a.failed = true
	a.setError(e)
	return false
}

// setError keeps the first error until it is cleared.
func (a *Axis) setError(e ErrorKind) {
	if !a.err.CompareAndSwap(int32(NoError), int32(e)) {
		return
	}
	a.log.Errorf("%s failed: %s", a.State(), e)
	a.emit(EventError, a.State())
}

func (a *Axis) emit(k EventKind, s State) {
	a.observe(Event{
		Axis:  a.hw.Name,
		At:    time.Now(),
		Kind:  k,
		State: s,
		Error: a.Error(),
	})
}
