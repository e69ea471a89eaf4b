package axis

// iteration is one tick of a control loop. It returns false to end the loop.
type iteration interface {
	tick() bool
}

type iterationFunc func() bool

func (f iterationFunc) tick() bool { return f() }

// controlLoop feeds an estimate through the controller into the motor. The
// other estimator is updated for monitoring only.
type controlLoop struct {
	a          *Axis
	source     func(*Estimate) bool
	sourceErr  ErrorKind
	monitor    func(*Estimate) bool
	noPosition bool
}

func (l controlLoop) tick() bool {
	a := l.a
	if l.noPosition && a.ctrl.ControlMode() == PositionControl {
		return a.fail(PositionControlDuringSensorless)
	}

	l.monitor(nil)

	var est Estimate
	if !l.source(&est) {
		return a.fail(l.sourceErr)
	}

	current, ok := a.ctrl.Update(est.Pos, est.Vel)
	if !ok {
		return a.fail(ControllerFailed)
	}

	if !a.motor.Update(current, est.Phase) {
		return a.fail(MotorFailed)
	}
	return true
}

// runControlLoop waits for each current measurement and then ticks it. It
// ends when it ticks false, when a check fails, when a deadline is missed
// outside of idle, or when stop reports true between two ticks.
func (a *Axis) runControlLoop(stop func() bool, it iteration, idle bool) bool {
	a.failed = false
	for !stop() {
		if !a.meas.wait(a.hw.MeasurementTimeout) {
			if idle {
				continue
			}
			a.fail(CurrentMeasurementTimeout)
			break
		}

		if !idle && !a.doChecks() {
			break
		}

		if !it.tick() {
			break
		}
	}
	return !a.failed
}

func (a *Axis) runSensorlessControlLoop(stop func() bool) bool {
	a.stepDir.setEnabled(a.cfg.EnableStepDir)
	defer a.stepDir.setEnabled(false)

	return a.runControlLoop(stop, controlLoop{
		a:          a,
		source:     a.sensorless.Update,
		sourceErr:  SensorlessEstimatorFailed,
		monitor:    a.encoder.Update,
		noPosition: true,
	}, false)
}

func (a *Axis) runClosedLoopControlLoop(stop func() bool) bool {
	a.stepDir.setEnabled(a.cfg.EnableStepDir)
	defer a.stepDir.setEnabled(false)

	return a.runControlLoop(stop, controlLoop{
		a:         a,
		source:    a.encoder.Update,
		sourceErr: EncoderFailed,
		monitor:   a.sensorless.Update,
	}, false)
}

// runIdleLoop keeps the estimators current. Missed deadlines are fine here:
// nothing is being driven.
func (a *Axis) runIdleLoop(stop func() bool) bool {
	return a.runControlLoop(stop, iterationFunc(func() bool {
		a.sensorless.Update(nil)
		a.encoder.Update(nil)
		return true
	}), true)
}

// doChecks runs before every powered tick.
func (a *Axis) doChecks() bool {
	if !a.motor.DoChecks() {
		return a.fail(MotorFailed)
	}
	if a.bus != nil && a.bus.BusVoltage() < a.cfg.DcBusBrownoutTripLevel {
		return a.fail(DcBusUnderVoltage)
	}
	return true
}
