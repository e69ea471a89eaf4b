package axis

import "math"

// wrapPmPi maps x into (-pi, pi].
func wrapPmPi(x float64) float64 {
	r := math.Mod(x+math.Pi, 2*math.Pi)
	if r <= 0 {
		r += 2 * math.Pi
	}
	r -= math.Pi
	if r <= -math.Pi {
		return math.Pi
	}
	return r
}

// openLoopRamp spirals the current up while the phase sweeps out
// RampUpDistance. x is the progress in [0, 1), taken from the tick count so
// the ramp ends after exactly ticks updates.
type openLoopRamp struct {
	a      *Axis
	period float64
	n      int
	ticks  int
	x      float64
}

func newOpenLoopRamp(a *Axis, period float64) *openLoopRamp {
	return &openLoopRamp{
		a:      a,
		period: period,
		ticks:  rampTicks(a.cfg.RampUpTime, period),
	}
}

// rampTicks is ceil(rampUpTime/period), less the rounding that would push an
// exact multiple up by one.
func rampTicks(rampUpTime, period float64) int {
	n := int(math.Ceil(rampUpTime/period - 1e-9))
	if n < 1 {
		return 1
	}
	return n
}

func (r *openLoopRamp) tick() bool {
	cfg := r.a.cfg
	r.x = float64(r.n) * r.period / cfg.RampUpTime
	phase := wrapPmPi(cfg.RampUpDistance * r.x)
	current := cfg.SpinUpCurrent * r.x
	r.n++
	if !r.a.motor.Update(current, phase) {
		return r.a.fail(MotorFailed)
	}
	return r.n < r.ticks
}

// accelRamp keeps the spin-up current and accelerates the phase until the
// target velocity is reached.
type accelRamp struct {
	a      *Axis
	period float64
	vel    float64
	phase  float64
}

func newAccelRamp(a *Axis, period float64) *accelRamp {
	return &accelRamp{
		a:      a,
		period: period,
		vel:    a.cfg.RampUpDistance / a.cfg.RampUpTime,
		phase:  wrapPmPi(a.cfg.RampUpDistance),
	}
}

func (r *accelRamp) tick() bool {
	cfg := r.a.cfg
	r.vel += cfg.SpinUpAcceleration * r.period
	r.phase = wrapPmPi(r.phase + r.vel*r.period)
	if !r.a.motor.Update(cfg.SpinUpCurrent, r.phase) {
		return r.a.fail(MotorFailed)
	}
	return r.vel < cfg.SpinUpTargetVel
}

func (a *Axis) runSensorlessSpinUp(stop func() bool) bool {
	period := a.hw.MeasurementPeriod.Seconds()
	if !a.runControlLoop(stop, newOpenLoopRamp(a, period), false) {
		return false
	}
	return a.runControlLoop(stop, newAccelRamp(a, period), false)
}
