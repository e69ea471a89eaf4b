package axis

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type (
	// Estimate is a position, velocity and electrical phase read from an
	// encoder or a sensorless estimator.
	Estimate struct {
		Pos   float64
		Vel   float64
		Phase float64
	}

	// ControlMode selects which setpoint the controller tracks.
	ControlMode int

	Motor interface {
		Setup() error
		DoChecks() bool
		IsCalibrated() bool
		RunCalibration() bool
		Arm() bool
		// Disarm stops driving the motor. The next Arm enables it again.
		Disarm() error
		// Update drives the current vector of the given magnitude at phase.
		Update(current, phase float64) bool
	}

	// Encoder and SensorlessEstimator fill est on success. A nil est asks for
	// a monitoring-only update.
	Encoder interface {
		Setup() error
		IsCalibrated() bool
		RunCalibration() bool
		Update(est *Estimate) bool
	}

	SensorlessEstimator interface {
		Update(est *Estimate) bool
	}

	Controller interface {
		ControlMode() ControlMode
		// AddPositionSetpoint must be safe to call from the step interrupt
		// while the worker runs Update.
		AddPositionSetpoint(delta float64)
		PositionSetpoint() float64
		Update(pos, vel float64) (current float64, ok bool)
	}

	// BusMonitor reports the DC bus voltage.
	BusMonitor interface {
		BusVoltage() float64
	}

	// Owner is what an axis hands back to its collaborators. It replaces a
	// pointer to the owning axis.
	Owner interface {
		Name() string
		State() State
		Error() ErrorKind
		Logger() *log.Entry
	}

	// Binder is implemented by collaborators that want to know their owner.
	Binder interface {
		Bind(Owner)
	}
)

const (
	CurrentControl ControlMode = iota
	VelocityControl
	PositionControl
)

var controlModeNames = map[ControlMode]string{
	CurrentControl:  "current",
	VelocityControl: "velocity",
	PositionControl: "position",
}

func (m ControlMode) String() string {
	if s, ok := controlModeNames[m]; ok {
		return s
	}
	return "unknown"
}

func (m ControlMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ControlMode) UnmarshalText(b []byte) error {
	for k, s := range controlModeNames {
		if s == string(b) {
			*m = k
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidConfig, "unknown control mode %q", b)
}
