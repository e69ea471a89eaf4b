package axis

import "github.com/pkg/errors"

// State is what the axis is doing. StartupSequence and FullCalibrationSequence
// are requests only: the planner expands them and they are never dispatched.
type State int32

const (
	Undefined State = iota
	Idle
	StartupSequence
	FullCalibrationSequence
	MotorCalibration
	EncoderCalibration
	SensorlessControl
	ClosedLoopControl
)

var stateNames = map[State]string{
	Undefined:               "undefined",
	Idle:                    "idle",
	StartupSequence:         "startup_sequence",
	FullCalibrationSequence: "full_calibration_sequence",
	MotorCalibration:        "motor_calibration",
	EncoderCalibration:      "encoder_calibration",
	SensorlessControl:       "sensorless_control",
	ClosedLoopControl:       "closed_loop_control",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseState maps a state name back to its State.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return Undefined, errors.Wrapf(ErrUnknownState, "%q", name)
}

func (s State) known() bool {
	_, ok := stateNames[s]
	return ok
}

// requiresMotorCalibration reports whether s may only run on a calibrated
// motor.
func requiresMotorCalibration(s State) bool {
	switch s {
	case EncoderCalibration, SensorlessControl, ClosedLoopControl:
		return true
	}
	return false
}

// requiresEncoderCalibration reports whether s reads the encoder's phase.
func requiresEncoderCalibration(s State) bool {
	return s == ClosedLoopControl
}
