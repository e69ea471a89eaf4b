package axis

import "github.com/pkg/errors"

// ErrorKind is the single active failure of an axis. NoError means the axis
// is healthy.
type ErrorKind int32

const (
	NoError ErrorKind = iota
	CurrentMeasurementTimeout
	MotorFailed
	DcBusUnderVoltage
	PositionControlDuringSensorless
	SensorlessEstimatorFailed
	ControllerFailed
	EncoderFailed
	InvalidState
)

var (
	ErrChainFull     = errors.New("task chain capacity exceeded")
	ErrUnknownState  = errors.New("unknown axis state")
	ErrStarted       = errors.New("axis worker already started")
	ErrInvalidConfig = errors.New("invalid axis config")
)

var errorNames = map[ErrorKind]string{
	NoError:                         "no_error",
	CurrentMeasurementTimeout:       "current_measurement_timeout",
	MotorFailed:                     "motor_failed",
	DcBusUnderVoltage:               "dc_bus_under_voltage",
	PositionControlDuringSensorless: "position_control_during_sensorless",
	SensorlessEstimatorFailed:       "sensorless_estimator_failed",
	ControllerFailed:                "controller_failed",
	EncoderFailed:                   "encoder_failed",
	InvalidState:                    "invalid_state",
}

func (e ErrorKind) String() string {
	if s, ok := errorNames[e]; ok {
		return s
	}
	return "unknown"
}

// Error lets an ErrorKind travel as an error value.
func (e ErrorKind) Error() string {
	return "axis: " + e.String()
}

func (e ErrorKind) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *ErrorKind) UnmarshalText(b []byte) error {
	for k, s := range errorNames {
		if s == string(b) {
			*e = k
			return nil
		}
	}
	return errors.Errorf("unknown axis error %q", b)
}
