package axis

import (
	"time"

	"github.com/pkg/errors"
)

type (
	// Config holds the operator settings of an axis. The worker picks up a new
	// Config only between states.
	Config struct {
		StartupMotorCalibration   bool `json:"startup_motor_calibration"`
		StartupEncoderCalibration bool `json:"startup_encoder_calibration"`
		StartupClosedLoopControl  bool `json:"startup_closed_loop_control"`
		StartupSensorlessControl  bool `json:"startup_sensorless_control"`

		EnableStepDir bool    `json:"enable_step_dir"`
		CountsPerStep float64 `json:"counts_per_step"`

		// spin-up, in electrical radians and amps
		RampUpDistance     float64 `json:"ramp_up_distance"`
		RampUpTime         float64 `json:"ramp_up_time"`
		SpinUpCurrent      float64 `json:"spin_up_current"`
		SpinUpAcceleration float64 `json:"spin_up_acceleration"`
		SpinUpTargetVel    float64 `json:"spin_up_target_vel"`

		DcBusBrownoutTripLevel float64 `json:"dc_bus_brownout_trip_level"`
	}

	// HardwareConfig is fixed for the lifetime of an axis.
	HardwareConfig struct {
		Name           string
		ThreadPriority int
		StepPin        int
		DirPin         int

		// MeasurementPeriod is the time between two current samples.
		MeasurementPeriod time.Duration
		// MeasurementTimeout bounds the wait for the next sample.
		MeasurementTimeout time.Duration
	}
)

// DefaultConfig returns the settings a fresh axis starts with.
func DefaultConfig() Config {
	return Config{
		CountsPerStep:          2,
		RampUpDistance:         4 * 3.14159265,
		RampUpTime:             0.4,
		SpinUpCurrent:          10,
		SpinUpAcceleration:     400,
		SpinUpTargetVel:        400,
		DcBusBrownoutTripLevel: 8,
	}
}

// DefaultHardwareConfig is an 8kHz current loop with a 2ms deadline.
func DefaultHardwareConfig(name string) HardwareConfig {
	return HardwareConfig{
		Name:               name,
		ThreadPriority:     50,
		StepPin:            -1,
		DirPin:             -1,
		MeasurementPeriod:  125 * time.Microsecond,
		MeasurementTimeout: 2 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.RampUpTime <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "ramp_up_time must be positive, got %f", c.RampUpTime)
	}
	if c.SpinUpCurrent < 0 {
		return errors.Wrapf(ErrInvalidConfig, "spin_up_current must not be negative, got %f", c.SpinUpCurrent)
	}
	if c.SpinUpAcceleration < 0 {
		return errors.Wrapf(ErrInvalidConfig, "spin_up_acceleration must not be negative, got %f", c.SpinUpAcceleration)
	}
	if c.SpinUpAcceleration == 0 && c.SpinUpTargetVel > c.RampUpDistance/c.RampUpTime {
		return errors.Wrap(ErrInvalidConfig, "spin_up_acceleration must be positive to reach spin_up_target_vel")
	}
	if c.EnableStepDir && c.CountsPerStep == 0 {
		return errors.Wrap(ErrInvalidConfig, "counts_per_step must be set when step/dir is enabled")
	}
	return nil
}

func (h HardwareConfig) validate() error {
	if h.MeasurementPeriod <= 0 {
		return errors.New("measurement period must be positive")
	}
	if h.MeasurementTimeout < h.MeasurementPeriod {
		return errors.Errorf("measurement timeout %s is shorter than the period %s", h.MeasurementTimeout, h.MeasurementPeriod)
	}
	return nil
}
