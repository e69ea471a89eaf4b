package drive

import (
	"time"

	"github.com/cswank/motordrive/internal/axis"
	log "github.com/sirupsen/logrus"
)

// Motor drives the current vector of one axis through its power stage.
type Motor struct {
	stage            *Stage
	log              *log.Entry
	armTimeout       time.Duration
	calibrateTimeout time.Duration
}

func NewMotor(s *Stage, calibrateTimeout time.Duration) *Motor {
	return &Motor{
		stage:            s,
		log:              log.WithField("component", "motor"),
		armTimeout:       100 * time.Millisecond,
		calibrateTimeout: calibrateTimeout,
	}
}

func (m *Motor) Bind(o axis.Owner) {
	m.log = o.Logger().WithField("component", "motor")
}

// Setup leaves the stage disarmed.
func (m *Motor) Setup() error {
	return m.Disarm()
}

func (m *Motor) Disarm() error {
	return m.stage.command(kindDisarm, 0, 0)
}

func (m *Motor) DoChecks() bool {
	return !m.stage.flag(flagFault)
}

func (m *Motor) IsCalibrated() bool {
	return m.stage.flag(flagMotorCalibrated)
}

func (m *Motor) RunCalibration() bool {
	m.log.Info("calibrating motor")
	if err := m.stage.request(kindCalibrateMotor, m.calibrateTimeout); err != nil {
		m.log.Errorf("motor calibration: %s", err)
		return false
	}
	return true
}

func (m *Motor) Arm() bool {
	if err := m.stage.request(kindArm, m.armTimeout); err != nil {
		m.log.Errorf("unable to arm: %s", err)
		return false
	}
	return true
}

func (m *Motor) Update(current, phase float64) bool {
	if m.stage.flag(flagFault) {
		return false
	}

	if err := m.stage.command(kindDrive, float32(current), float32(phase)); err != nil {
		m.log.Errorf("unable to drive: %s", err)
		return false
	}
	return true
}
