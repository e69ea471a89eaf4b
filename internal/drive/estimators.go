package drive

import (
	"time"

	"github.com/cswank/motordrive/internal/axis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Encoder reports the estimate the power stage derives from the encoder.
type Encoder struct {
	stage            *Stage
	cpr              int
	log              *log.Entry
	calibrateTimeout time.Duration
}

// Sensorless reports the stage's back-EMF observer estimate.
type Sensorless struct {
	stage *Stage
}

func NewEncoder(s *Stage, cpr int, calibrateTimeout time.Duration) *Encoder {
	return &Encoder{
		stage:            s,
		cpr:              cpr,
		log:              log.WithField("component", "encoder"),
		calibrateTimeout: calibrateTimeout,
	}
}

func (e *Encoder) Bind(o axis.Owner) {
	e.log = o.Logger().WithField("component", "encoder")
}

func (e *Encoder) Setup() error {
	if e.cpr <= 0 {
		return errors.Errorf("encoder cpr must be positive, got %d", e.cpr)
	}
	return nil
}

func (e *Encoder) CPR() int {
	return e.cpr
}

func (e *Encoder) IsCalibrated() bool {
	return e.stage.flag(flagEncoderCalibrated)
}

func (e *Encoder) RunCalibration() bool {
	e.log.Info("calibrating encoder")
	if err := e.stage.request(kindCalibrateEncoder, e.calibrateTimeout); err != nil {
		e.log.Errorf("encoder calibration: %s", err)
		return false
	}
	return true
}

func (e *Encoder) Update(est *axis.Estimate) bool {
	if !e.stage.flag(flagEncoderOK) {
		return false
	}
	if est != nil {
		*est = e.stage.estimate(false)
	}
	return true
}

func NewSensorless(s *Stage) *Sensorless {
	return &Sensorless{stage: s}
}

func (s *Sensorless) Update(est *axis.Estimate) bool {
	if !s.stage.flag(flagSensorlessOK) {
		return false
	}
	if est != nil {
		*est = s.stage.estimate(true)
	}
	return true
}
