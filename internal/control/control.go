// Package control is the position/velocity controller that sits between an
// axis' estimate and its motor current.
package control

import (
	"math"
	"sync"

	"github.com/cswank/motordrive/internal/axis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

type (
	Config struct {
		Mode              axis.ControlMode `json:"control_mode"`
		PosGain           float64          `json:"pos_gain"`
		VelGain           float64          `json:"vel_gain"`
		VelIntegratorGain float64          `json:"vel_integrator_gain"`
		VelLimit          float64          `json:"vel_limit"`
		VelLimitTolerance float64          `json:"vel_limit_tolerance"`
		CurrentLimit      float64          `json:"current_limit"`
	}

	// Controller is a cascaded position P / velocity PI loop. The setpoints
	// can be written from any goroutine; Update belongs to the axis worker.
	Controller struct {
		cfgLock sync.Mutex
		cfg     Config
		mode    atomic.Int32
		log     *log.Entry

		posSetpoint     atomic.Float64
		velSetpoint     atomic.Float64
		currentSetpoint atomic.Float64

		velIntegrator float64
		periodSec     float64

		coggingLock sync.Mutex
		cogging     Cogging
	}
)

func DefaultConfig() Config {
	return Config{
		Mode:              axis.PositionControl,
		PosGain:           20,
		VelGain:           5.0 / 10000,
		VelIntegratorGain: 10.0 / 10000,
		VelLimit:          20000,
		VelLimitTolerance: 1.2,
		CurrentLimit:      10,
	}
}

func (c Config) Validate() error {
	if c.Mode < axis.CurrentControl || c.Mode > axis.PositionControl {
		return errors.Wrapf(axis.ErrInvalidConfig, "unknown control mode %d", c.Mode)
	}
	if c.VelLimit <= 0 {
		return errors.Wrap(axis.ErrInvalidConfig, "vel_limit must be positive")
	}
	if c.VelLimitTolerance < 1 {
		return errors.Wrap(axis.ErrInvalidConfig, "vel_limit_tolerance must be at least 1")
	}
	if c.CurrentLimit <= 0 {
		return errors.Wrap(axis.ErrInvalidConfig, "current_limit must be positive")
	}
	return nil
}

// New returns a controller that integrates over period seconds per update.
func New(cfg Config, period float64) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if period <= 0 {
		return nil, errors.New("controller period must be positive")
	}

	c := &Controller{cfg: cfg, periodSec: period, log: log.WithField("component", "controller")}
	c.mode.Store(int32(cfg.Mode))
	return c, nil
}

// Bind takes the axis logger.
func (c *Controller) Bind(o axis.Owner) {
	c.log = o.Logger().WithField("component", "controller")
}

// Config returns the gains and limits in use along with the current mode.
func (c *Controller) Config() Config {
	c.cfgLock.Lock()
	cfg := c.cfg
	c.cfgLock.Unlock()
	cfg.Mode = c.ControlMode()
	return cfg
}

// SetConfig replaces the gains, limits and mode. The next Update uses them.
func (c *Controller) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.cfgLock.Lock()
	c.cfg = cfg
	c.cfgLock.Unlock()
	c.SetControlMode(cfg.Mode)
	c.log.Infof("control mode %s", cfg.Mode)
	return nil
}

func (c *Controller) ControlMode() axis.ControlMode {
	return axis.ControlMode(c.mode.Load())
}

func (c *Controller) SetControlMode(m axis.ControlMode) {
	c.mode.Store(int32(m))
}

func (c *Controller) AddPositionSetpoint(delta float64) { c.posSetpoint.Add(delta) }
func (c *Controller) SetPositionSetpoint(p float64)     { c.posSetpoint.Store(p) }
func (c *Controller) PositionSetpoint() float64         { return c.posSetpoint.Load() }
func (c *Controller) SetVelocitySetpoint(v float64)     { c.velSetpoint.Store(v) }
func (c *Controller) SetCurrentSetpoint(i float64)      { c.currentSetpoint.Store(i) }

// Update returns the motor current for the given estimate. It fails when the
// measured velocity is beyond the tolerated limit.
func (c *Controller) Update(pos, vel float64) (float64, bool) {
	c.cfgLock.Lock()
	cfg := c.cfg
	c.cfgLock.Unlock()

	if math.Abs(vel) > cfg.VelLimit*cfg.VelLimitTolerance {
		c.log.Errorf("overspeed: %f", vel)
		return 0, false
	}

	mode := c.ControlMode()
	if mode == axis.CurrentControl {
		c.velIntegrator = 0
		return clamp(c.currentSetpoint.Load(), cfg.CurrentLimit), true
	}

	velSetpoint := c.velSetpoint.Load()
	if mode == axis.PositionControl {
		velSetpoint += cfg.PosGain * (c.posSetpoint.Load() - pos)
	}
	velSetpoint = clamp(velSetpoint, cfg.VelLimit)

	velErr := velSetpoint - vel
	current := c.currentSetpoint.Load() + cfg.VelGain*velErr + c.velIntegrator
	if mode == axis.PositionControl {
		current += c.coggingAt(pos)
	}

	limited := clamp(current, cfg.CurrentLimit)
	if limited != current {
		// no windup while saturated
		c.velIntegrator *= 0.99
	} else {
		c.velIntegrator += cfg.VelIntegratorGain * c.periodSec * velErr
	}

	return limited, true
}

// ResizeCogging sizes the anti-cogging map for an encoder with cpr counts
// per revolution.
func (c *Controller) ResizeCogging(cpr int) {
	c.coggingLock.Lock()
	c.cogging.Resize(cpr)
	c.coggingLock.Unlock()
}

func (c *Controller) SetCogging(count int, current float64) error {
	c.coggingLock.Lock()
	defer c.coggingLock.Unlock()
	return c.cogging.Set(count, current)
}

func (c *Controller) coggingAt(pos float64) float64 {
	c.coggingLock.Lock()
	defer c.coggingLock.Unlock()
	return c.cogging.At(pos)
}

func clamp(x, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, x))
}
