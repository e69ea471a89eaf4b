package axis

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		edit func(*Config)
		ok   bool
	}{
		{edit: func(c *Config) {}, ok: true},
		{edit: func(c *Config) { c.RampUpTime = 0 }},
		{edit: func(c *Config) { c.SpinUpCurrent = -1 }},
		{edit: func(c *Config) { c.SpinUpAcceleration = -1 }},
		{edit: func(c *Config) {
			// target at the starting velocity
			c.SpinUpAcceleration = -1
			c.SpinUpTargetVel = c.RampUpDistance / c.RampUpTime
		}},
		{edit: func(c *Config) {
			c.SpinUpAcceleration = -1
			c.SpinUpTargetVel = 0
		}},
		{edit: func(c *Config) {
			c.SpinUpAcceleration = 0
			c.SpinUpTargetVel = 0
		}, ok: true},
		{edit: func(c *Config) { c.SpinUpAcceleration = 0 }},
		{edit: func(c *Config) {
			c.EnableStepDir = true
			c.CountsPerStep = 0
		}},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("%02d", i), func(t *testing.T) {
			cfg := DefaultConfig()
			tc.edit(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}
