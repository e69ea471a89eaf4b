package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cswank/motordrive/internal/axis"
	"github.com/cswank/motordrive/internal/control"
	"github.com/cswank/motordrive/internal/repo"
	"github.com/cswank/motordrive/internal/server"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAxis struct {
	name      string
	ctrl      *control.Controller
	state     axis.State
	requested axis.State
	err       axis.ErrorKind
	cfg       axis.Config
	reqErr    error
}

func (f *fakeAxis) Name() string { return f.name }

func (f *fakeAxis) Status() axis.Status {
	return axis.Status{Name: f.name, State: f.state, Requested: f.requested, Error: f.err}
}

func (f *fakeAxis) RequestState(s axis.State) error {
	if f.reqErr != nil {
		return f.reqErr
	}
	f.requested = s
	return nil
}

func (f *fakeAxis) Config() axis.Config { return f.cfg }

func (f *fakeAxis) SetConfig(cfg axis.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.cfg = cfg
	return nil
}

func (f *fakeAxis) ClearError() { f.err = axis.NoError }

func setup(t *testing.T) (*server.Server, *fakeAxis, *fakeAxis) {
	t.Helper()
	require.NoError(t, repo.Init(":memory:"))
	t.Cleanup(func() { repo.Close() })

	a0 := &fakeAxis{name: "axis0", state: axis.Idle, cfg: axis.DefaultConfig(), ctrl: newController(t)}
	a1 := &fakeAxis{name: "axis1", state: axis.ClosedLoopControl, cfg: axis.DefaultConfig(), ctrl: newController(t)}
	return server.New(":0",
		server.Drive{Axis: a0, Controller: a0.ctrl},
		server.Drive{Axis: a1, Controller: a1.ctrl},
	), a0, a1
}

func newController(t *testing.T) *control.Controller {
	t.Helper()
	c, err := control.New(control.DefaultConfig(), 0.001)
	require.NoError(t, err)
	return c
}

func do(s http.Handler, method, pth, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, pth, nil)
	} else {
		req = httptest.NewRequest(method, pth, strings.NewReader(body))
	}

	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestGetAxes(t *testing.T) {
	s, _, _ := setup(t)

	w := do(s, "GET", "/axes", "")
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Axes []axis.Status `json:"axes"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	require.Len(t, out.Axes, 2)
	assert.Equal(t, "axis0", out.Axes[0].Name)
	assert.Equal(t, axis.ClosedLoopControl, out.Axes[1].State)

	w = do(s, "GET", "/axes/axis1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"closed_loop_control"`)

	w = do(s, "GET", "/axes/axis9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestState(t *testing.T) {
	s, a0, a1 := setup(t)

	testCases := []struct {
		name   string
		pth    string
		body   string
		reqErr error
		code   int
		want   axis.State
	}{
		{name: "ok", pth: "/axes/axis0/state", body: `{"state":"closed_loop_control"}`, code: http.StatusOK, want: axis.ClosedLoopControl},
		{name: "unknown state", pth: "/axes/axis0/state", body: `{"state":"warp"}`, code: http.StatusBadRequest},
		{name: "bad body", pth: "/axes/axis0/state", body: `{`, code: http.StatusBadRequest},
		{name: "chain full", pth: "/axes/axis0/state", body: `{"state":"idle"}`, reqErr: errors.Wrap(axis.ErrChainFull, "request idle"), code: http.StatusBadRequest},
		{name: "other failure", pth: "/axes/axis0/state", body: `{"state":"idle"}`, reqErr: errors.New("boom"), code: http.StatusInternalServerError},
		{name: "no axis", pth: "/axes/axis7/state", body: `{"state":"idle"}`, code: http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a0.requested = axis.Undefined
			a0.reqErr = tc.reqErr

			w := do(s, "POST", tc.pth, tc.body)
			assert.Equal(t, tc.code, w.Code)
			assert.Equal(t, tc.want, a0.requested)
		})
	}

	assert.Equal(t, axis.Undefined, a1.requested)
}

func TestClearError(t *testing.T) {
	s, a0, _ := setup(t)
	a0.err = axis.MotorFailed

	w := do(s, "POST", "/axes/axis0/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, axis.NoError, a0.err)
	assert.Contains(t, w.Body.String(), `"error":"no_error"`)
}

func TestConfig(t *testing.T) {
	s, a0, _ := setup(t)

	w := do(s, "PUT", "/axes/axis0/config", `{"counts_per_step": 8, "enable_step_dir": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 8.0, a0.cfg.CountsPerStep)
	assert.True(t, a0.cfg.EnableStepDir)
	assert.Equal(t, axis.DefaultConfig().RampUpTime, a0.cfg.RampUpTime)

	saved, err := repo.GetConfig("axis0", axis.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, a0.cfg, saved)

	w = do(s, "PUT", "/axes/axis0/config", `{"ramp_up_time": 0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 8.0, a0.cfg.CountsPerStep)

	w = do(s, "GET", "/axes/axis0/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got axis.Config
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, a0.cfg, got)
}

func TestConfigNotAppliedWhenSaveFails(t *testing.T) {
	s, a0, _ := setup(t)
	require.NoError(t, repo.Close())

	w := do(s, "PUT", "/axes/axis0/config", `{"counts_per_step": 8}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, axis.DefaultConfig(), a0.cfg)

	w = do(s, "PUT", "/axes/axis0/controller", `{"control_mode": "velocity"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, axis.PositionControl, a0.ctrl.ControlMode())
}

func TestController(t *testing.T) {
	s, a0, a1 := setup(t)

	w := do(s, "GET", "/axes/axis0/controller", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"control_mode":"position"`)

	w = do(s, "PUT", "/axes/axis0/controller", `{"control_mode": "velocity", "vel_gain": 0.02}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, axis.VelocityControl, a0.ctrl.ControlMode())
	assert.Equal(t, 0.02, a0.ctrl.Config().VelGain)
	assert.Equal(t, control.DefaultConfig().CurrentLimit, a0.ctrl.Config().CurrentLimit)
	assert.Equal(t, axis.PositionControl, a1.ctrl.ControlMode())

	saved, err := repo.GetControlConfig("axis0", control.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, a0.ctrl.Config(), saved)

	testCases := []struct {
		body string
		code int
	}{
		{body: `{"control_mode": "torque"}`, code: http.StatusBadRequest},
		{body: `{"current_limit": 0}`, code: http.StatusBadRequest},
		{body: `{`, code: http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.body, func(t *testing.T) {
			w := do(s, "PUT", "/axes/axis0/controller", tc.body)
			assert.Equal(t, tc.code, w.Code)
			assert.Equal(t, saved, a0.ctrl.Config())
		})
	}
}

func TestSetpoints(t *testing.T) {
	s, a0, _ := setup(t)

	w := do(s, "POST", "/axes/axis0/setpoint", `{"position": 3}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3.0, a0.ctrl.PositionSetpoint())

	// current mode passes the current setpoint straight through
	a0.ctrl.SetControlMode(axis.CurrentControl)
	w = do(s, "POST", "/axes/axis0/setpoint", `{"current": 1.5}`)
	require.Equal(t, http.StatusOK, w.Code)
	current, ok := a0.ctrl.Update(0, 0)
	require.True(t, ok)
	assert.Equal(t, 1.5, current)

	w = do(s, "POST", "/axes/axis0/setpoint", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 3.0, a0.ctrl.PositionSetpoint())
}

func TestCogging(t *testing.T) {
	s, a0, _ := setup(t)
	a0.ctrl.ResizeCogging(8)

	w := do(s, "POST", "/axes/axis0/cogging", `{"count": 3, "current": 0.25}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(s, "POST", "/axes/axis0/cogging", `{"count": 8, "current": 0.25}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvents(t *testing.T) {
	s, _, _ := setup(t)

	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, e := range []axis.Event{
		{Axis: "axis0", At: t0, Kind: axis.EventDispatch, State: axis.MotorCalibration},
		{Axis: "axis0", At: t0.Add(time.Millisecond), Kind: axis.EventError, State: axis.MotorCalibration, Error: axis.MotorFailed},
		{Axis: "axis0", At: t0.Add(2 * time.Millisecond), Kind: axis.EventDispatch, State: axis.Idle, Error: axis.MotorFailed},
	} {
		require.NoError(t, repo.AddEvent(e), i)
	}

	testCases := []struct {
		pth   string
		code  int
		total int
		n     int
	}{
		{pth: "/axes/axis0/events", code: http.StatusOK, total: 3, n: 3},
		{pth: "/axes/axis0/events?errors=true", code: http.StatusOK, total: 1, n: 1},
		{pth: "/axes/axis0/events?page=0&pagesize=2", code: http.StatusOK, total: 3, n: 2},
		{pth: "/axes/axis1/events", code: http.StatusOK, total: 0, n: 0},
		{pth: "/axes/axis0/events?page=x", code: http.StatusBadRequest},
		{pth: "/axes/axis0/events?page=-1", code: http.StatusBadRequest},
		{pth: "/axes/axis0/events?page=0&pagesize=-2", code: http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.pth, func(t *testing.T) {
			w := do(s, "GET", tc.pth, "")
			require.Equal(t, tc.code, w.Code)
			if tc.code != http.StatusOK {
				return
			}

			var evts repo.Events
			require.NoError(t, json.NewDecoder(w.Body).Decode(&evts))
			assert.Equal(t, tc.total, evts.Total)
			assert.Len(t, evts.Events, tc.n)
		})
	}
}
