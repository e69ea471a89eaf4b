package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cswank/motordrive/internal/axis"
	"github.com/cswank/motordrive/internal/control"
	"github.com/cswank/motordrive/internal/repo"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	errNotFound   = errors.New("not found")
	errBadRequest = errors.New("bad request")
)

type (
	// Axis is what the server needs from a running axis.
	Axis interface {
		Name() string
		Status() axis.Status
		RequestState(axis.State) error
		Config() axis.Config
		SetConfig(axis.Config) error
		ClearError()
	}

	// Controller is the axis' position/velocity controller.
	Controller interface {
		Config() control.Config
		SetConfig(control.Config) error
		SetPositionSetpoint(float64)
		SetVelocitySetpoint(float64)
		SetCurrentSetpoint(float64)
		SetCogging(count int, current float64) error
	}

	// Drive is an axis together with its controller.
	Drive struct {
		Axis       Axis
		Controller Controller
	}

	stateRequest struct {
		State string `json:"state"`
	}

	setpoints struct {
		Position *float64 `json:"position"`
		Velocity *float64 `json:"velocity"`
		Current  *float64 `json:"current"`
	}

	cogging struct {
		Count   int     `json:"count"`
		Current float64 `json:"current"`
	}

	statuses struct {
		Axes []axis.Status `json:"axes"`
	}

	Server struct {
		srv   *http.Server
		mux   *http.ServeMux
		axes  map[string]Drive
		order []string
		log   *log.Entry
	}
)

func New(addr string, drives ...Drive) *Server {
	s := Server{
		mux:  http.NewServeMux(),
		axes: make(map[string]Drive, len(drives)),
		log:  log.WithField("component", "server"),
	}

	for _, d := range drives {
		s.axes[d.Axis.Name()] = d
		s.order = append(s.order, d.Axis.Name())
	}

	s.mux.HandleFunc("GET /axes", s.handle(s.getAxes))
	s.mux.HandleFunc("GET /axes/{name}", s.handle(s.getAxis))
	s.mux.HandleFunc("POST /axes/{name}/state", s.handle(s.requestState))
	s.mux.HandleFunc("POST /axes/{name}/clear", s.handle(s.clearError))
	s.mux.HandleFunc("GET /axes/{name}/config", s.handle(s.getConfig))
	s.mux.HandleFunc("PUT /axes/{name}/config", s.handle(s.putConfig))
	s.mux.HandleFunc("GET /axes/{name}/events", s.handle(s.getEvents))
	s.mux.HandleFunc("GET /axes/{name}/controller", s.handle(s.getController))
	s.mux.HandleFunc("PUT /axes/{name}/controller", s.handle(s.putController))
	s.mux.HandleFunc("POST /axes/{name}/setpoint", s.handle(s.setSetpoints))
	s.mux.HandleFunc("POST /axes/{name}/cogging", s.handle(s.setCogging))

	s.srv = &http.Server{Addr: addr, Handler: s.mux}
	return &s
}

func (s *Server) Start() error {
	s.log.Infof("listening on %s", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type handler func(w http.ResponseWriter, r *http.Request) error

func (s *Server) handle(f handler) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			code := status(err)
			s.log.WithError(err).Errorf("%s %s: %d", r.Method, r.URL.Path, code)
			http.Error(w, err.Error(), code)
		}
	}
}

func status(err error) int {
	switch {
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, axis.ErrUnknownState),
		errors.Is(err, axis.ErrChainFull),
		errors.Is(err, axis.ErrInvalidConfig),
		errors.Is(err, control.ErrCoggingRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) lookup(r *http.Request) (Axis, error) {
	d, err := s.drive(r)
	return d.Axis, err
}

func (s *Server) drive(r *http.Request) (Drive, error) {
	d, ok := s.axes[r.PathValue("name")]
	if !ok {
		return d, errors.Wrapf(errNotFound, "axis %q", r.PathValue("name"))
	}
	return d, nil
}

func (s *Server) getAxes(w http.ResponseWriter, r *http.Request) error {
	out := statuses{Axes: make([]axis.Status, 0, len(s.order))}
	for _, n := range s.order {
		out.Axes = append(out.Axes, s.axes[n].Axis.Status())
	}
	return encode(w, out)
}

func (s *Server) getAxis(w http.ResponseWriter, r *http.Request) error {
	a, err := s.lookup(r)
	if err != nil {
		return err
	}
	return encode(w, a.Status())
}

func (s *Server) requestState(w http.ResponseWriter, r *http.Request) error {
	a, err := s.lookup(r)
	if err != nil {
		return err
	}

	var req stateRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	st, err := axis.ParseState(req.State)
	if err != nil {
		return err
	}

	if err := a.RequestState(st); err != nil {
		return err
	}

	s.log.WithField("axis", a.Name()).Infof("requested %s", st)
	return encode(w, a.Status())
}

func (s *Server) clearError(w http.ResponseWriter, r *http.Request) error {
	a, err := s.lookup(r)
	if err != nil {
		return err
	}

	a.ClearError()
	return encode(w, a.Status())
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) error {
	a, err := s.lookup(r)
	if err != nil {
		return err
	}
	return encode(w, a.Config())
}

// putConfig decodes over the current config, so omitted fields keep their
// values. A config is only applied once it is saved.
func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) error {
	a, err := s.lookup(r)
	if err != nil {
		return err
	}

	cfg := a.Config()
	if err := decode(r, &cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := repo.SaveConfig(a.Name(), cfg); err != nil {
		return errors.Wrap(err, "unable to save config")
	}

	if err := a.SetConfig(cfg); err != nil {
		return err
	}

	return encode(w, cfg)
}

func (s *Server) getController(w http.ResponseWriter, r *http.Request) error {
	d, err := s.drive(r)
	if err != nil {
		return err
	}
	return encode(w, d.Controller.Config())
}

// putController works like putConfig for the controller's mode, gains and
// limits.
func (s *Server) putController(w http.ResponseWriter, r *http.Request) error {
	d, err := s.drive(r)
	if err != nil {
		return err
	}

	cfg := d.Controller.Config()
	if err := decode(r, &cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := repo.SaveControlConfig(d.Axis.Name(), cfg); err != nil {
		return errors.Wrap(err, "unable to save controller config")
	}

	if err := d.Controller.SetConfig(cfg); err != nil {
		return err
	}

	return encode(w, cfg)
}

func (s *Server) setSetpoints(w http.ResponseWriter, r *http.Request) error {
	d, err := s.drive(r)
	if err != nil {
		return err
	}

	var sp setpoints
	if err := decode(r, &sp); err != nil {
		return err
	}

	if sp.Position == nil && sp.Velocity == nil && sp.Current == nil {
		return errors.Wrap(errBadRequest, "no setpoint given")
	}

	if sp.Position != nil {
		d.Controller.SetPositionSetpoint(*sp.Position)
	}
	if sp.Velocity != nil {
		d.Controller.SetVelocitySetpoint(*sp.Velocity)
	}
	if sp.Current != nil {
		d.Controller.SetCurrentSetpoint(*sp.Current)
	}

	return encode(w, d.Axis.Status())
}

func (s *Server) setCogging(w http.ResponseWriter, r *http.Request) error {
	d, err := s.drive(r)
	if err != nil {
		return err
	}

	var c cogging
	if err := decode(r, &c); err != nil {
		return err
	}

	if err := d.Controller.SetCogging(c.Count, c.Current); err != nil {
		return err
	}

	return encode(w, c)
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) error {
	a, err := s.lookup(r)
	if err != nil {
		return err
	}

	var opts []repo.QueryOption
	if r.URL.Query().Get("errors") == "true" {
		opts = append(opts, repo.Errors)
	}

	var pg repo.QueryOption
	if p := r.URL.Query().Get("page"); p != "" {
		pageSize := 20
		if ps := r.URL.Query().Get("pagesize"); ps != "" {
			i, err := strconv.Atoi(ps)
			if err != nil || i < 0 {
				return errors.Wrapf(errBadRequest, "invalid pagesize %q", ps)
			}
			pageSize = i
		}

		i, err := strconv.Atoi(p)
		if err != nil || i < 0 {
			return errors.Wrapf(errBadRequest, "invalid page %q", p)
		}

		pg = repo.Page(i, pageSize)
	}

	evts, err := repo.GetEvents(a.Name(), pg, opts...)
	if err != nil {
		return err
	}

	return encode(w, evts)
}

// decode reads the JSON body over v.
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrapf(errBadRequest, "invalid body: %s", err)
	}
	return nil
}

func encode(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("content-type", "application/json")
	return json.NewEncoder(w).Encode(v)
}
