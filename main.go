package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cswank/motordrive/internal/axis"
	"github.com/cswank/motordrive/internal/control"
	"github.com/cswank/motordrive/internal/drive"
	"github.com/cswank/motordrive/internal/gpio"
	"github.com/cswank/motordrive/internal/repo"
	"github.com/cswank/motordrive/internal/server"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	dev       = kingpin.Flag("serial", "power stage serial device").Default("/dev/ttyACM0").String()
	baud      = kingpin.Flag("baud", "serial baud rate").Default("921600").Int()
	chip      = kingpin.Flag("gpio-chip", "gpio chip for step/dir").Default("gpiochip0").String()
	stepPins  = kingpin.Flag("step-pin", "step pin offset, one per axis").Ints()
	dirPins   = kingpin.Flag("dir-pin", "dir pin offset, one per axis").Ints()
	dbPath    = kingpin.Flag("db", "sqlite database for configs and events").Default("motordrive.db").String()
	addr      = kingpin.Flag("addr", "http listen address").Default(":3434").String()
	level     = kingpin.Flag("log-level", "log level").Default("info").Enum("debug", "info", "warn", "error")
	naxes     = kingpin.Flag("axes", "number of axes").Default("2").Int()
	period    = kingpin.Flag("period", "current measurement period").Default("125us").Duration()
	timeout   = kingpin.Flag("timeout", "current measurement timeout").Default("2ms").Duration()
	priority  = kingpin.Flag("priority", "SCHED_FIFO priority of the axis workers, 0 to disable").Default("50").Int()
	cpr       = kingpin.Flag("cpr", "encoder counts per revolution").Default("8192").Int()
	calibrate = kingpin.Flag("calibration-timeout", "motor and encoder calibration timeout").Default("30s").Duration()
	buffer    = kingpin.Flag("event-buffer", "events buffered before they are dropped").Default("1024").Int()
)

func main() {
	kingpin.Parse()

	lvl, err := log.ParseLevel(*level)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := repo.Init(*dbPath); err != nil {
		return err
	}
	defer repo.Close()

	link, err := drive.Open(*dev, *baud)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := link.Run(); err != nil {
			log.WithError(err).Error("power stage link stopped")
			cancel()
		}
	}()

	// the recorder outlives the axes so their last events are kept
	rctx, rcancel := context.WithCancel(context.Background())
	rec := repo.NewRecorder(*buffer)
	recorded := make(chan struct{})
	go func() {
		rec.Run(rctx)
		close(recorded)
	}()
	stopRecorder := func() {
		rcancel()
		<-recorded
	}
	defer stopRecorder()

	var (
		axes    []*axis.Axis
		drives  []server.Drive
		closers []func() error
	)

	for i := 0; i < *naxes; i++ {
		a, ctrl, closer, err := newAxis(i, link, rec)
		if err != nil {
			cancel()
			return multierr.Combine(err, closeAll(closers), link.Close())
		}

		closers = append(closers, closer)
		axes = append(axes, a)
		drives = append(drives, server.Drive{Axis: a, Controller: ctrl})
	}

	for _, a := range axes {
		if err := a.Setup(); err != nil {
			cancel()
			return multierr.Combine(errors.Wrapf(err, "axis %s", a.Name()), closeAll(closers), link.Close())
		}
	}

	if err := startAll(ctx, cancel, axes); err != nil {
		return multierr.Combine(err, closeAll(closers), link.Close())
	}

	srv := server.New(*addr, drives...)
	go func() {
		if err := srv.Start(); err != nil {
			log.WithError(err).Error("http server stopped")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	err = srv.Shutdown(sctx)

	stopAll(axes, stopRecorder)

	return multierr.Combine(err, closeAll(closers), link.Close())
}

type worker interface {
	Name() string
	Start(context.Context) error
	Wait()
}

// startAll starts the axes in order. When one fails the ones already running
// are stopped and waited for before it returns.
func startAll[W worker](ctx context.Context, cancel context.CancelFunc, axes []W) error {
	for i, a := range axes {
		if err := a.Start(ctx); err != nil {
			cancel()
			for _, b := range axes[:i] {
				b.Wait()
			}
			return errors.Wrapf(err, "axis %s", a.Name())
		}
	}
	return nil
}

// stopAll waits for every worker and only then stops the recorder, so the
// events the workers emit on their way out are kept.
func stopAll[W interface{ Wait() }](workers []W, stopRecorder func()) {
	for _, w := range workers {
		w.Wait()
	}
	stopRecorder()
}

func closeAll(closers []func() error) (err error) {
	for _, c := range closers {
		err = multierr.Append(err, c())
	}
	return err
}

// newAxis builds axis i on stage i of the link with the configs saved for
// it.
func newAxis(i int, link *drive.Link, rec *repo.Recorder) (*axis.Axis, *control.Controller, func() error, error) {
	hw := axis.DefaultHardwareConfig(fmt.Sprintf("axis%d", i))
	hw.ThreadPriority = *priority
	hw.MeasurementPeriod = *period
	hw.MeasurementTimeout = *timeout

	step, dir, err := pins(i, *naxes, *stepPins, *dirPins)
	if err != nil {
		return nil, nil, nil, err
	}
	hw.StepPin, hw.DirPin = step, dir

	cfg, err := repo.GetConfig(hw.Name, axis.DefaultConfig())
	if err != nil {
		return nil, nil, nil, err
	}

	ccfg, err := repo.GetControlConfig(hw.Name, control.DefaultConfig())
	if err != nil {
		return nil, nil, nil, err
	}

	ctrl, err := control.New(ccfg, hw.MeasurementPeriod.Seconds())
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "controller for %s", hw.Name)
	}

	stage := link.Stage(uint8(i))
	enc := drive.NewEncoder(stage, *cpr, *calibrate)
	ctrl.ResizeCogging(enc.CPR())

	opts := []axis.Option{
		axis.WithBusMonitor(stage),
		axis.WithObserver(rec.Record),
	}

	closer := func() error { return nil }
	if hw.StepPin >= 0 {
		d, err := gpio.OpenDir(*chip, hw.DirPin)
		if err != nil {
			return nil, nil, nil, err
		}
		opts = append(opts, axis.WithStepDir(gpio.NewStep(*chip, hw.StepPin), d))
		closer = d.Close
	}

	a, err := axis.New(hw, cfg,
		drive.NewMotor(stage, *calibrate),
		enc,
		drive.NewSensorless(stage),
		ctrl,
		opts...,
	)
	if err != nil {
		return nil, nil, nil, multierr.Append(err, closer())
	}

	stage.OnSample(a.SignalCurrentMeas)
	return a, ctrl, closer, nil
}

// pins returns the step and dir offsets of axis i. Either no pins are given
// or one of each per axis.
func pins(i, n int, step, dir []int) (int, int, error) {
	if len(step) == 0 && len(dir) == 0 {
		return -1, -1, nil
	}

	if len(step) != n || len(dir) != n {
		return -1, -1, errors.Errorf("need %d step and %d dir pins, got %d and %d", n, n, len(step), len(dir))
	}

	return step[i], dir[i], nil
}
