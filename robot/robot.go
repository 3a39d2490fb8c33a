// Package robot is the liquid handling platform instruments attach to.  It
// owns the instrument registry, hands out mosfet outputs, and keeps the
// shared command queue which is run or simulated in submission order.
package robot

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/bdube/magbead/calibration"
	"github.com/bdube/magbead/command"
	"github.com/bdube/magbead/mosfet"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	// ErrInstrumentExists is generated when an axis is registered twice
	ErrInstrumentExists = errors.New("an instrument is already registered on this axis")
)

// Instrument is anything which can be attached to the robot
type Instrument interface {
	Axis() string
	Name() string
}

// MosfetResolver hands out the switched outputs of a board by index
type MosfetResolver interface {
	Mosfet(int) (mosfet.Switch, error)
}

// Option configures a Robot
type Option func(*Robot)

// WithLogger sets the logger, zap.NewNop() by default
func WithLogger(l *zap.Logger) Option {
	return func(r *Robot) { r.log = l }
}

// WithRegisterer sets where metrics are registered.  By default a private
// registry is used, retrievable with Gatherer
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Robot) { r.reg = reg }
}

// WithCalibrations sets the calibration store, an in-memory store by default
func WithCalibrations(s calibration.Store) Option {
	return func(r *Robot) { r.cal = s }
}

// Robot is the platform.  It is driven from a single control goroutine;
// the mutex only keeps stray concurrent use memory safe.
type Robot struct {
	mu          sync.Mutex
	instruments map[string]Instrument
	order       []string
	commands    []command.Command

	mosfets MosfetResolver
	cal     calibration.Store
	log     *zap.Logger
	reg     prometheus.Registerer
	gather  prometheus.Gatherer
	metrics *metrics
}

// New creates a new Robot whose mosfets come from the given resolver
func New(mosfets MosfetResolver, opts ...Option) (*Robot, error) {
	r := &Robot{
		instruments: make(map[string]Instrument),
		mosfets:     mosfets,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.cal == nil {
		r.cal = calibration.NewMemoryStore()
	}
	if r.reg == nil {
		reg := prometheus.NewRegistry()
		r.reg, r.gather = reg, reg
	} else if g, ok := r.reg.(prometheus.Gatherer); ok {
		r.gather = g
	}
	m, err := newMetrics(r.reg)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "registering robot metrics")
	}
	r.metrics = m
	return r, nil
}

// Gatherer returns the registry metrics are kept in, or nil if the
// Registerer given with WithRegisterer cannot be gathered from
func (r *Robot) Gatherer() prometheus.Gatherer {
	return r.gather
}

// AddInstrument registers inst under axis
func (r *Robot) AddInstrument(axis string, inst Instrument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instruments[axis]; ok {
		return pkgerrors.Wrapf(ErrInstrumentExists, "axis %s", axis)
	}
	r.instruments[axis] = inst
	r.order = append(r.order, axis)
	r.log.Debug("instrument added", zap.String("axis", axis), zap.String("name", inst.Name()))
	return nil
}

// Instrument returns the instrument registered under axis
func (r *Robot) Instrument(axis string) (Instrument, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instruments[axis]
	return inst, ok
}

// Instruments returns every registered instrument, in registration order
func (r *Robot) Instruments() []Instrument {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Instrument, 0, len(r.order))
	for _, axis := range r.order {
		out = append(out, r.instruments[axis])
	}
	return out
}

// Mosfet returns the mosfet output at slot
func (r *Robot) Mosfet(slot int) (mosfet.Switch, error) {
	s, err := r.mosfets.Mosfet(slot)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "resolving mosfet %d", slot)
	}
	return s, nil
}

// Calibrations returns the calibration store
func (r *Robot) Calibrations() calibration.Store {
	return r.cal
}

// Submit always runs the setup phase of c first.  Then, if deferred, c is
// appended to the command queue; otherwise its run phase is executed
// immediately and any error returned.
func (r *Robot) Submit(c command.Command, deferred bool) error {
	c.Setup()
	kind := command.KindOf(c)
	r.metrics.submitted.WithLabelValues(kind, strconv.FormatBool(deferred)).Inc()
	if deferred {
		r.mu.Lock()
		r.commands = append(r.commands, c)
		n := len(r.commands)
		r.mu.Unlock()
		r.log.Debug("command queued",
			zap.String("kind", kind),
			zap.String("description", c.Description()),
			zap.Int("queued", n))
		return nil
	}
	r.log.Debug("command executing", zap.String("kind", kind), zap.String("description", c.Description()))
	r.metrics.executed.WithLabelValues(modeImmediate).Inc()
	if err := c.Run(); err != nil {
		r.metrics.failures.Inc()
		r.log.Error("command failed", zap.String("description", c.Description()), zap.Error(err))
		return pkgerrors.Wrap(err, c.Description())
	}
	return nil
}

func (r *Robot) snapshot() []command.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]command.Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Commands returns the descriptions of the queued commands, in order
func (r *Robot) Commands() []string {
	cmds := r.snapshot()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Description()
	}
	return out
}

// Len returns the number of queued commands
func (r *Robot) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commands)
}

// Clear empties the command queue
func (r *Robot) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}

// Run replays the setup then run phase of every queued command, in
// submission order.  It stops at the first failure or when ctx is done.
// The queue is kept, so a protocol may be run again.
func (r *Robot) Run(ctx context.Context) error {
	return r.replay(ctx, modeRun, true)
}

// Simulate replays only the setup phase of every queued command and returns
// their descriptions.  No hardware is touched.
func (r *Robot) Simulate(ctx context.Context) ([]string, error) {
	if err := r.replay(ctx, modeSimulate, false); err != nil {
		return nil, err
	}
	return r.Commands(), nil
}

func (r *Robot) replay(ctx context.Context, mode string, physical bool) error {
	cmds := r.snapshot()
	id := uuid.NewString()
	log := r.log.With(zap.String("run", id), zap.String("mode", mode))
	log.Info("replaying command queue", zap.Int("commands", len(cmds)))
	for i, c := range cmds {
		if err := ctx.Err(); err != nil {
			log.Info("replay canceled", zap.Int("completed", i))
			return pkgerrors.Wrapf(err, "%s canceled before command %d", mode, i)
		}
		c.Setup()
		if physical {
			if err := c.Run(); err != nil {
				r.metrics.failures.Inc()
				log.Error("command failed",
					zap.Int("index", i),
					zap.String("description", c.Description()),
					zap.Error(err))
				return pkgerrors.Wrapf(err, "command %d (%s)", i, c.Description())
			}
		}
		r.metrics.executed.WithLabelValues(mode).Inc()
		log.Debug("command done", zap.Int("index", i), zap.String("description", c.Description()))
	}
	log.Info("command queue complete")
	return nil
}
