// Package magbead controls a magnetic bead separation module.
//
// The module raises a magnetic platform under a plate so the field reaches
// the wells (Engage), lowers it again (Disengage), and can pause (Delay).
// Every action is submitted to the robot as a two-phase command: the
// instrument's own state changes at once, the hardware moves either at once
// or when the robot's command queue is run.
package magbead

import (
	"fmt"
	"strconv"

	"github.com/bdube/magbead/calibration"
	"github.com/bdube/magbead/command"
	"github.com/bdube/magbead/mosfet"
	"github.com/bdube/magbead/robot"
	"github.com/pkg/errors"
)

// typeName is the default display name of a Magbead
const typeName = "Magbead"

// Platform is the robot a Magbead attaches to
type Platform interface {
	// AddInstrument registers an instrument under axis
	AddInstrument(string, robot.Instrument) error

	// Mosfet resolves the output at a slot index
	Mosfet(int) (mosfet.Switch, error)

	// Submit runs the setup of a command, then queues it (deferred) or
	// runs it immediately
	Submit(command.Command, bool) error

	// Calibrations is where calibration data is persisted
	Calibrations() calibration.Store
}

// Container is the labware sitting on top of the module
type Container struct {
	Name string `yaml:"Name"`
	Type string `yaml:"Type"`
}

// Option configures a Magbead at construction
type Option func(*Magbead)

// WithName sets the display name.  An empty name keeps the default
func WithName(name string) Option {
	return func(m *Magbead) { m.name = name }
}

// WithContainer sets the labware on top of the module
func WithContainer(c *Container) Option {
	return func(m *Magbead) { m.container = c }
}

// Magbead is a magnetic bead module bound to one mosfet output of the robot
type Magbead struct {
	platform Platform
	motor    mosfet.Switch

	axis           string
	name           string
	calibrationKey string
	container      *Container
	persistedData  []calibration.Entry

	engaged bool
	err     error
}

// AxisForSlot returns the axis of the mosfet slot, e.g. 0 => "M0"
func AxisForSlot(slot int) string {
	return "M" + strconv.Itoa(slot)
}

// New attaches a Magbead to the robot at the given mosfet slot.  It registers
// itself under its axis, resolves its mosfet, and loads its persisted
// calibration data.  Any failure is fatal and no Magbead is returned.
func New(p Platform, slot int, opts ...Option) (*Magbead, error) {
	m := &Magbead{platform: p, axis: AxisForSlot(slot)}
	for _, opt := range opts {
		opt(m)
	}
	if m.name == "" {
		m.name = typeName
	}
	m.calibrationKey = m.axis + ":" + m.name

	if err := p.AddInstrument(m.axis, m); err != nil {
		return nil, errors.Wrapf(err, "attaching %s", m.calibrationKey)
	}
	motor, err := p.Mosfet(slot)
	if err != nil {
		return nil, errors.Wrapf(err, "attaching %s", m.calibrationKey)
	}
	m.motor = motor

	store := p.Calibrations()
	if err := store.Init(m.calibrationKey); err != nil {
		return nil, err
	}
	data, err := store.Load(m.calibrationKey)
	if err != nil {
		return nil, err
	}
	m.persistedData = data
	return m, nil
}

// Axis returns the axis the module is registered under
func (m *Magbead) Axis() string { return m.axis }

// Name returns the display name
func (m *Magbead) Name() string { return m.name }

// CalibrationKey returns the key calibration data is stored under
func (m *Magbead) CalibrationKey() string { return m.calibrationKey }

// Container returns the labware on the module, or nil
func (m *Magbead) Container() *Container { return m.container }

// Engaged returns true if the most recently submitted engage or disengage
// was an engage.  The hardware may not have moved yet.
func (m *Magbead) Engaged() bool { return m.engaged }

// PersistedData returns a copy of the calibration entries of the module
func (m *Magbead) PersistedData() []calibration.Entry {
	out := make([]calibration.Entry, len(m.persistedData))
	copy(out, m.persistedData)
	return out
}

// Err returns the error from the most recent submission, if any.  Deferred
// submissions only fail when the queue is run.
func (m *Magbead) Err() error { return m.err }

func (m *Magbead) String() string {
	return fmt.Sprintf("%s on %s", m.name, m.axis)
}

func (m *Magbead) submit(c command.Command, deferred bool) *Magbead {
	m.err = m.platform.Submit(c, deferred)
	return m
}

// Engage raises the magnetic platform, bringing the field close to the wells.
// If deferred, the motion is appended to the robot's command queue,
// otherwise it happens immediately.  Engaged is true on return either way.
func (m *Magbead) Engage(deferred bool) *Magbead {
	return m.submit(engageCmd{m}, deferred)
}

// Disengage lowers the magnetic platform away from the wells.  Deferral
// works as for Engage.  Engaged is false on return.
func (m *Magbead) Disengage(deferred bool) *Magbead {
	return m.submit(disengageCmd{m}, deferred)
}

// Delay pauses the robot for the given number of seconds.  The value is
// passed to the mosfet as-is.
func (m *Magbead) Delay(seconds float64, deferred bool) *Magbead {
	return m.submit(delayCmd{m: m, seconds: seconds}, deferred)
}

// Calibrate persists a calibration entry for the module
func (m *Magbead) Calibrate(e calibration.Entry) error {
	if err := m.platform.Calibrations().Save(m.calibrationKey, e); err != nil {
		return err
	}
	m.persistedData = append(m.persistedData, e)
	return nil
}

// ResetCalibration deletes every persisted calibration entry of the module
func (m *Magbead) ResetCalibration() error {
	if err := m.platform.Calibrations().Delete(m.calibrationKey); err != nil {
		return err
	}
	m.persistedData = nil
	return nil
}
