// Package protocol reads magbead protocols, ordered lists of steps kept in
// YAML files, and submits them to attached modules.
//
// A protocol looks like
//
//	Name: bead cleanup
//	Steps:
//	  - Action: engage
//	    Slot: 0
//	  - Action: delay
//	    Seconds: 120
//	  - Action: disengage
//
// Steps are deferred to the robot's command queue unless Immediate is set.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bdube/magbead/magbead"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	// ActionEngage raises the magnetic platform
	ActionEngage = "engage"

	// ActionDisengage lowers the magnetic platform
	ActionDisengage = "disengage"

	// ActionDelay pauses for Seconds
	ActionDelay = "delay"
)

var (
	// ErrUnknownAction is generated when a step names an action that does not exist
	ErrUnknownAction = errors.New("unknown action")

	// ErrUnknownSlot is generated when a step addresses a slot with no module attached
	ErrUnknownSlot = errors.New("no module attached at slot")
)

// Step is one action of a protocol
type Step struct {
	// Action is one of engage, disengage, delay (case insensitive)
	Action string `yaml:"Action"`

	// Slot is the mosfet slot of the module to act on
	Slot int `yaml:"Slot"`

	// Seconds is the length of a delay
	Seconds float64 `yaml:"Seconds,omitempty"`

	// Immediate skips the command queue and acts at once
	Immediate bool `yaml:"Immediate,omitempty"`
}

// Protocol is a named, ordered list of steps
type Protocol struct {
	Name  string `yaml:"Name"`
	Steps []Step `yaml:"Steps"`
}

// Parse decodes a protocol from YAML and validates it
func Parse(b []byte) (Protocol, error) {
	p := Protocol{}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.SetStrict(true)
	if err := dec.Decode(&p); err != nil {
		return p, pkgerrors.Wrap(err, "decoding protocol")
	}
	return p, p.Validate()
}

// Load reads and parses the protocol file at path
func Load(path string) (Protocol, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Protocol{}, err
	}
	p, err := Parse(b)
	if err != nil {
		return p, pkgerrors.Wrapf(err, "loading %s", path)
	}
	return p, nil
}

// Validate checks that every step names a known action
func (p Protocol) Validate() error {
	for i, s := range p.Steps {
		switch strings.ToLower(s.Action) {
		case ActionEngage, ActionDisengage, ActionDelay:
		default:
			return fmt.Errorf("step %d: %w %q", i, ErrUnknownAction, s.Action)
		}
	}
	return nil
}

// Slots returns the distinct slots the protocol addresses, in order of first use
func (p Protocol) Slots() []int {
	seen := map[int]bool{}
	out := []int{}
	for _, s := range p.Steps {
		if !seen[s.Slot] {
			seen[s.Slot] = true
			out = append(out, s.Slot)
		}
	}
	return out
}

// Apply submits every step to the module at its slot.  Immediate steps
// that fail stop the protocol.
func (p Protocol) Apply(modules map[int]*magbead.Magbead) error {
	for i, s := range p.Steps {
		m, ok := modules[s.Slot]
		if !ok {
			return fmt.Errorf("step %d: %w %d", i, ErrUnknownSlot, s.Slot)
		}
		deferred := !s.Immediate
		switch strings.ToLower(s.Action) {
		case ActionEngage:
			m.Engage(deferred)
		case ActionDisengage:
			m.Disengage(deferred)
		case ActionDelay:
			m.Delay(s.Seconds, deferred)
		default:
			return fmt.Errorf("step %d: %w %q", i, ErrUnknownAction, s.Action)
		}
		if err := m.Err(); err != nil {
			return pkgerrors.Wrapf(err, "step %d", i)
		}
	}
	return nil
}
