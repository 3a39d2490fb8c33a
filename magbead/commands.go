package magbead

import (
	"fmt"

	"github.com/bdube/magbead/util"
)

const (
	kindEngage    = "engage"
	kindDisengage = "disengage"
	kindDelay     = "delay"
)

type engageCmd struct {
	m *Magbead
}

func (c engageCmd) Setup() { c.m.engaged = true }
func (c engageCmd) Run() error { return c.m.motor.Engage() }
func (engageCmd) Kind() string { return kindEngage }
func (c engageCmd) Description() string {
	return fmt.Sprintf("Engaging Magbead at mosfet #%s", c.m.motor)
}

type disengageCmd struct {
	m *Magbead
}

func (c disengageCmd) Setup() { c.m.engaged = false }
func (c disengageCmd) Run() error { return c.m.motor.Disengage() }
func (disengageCmd) Kind() string { return kindDisengage }
func (c disengageCmd) Description() string {
	return fmt.Sprintf("Disengaging Magbead at mosfet #%s", c.m.motor)
}

type delayCmd struct {
	m       *Magbead
	seconds float64
}

// Setup is a no-op, a delay changes nothing on the module
func (c delayCmd) Setup() {}
func (c delayCmd) Run() error { return c.m.motor.Wait(c.seconds) }
func (delayCmd) Kind() string { return kindDelay }
func (c delayCmd) Description() string {
	return fmt.Sprintf("Delaying Magbead for %s seconds", util.FormatSeconds(c.seconds))
}
