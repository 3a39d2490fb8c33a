// Package mosfet drives the switched outputs of a motion control board that
// power peripherals such as the magnetic bead module.
package mosfet

import "errors"

// NumMosfets is the number of switched outputs on a board
const NumMosfets = 6

var (
	// ErrNoSuchMosfet is generated when a mosfet index is outside [0, NumMosfets)
	ErrNoSuchMosfet = errors.New("mosfet index out of range")

	// ErrNegativeWait is generated when a dwell of negative length is commanded
	ErrNegativeWait = errors.New("wait duration must not be negative")

	// ErrBadResponse is generated when the board does not acknowledge a command
	ErrBadResponse = errors.New("board did not acknowledge command")
)

// Switch is a single switched output.  Engage and Disengage drive the output
// on and off, Wait pauses the board for a number of seconds.
type Switch interface {
	// Engage turns the output on
	Engage() error

	// Disengage turns the output off
	Disengage() error

	// Wait pauses for the given number of seconds
	Wait(float64) error

	// String returns the index of the output
	String() string
}

func checkIndex(idx int) error {
	if idx < 0 || idx >= NumMosfets {
		return ErrNoSuchMosfet
	}
	return nil
}
