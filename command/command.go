// Package command describes units of deferred instrument work.
//
// A Command has two phases.  Setup updates the bookkeeping of the instrument
// that created it and is always run at the moment the command is submitted.
// Run performs the physical effect, either right away or when the queue the
// command was submitted to is run.
package command

// Command is a describable, two-phase unit of work
type Command interface {
	// Setup updates instrument state only, and cannot fail
	Setup()

	// Run performs the physical effect
	Run() error

	// Description is a human readable summary of the command
	Description() string
}

// Kinder is implemented by commands which can name what kind of action they
// are, e.g. "engage"
type Kinder interface {
	Kind() string
}

// KindOf returns the kind of c, or "other" if it does not report one
func KindOf(c Command) string {
	if k, ok := c.(Kinder); ok {
		return k.Kind()
	}
	return "other"
}

// Execute runs both phases of c back to back
func Execute(c Command) error {
	c.Setup()
	return c.Run()
}

// Func adapts a pair of functions into a Command.  Either may be nil.
type Func struct {
	SetupFunc func()
	RunFunc   func() error
	Desc      string
	Name      string
}

// Setup calls SetupFunc
func (f Func) Setup() {
	if f.SetupFunc != nil {
		f.SetupFunc()
	}
}

// Run calls RunFunc
func (f Func) Run() error {
	if f.RunFunc != nil {
		return f.RunFunc()
	}
	return nil
}

// Description returns Desc
func (f Func) Description() string {
	return f.Desc
}

// Kind returns Name, or "func" if it is empty
func (f Func) Kind() string {
	if f.Name == "" {
		return "func"
	}
	return f.Name
}
