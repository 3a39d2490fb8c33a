package mosfet

import (
	"strconv"
	"sync"
	"time"

	"github.com/bdube/magbead/util"
)

const (
	// OpEngage is recorded for a call to Engage
	OpEngage = "engage"

	// OpDisengage is recorded for a call to Disengage
	OpDisengage = "disengage"

	// OpWait is recorded for a call to Wait
	OpWait = "wait"
)

// Call is one recorded invocation on a Mock
type Call struct {
	Op      string
	Seconds float64
}

// Mock is a Switch that records its calls instead of driving hardware.
// Waits are recorded, not slept.
type Mock struct {
	sync.Mutex
	index   int
	engaged bool
	waited  time.Duration
	calls   []Call
	fail    error
}

// NewMock returns a mock output at the given index
func NewMock(index int) *Mock {
	return &Mock{index: index}
}

// FailWith makes every subsequent call return err, until called with nil
func (m *Mock) FailWith(err error) {
	m.Lock()
	defer m.Unlock()
	m.fail = err
}

func (m *Mock) record(c Call) error {
	m.calls = append(m.calls, c)
	return m.fail
}

// Engage turns the output on
func (m *Mock) Engage() error {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: OpEngage}); err != nil {
		return err
	}
	m.engaged = true
	return nil
}

// Disengage turns the output off
func (m *Mock) Disengage() error {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: OpDisengage}); err != nil {
		return err
	}
	m.engaged = false
	return nil
}

// Wait records a pause of secs seconds
func (m *Mock) Wait(secs float64) error {
	m.Lock()
	defer m.Unlock()
	if err := m.record(Call{Op: OpWait, Seconds: secs}); err != nil {
		return err
	}
	m.waited += util.SecsToDuration(secs)
	return nil
}

// String returns the index of the output
func (m *Mock) String() string {
	return strconv.Itoa(m.index)
}

// Calls returns a copy of the recorded calls, oldest first
func (m *Mock) Calls() []Call {
	m.Lock()
	defer m.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Engaged returns true if the output is on
func (m *Mock) Engaged() bool {
	m.Lock()
	defer m.Unlock()
	return m.engaged
}

// Waited returns the total time the mock was asked to wait
func (m *Mock) Waited() time.Duration {
	m.Lock()
	defer m.Unlock()
	return m.waited
}

// MockBoard is a board of Mock outputs
type MockBoard struct {
	mocks []*Mock
}

// NewMockBoard returns a board with NumMosfets mock outputs
func NewMockBoard() *MockBoard {
	b := &MockBoard{mocks: make([]*Mock, NumMosfets)}
	for i := range b.mocks {
		b.mocks[i] = NewMock(i)
	}
	return b
}

// Mosfet returns the output at idx
func (b *MockBoard) Mosfet(idx int) (Switch, error) {
	if err := checkIndex(idx); err != nil {
		return nil, err
	}
	return b.mocks[idx], nil
}

// Mock returns the concrete mock at idx, or nil if idx is out of range
func (b *MockBoard) Mock(idx int) *Mock {
	if checkIndex(idx) != nil {
		return nil
	}
	return b.mocks[idx]
}
