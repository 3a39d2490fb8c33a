package protocol_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bdube/magbead/magbead"
	"github.com/bdube/magbead/mosfet"
	"github.com/bdube/magbead/protocol"
	"github.com/bdube/magbead/robot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cleanup = `
Name: bead cleanup
Steps:
  - Action: engage
  - Action: delay
    Seconds: 5
  - Action: Disengage
  - Action: engage
    Slot: 1
    Immediate: true
`

func TestParse(t *testing.T) {
	p, err := protocol.Parse([]byte(cleanup))
	require.NoError(t, err)
	assert.Equal(t, "bead cleanup", p.Name)
	require.Len(t, p.Steps, 4)
	assert.Equal(t, protocol.Step{Action: "delay", Seconds: 5}, p.Steps[1])
	assert.True(t, p.Steps[3].Immediate)
	assert.Equal(t, []int{0, 1}, p.Slots())
}

func TestParseUnknownAction(t *testing.T) {
	_, err := protocol.Parse([]byte("Steps:\n  - Action: shake\n"))
	assert.True(t, errors.Is(err, protocol.ErrUnknownAction), "got %v", err)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := protocol.Parse([]byte("Steps:\n  - Action: engage\n    Speed: 3\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cleanup.yml")
	require.NoError(t, os.WriteFile(path, []byte(cleanup), 0o644))
	p, err := protocol.Load(path)
	require.NoError(t, err)
	assert.Len(t, p.Steps, 4)

	_, err = protocol.Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func attach(t *testing.T, slots ...int) (*robot.Robot, *mosfet.MockBoard, map[int]*magbead.Magbead) {
	board := mosfet.NewMockBoard()
	r, err := robot.New(board)
	require.NoError(t, err)
	modules := map[int]*magbead.Magbead{}
	for _, s := range slots {
		m, err := magbead.New(r, s)
		require.NoError(t, err)
		modules[s] = m
	}
	return r, board, modules
}

func TestApply(t *testing.T) {
	p, err := protocol.Parse([]byte(cleanup))
	require.NoError(t, err)
	r, board, modules := attach(t, 0, 1)

	require.NoError(t, p.Apply(modules))
	assert.Equal(t, 3, r.Len(), "only deferred steps are queued")
	assert.Empty(t, board.Mock(0).Calls())
	assert.Equal(t, []mosfet.Call{{Op: mosfet.OpEngage}}, board.Mock(1).Calls())
	assert.False(t, modules[0].Engaged())
	assert.True(t, modules[1].Engaged())

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []mosfet.Call{
		{Op: mosfet.OpEngage},
		{Op: mosfet.OpWait, Seconds: 5},
		{Op: mosfet.OpDisengage},
	}, board.Mock(0).Calls())
}

func TestApplyUnknownSlot(t *testing.T) {
	p, err := protocol.Parse([]byte(cleanup))
	require.NoError(t, err)
	_, _, modules := attach(t, 0)
	err = p.Apply(modules)
	assert.True(t, errors.Is(err, protocol.ErrUnknownSlot), "got %v", err)
}

func TestApplyStopsOnImmediateFailure(t *testing.T) {
	p := protocol.Protocol{Steps: []protocol.Step{
		{Action: protocol.ActionEngage, Immediate: true},
		{Action: protocol.ActionDisengage},
	}}
	r, board, modules := attach(t, 0)
	boom := errors.New("hardware timeout")
	board.Mock(0).FailWith(boom)
	err := p.Apply(modules)
	assert.True(t, errors.Is(err, boom), "got %v", err)
	assert.Equal(t, 0, r.Len())
}
