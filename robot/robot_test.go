package robot

import (
	"context"
	"errors"
	"testing"

	"github.com/bdube/magbead/command"
	"github.com/bdube/magbead/mosfet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeInstrument struct{ axis, name string }

func (f fakeInstrument) Axis() string { return f.axis }
func (f fakeInstrument) Name() string { return f.name }

// recorder builds commands which log their phases into a shared slice
type recorder struct {
	log []string
}

func (r *recorder) cmd(name string, runErr error) command.Command {
	return command.Func{
		SetupFunc: func() { r.log = append(r.log, "setup "+name) },
		RunFunc: func() error {
			r.log = append(r.log, "run "+name)
			return runErr
		},
		Desc: "doing " + name,
		Name: name,
	}
}

func newRobot(t *testing.T, opts ...Option) *Robot {
	r, err := New(mosfet.NewMockBoard(), opts...)
	require.NoError(t, err)
	return r
}

func TestSubmitImmediateRunsBothPhases(t *testing.T) {
	r := newRobot(t)
	rec := &recorder{}
	require.NoError(t, r.Submit(rec.cmd("a", nil), false))
	assert.Equal(t, []string{"setup a", "run a"}, rec.log)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 1., testutil.ToFloat64(r.metrics.executed.WithLabelValues(modeImmediate)))
}

func TestSubmitImmediateReturnsRunError(t *testing.T) {
	r := newRobot(t)
	rec := &recorder{}
	boom := errors.New("mosfet timeout")
	err := r.Submit(rec.cmd("a", boom), false)
	assert.True(t, errors.Is(err, boom), "got %v", err)
	assert.Contains(t, err.Error(), "doing a")
	assert.Equal(t, 1., testutil.ToFloat64(r.metrics.failures))
}

func TestSubmitDeferredRunsOnlySetup(t *testing.T) {
	r := newRobot(t)
	rec := &recorder{}
	require.NoError(t, r.Submit(rec.cmd("a", nil), true))
	require.NoError(t, r.Submit(rec.cmd("b", nil), true))
	assert.Equal(t, []string{"setup a", "setup b"}, rec.log)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"doing a", "doing b"}, r.Commands())
	assert.Equal(t, 1., testutil.ToFloat64(r.metrics.submitted.WithLabelValues("a", "true")))
}

func TestRunReplaysInSubmissionOrder(t *testing.T) {
	r := newRobot(t)
	rec := &recorder{}
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, r.Submit(rec.cmd(name, nil), true))
	}
	rec.log = nil
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{
		"setup a", "run a",
		"setup b", "run b",
		"setup c", "run c",
	}, rec.log)
	assert.Equal(t, 3, r.Len(), "the queue is kept after a run")
	assert.Equal(t, 3., testutil.ToFloat64(r.metrics.executed.WithLabelValues(modeRun)))
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	r := newRobot(t)
	rec := &recorder{}
	boom := errors.New("boom")
	require.NoError(t, r.Submit(rec.cmd("a", nil), true))
	require.NoError(t, r.Submit(rec.cmd("b", boom), true))
	require.NoError(t, r.Submit(rec.cmd("c", nil), true))
	rec.log = nil
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "command 1 (doing b)")
	assert.Equal(t, []string{"setup a", "run a", "setup b", "run b"}, rec.log)
}

func TestRunHonorsCancellation(t *testing.T) {
	r := newRobot(t)
	rec := &recorder{}
	require.NoError(t, r.Submit(rec.cmd("a", nil), true))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.log = nil
	err := r.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Empty(t, rec.log)
}

func TestSimulateRunsOnlySetup(t *testing.T) {
	r := newRobot(t)
	rec := &recorder{}
	require.NoError(t, r.Submit(rec.cmd("a", nil), true))
	require.NoError(t, r.Submit(rec.cmd("b", nil), true))
	rec.log = nil
	desc, err := r.Simulate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"doing a", "doing b"}, desc)
	assert.Equal(t, []string{"setup a", "setup b"}, rec.log)
}

func TestClear(t *testing.T) {
	r := newRobot(t)
	rec := &recorder{}
	require.NoError(t, r.Submit(rec.cmd("a", nil), true))
	r.Clear()
	assert.Equal(t, 0, r.Len())
	require.NoError(t, r.Run(context.Background()))
}

func TestInstrumentRegistry(t *testing.T) {
	r := newRobot(t)
	require.NoError(t, r.AddInstrument("M1", fakeInstrument{"M1", "Magbead"}))
	require.NoError(t, r.AddInstrument("M0", fakeInstrument{"M0", "Magbead"}))
	err := r.AddInstrument("M0", fakeInstrument{"M0", "Other"})
	assert.True(t, errors.Is(err, ErrInstrumentExists), "got %v", err)

	inst, ok := r.Instrument("M0")
	require.True(t, ok)
	assert.Equal(t, "Magbead", inst.Name())
	_, ok = r.Instrument("M5")
	assert.False(t, ok)

	all := r.Instruments()
	require.Len(t, all, 2)
	assert.Equal(t, "M1", all[0].Axis())
	assert.Equal(t, "M0", all[1].Axis())
}

func TestMosfetResolution(t *testing.T) {
	r := newRobot(t)
	s, err := r.Mosfet(3)
	require.NoError(t, err)
	assert.Equal(t, "3", s.String())
	_, err = r.Mosfet(mosfet.NumMosfets)
	assert.True(t, errors.Is(err, mosfet.ErrNoSuchMosfet), "got %v", err)
}

func TestRunIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := newRobot(t, WithLogger(zap.New(core)))
	rec := &recorder{}
	require.NoError(t, r.Submit(rec.cmd("a", nil), true))
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 1, logs.FilterMessage("command queued").Len())
	started := logs.FilterMessage("replaying command queue").All()
	require.Len(t, started, 1)
	assert.Equal(t, "run", started[0].ContextMap()["mode"])
	assert.NotEmpty(t, started[0].ContextMap()["run"])
}

func TestSharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := newRobot(t, WithRegisterer(reg))
	assert.Equal(t, prometheus.Gatherer(reg), r.Gatherer())
	_, err := New(mosfet.NewMockBoard(), WithRegisterer(reg))
	assert.Error(t, err, "registering the same metrics twice must fail")
}
