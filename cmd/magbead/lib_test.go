package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bdube/magbead/calibration"
	"github.com/bdube/magbead/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

func TestBuildRigMock(t *testing.T) {
	c := defaultConfig()
	c.MetricsFile = filepath.Join(t.TempDir(), "magbead.prom")
	rig, err := BuildRig(c, zap.NewNop(), 2, 0)
	require.NoError(t, err)
	defer rig.Close()

	assert.Len(t, rig.Modules, 2)
	m, err := rig.Module(2)
	require.NoError(t, err)
	assert.Equal(t, "M2", m.Axis())
	_, err = rig.Module(4)
	assert.True(t, errors.Is(err, protocol.ErrUnknownSlot))

	m.Engage(true).Delay(1, true).Disengage(true)
	require.NoError(t, rig.Robot.Run(context.Background()))
	require.NoError(t, rig.WriteMetrics())

	b, err := os.ReadFile(c.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), "magbead_commands_executed_total")
}

func TestBuildRigPersistsCalibration(t *testing.T) {
	c := defaultConfig()
	c.CalibrationDir = t.TempDir()
	rig, err := BuildRig(c, zap.NewNop())
	require.NoError(t, err)
	m, err := rig.Module(0)
	require.NoError(t, err)
	require.NoError(t, m.Calibrate(calibration.Entry{Container: "plate", Z: 10}))
	require.NoError(t, rig.Close())

	rig, err = BuildRig(c, zap.NewNop())
	require.NoError(t, err)
	defer rig.Close()
	m, err = rig.Module(0)
	require.NoError(t, err)
	assert.Len(t, m.PersistedData(), 1)
}

func TestWriteMetricsDisabled(t *testing.T) {
	rig, err := BuildRig(defaultConfig(), zap.NewNop())
	require.NoError(t, err)
	defer rig.Close()
	assert.NoError(t, rig.WriteMetrics())
}

func TestConfigRoundTripsThroughYaml(t *testing.T) {
	c := defaultConfig()
	c.Name = "beads"
	c.Slots = []int{0, 3}
	buf := &bytes.Buffer{}
	require.NoError(t, c.WriteYaml(buf))
	out := Config{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, c, out)
}

func TestBuildLogger(t *testing.T) {
	c := defaultConfig()
	_, err := c.BuildLogger()
	assert.NoError(t, err)
	c.LogJSON = true
	_, err = c.BuildLogger()
	assert.NoError(t, err)
	c.LogLevel = "chatty"
	_, err = c.BuildLogger()
	assert.Error(t, err)
}
