package main

import (
	"io"
	"os"

	"github.com/bdube/magbead/calibration"
	"github.com/bdube/magbead/magbead"
	"github.com/bdube/magbead/mosfet"
	"github.com/bdube/magbead/protocol"
	"github.com/bdube/magbead/robot"
	"github.com/bdube/magbead/util"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"
)

// Config holds the setup of the robot and the modules attached to it.
// It is populated by koanf from defaults and the config file.
type Config struct {
	// Mock swaps the motion board for a board of mock outputs
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// Addr is the network or filesystem address of the motion board,
	// e.g. /dev/ttyACM0 for a board on USB serial, or 192.168.1.40:23
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Serial determines if the connection is serial (True) or TCP (False)
	Serial bool `koanf:"Serial" yaml:"Serial"`

	// Baud is the serial baud rate
	Baud int `koanf:"Baud" yaml:"Baud"`

	// CommandRate caps the commands sent to the board per second, 0 is no cap
	CommandRate float64 `koanf:"CommandRate" yaml:"CommandRate"`

	// Name is the display name given to every module, "Magbead" if empty
	Name string `koanf:"Name" yaml:"Name"`

	// Slots are the mosfet slots with a module attached.  Slots used by a
	// protocol are attached automatically.
	Slots []int `koanf:"Slots" yaml:"Slots"`

	// CalibrationDir is where calibration data is kept.  If empty,
	// calibration lives in memory only
	CalibrationDir string `koanf:"CalibrationDir" yaml:"CalibrationDir"`

	// MetricsFile is a prometheus textfile written after each command, if set
	MetricsFile string `koanf:"MetricsFile" yaml:"MetricsFile"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `koanf:"LogLevel" yaml:"LogLevel"`

	// LogJSON switches the log output from console to JSON
	LogJSON bool `koanf:"LogJSON" yaml:"LogJSON"`
}

// defaultConfig is the config used when there is no config file
func defaultConfig() Config {
	return Config{
		Mock:        true,
		Addr:        "/dev/ttyACM0",
		Serial:      true,
		Baud:        mosfet.DefaultBaud,
		CommandRate: 20,
		Slots:       []int{0},
		LogLevel:    "info",
	}
}

// WriteYaml encodes c to w
func (c Config) WriteYaml(w io.Writer) error {
	return yaml.NewEncoder(w).Encode(c)
}

// BuildLogger makes the logger described by the config
func (c Config) BuildLogger() (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	if c.LogJSON {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = lvl
	return zc.Build()
}

// Rig is a robot with modules attached, ready to take commands
type Rig struct {
	Robot   *robot.Robot
	Modules map[int]*magbead.Magbead

	reg     *prometheus.Registry
	metrics string
	closers []io.Closer
}

// BuildRig connects to the board, opens the calibration store, and attaches
// a module at every slot in the config plus any in extra
func BuildRig(c Config, log *zap.Logger, extra ...int) (*Rig, error) {
	rig := &Rig{
		Modules: map[int]*magbead.Magbead{},
		reg:     prometheus.NewRegistry(),
		metrics: c.MetricsFile,
	}

	var board robot.MosfetResolver
	if c.Mock {
		board = mosfet.NewMockBoard()
	} else {
		b := mosfet.NewBoard(c.Addr, c.Serial, c.Baud, c.CommandRate)
		rig.closers = append(rig.closers, b)
		board = b
	}

	var store calibration.Store = calibration.NewMemoryStore()
	if c.CalibrationDir != "" {
		bs, err := calibration.NewBadgerStore(c.CalibrationDir)
		if err != nil {
			rig.Close()
			return nil, err
		}
		store = bs
	}
	rig.closers = append(rig.closers, store)

	r, err := robot.New(board,
		robot.WithLogger(log),
		robot.WithRegisterer(rig.reg),
		robot.WithCalibrations(store))
	if err != nil {
		rig.Close()
		return nil, err
	}
	rig.Robot = r

	slots := append(append([]int{}, c.Slots...), extra...)
	for _, slot := range slots {
		if _, ok := rig.Modules[slot]; ok {
			continue
		}
		m, err := magbead.New(r, slot, magbead.WithName(c.Name))
		if err != nil {
			rig.Close()
			return nil, err
		}
		rig.Modules[slot] = m
	}
	log.Info("rig ready",
		zap.Bool("mock", c.Mock),
		zap.String("slots", util.IntSliceToCSV(slots)))
	return rig, nil
}

// Module returns the module at slot
func (r *Rig) Module(slot int) (*magbead.Magbead, error) {
	m, ok := r.Modules[slot]
	if !ok {
		return nil, errors.Wrapf(protocol.ErrUnknownSlot, "slot %d", slot)
	}
	return m, nil
}

// WriteMetrics writes the robot's metrics to the configured textfile
func (r *Rig) WriteMetrics() error {
	if r.metrics == "" {
		return nil
	}
	return prometheus.WriteToTextfile(r.metrics, r.reg)
}

// Close releases the board and the calibration store
func (r *Rig) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// loadProtocol reads a protocol file, "-" is stdin
func loadProtocol(path string) (protocol.Protocol, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return protocol.Protocol{}, err
		}
		return protocol.Parse(b)
	}
	return protocol.Load(path)
}
