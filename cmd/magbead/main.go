package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"
	"go.uber.org/zap"
	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "magbead.yml"
	k              = koanf.New(".")

	slot    int
	seconds float64
)

func setupconfig() error {
	k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			return fmt.Errorf("error loading config: %w", err)
		}
	}
	return nil
}

func loadConfig() (Config, error) {
	c := Config{}
	if err := setupconfig(); err != nil {
		return c, err
	}
	err := k.Unmarshal("", &c)
	return c, err
}

// withRig loads the config, builds a logger and a rig, and hands them to fn
func withRig(extra []int, fn func(Config, *zap.Logger, *Rig) error) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := c.BuildLogger()
	if err != nil {
		return err
	}
	defer log.Sync()
	rig, err := BuildRig(c, log, extra...)
	if err != nil {
		return err
	}
	defer rig.Close()
	err = fn(c, log, rig)
	if merr := rig.WriteMetrics(); merr != nil {
		log.Warn("could not write metrics", zap.String("file", c.MetricsFile), zap.Error(merr))
	}
	return err
}

var rootCmd = &cobra.Command{
	Use:   "magbead",
	Short: "magbead drives magnetic bead separation modules on a liquid handling robot",
	Long: `magbead drives magnetic bead separation modules attached to the mosfet
outputs of a liquid handling robot's motion board.

Protocols are YAML files of steps (engage, disengage, delay) which are queued
and then run in order, or simulated without touching the hardware.

magbead is configured with magbead.yml in the working directory, see mkconf.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run <protocol.yml>",
	Short: "queue every step of a protocol, then run the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProtocol(args[0])
		if err != nil {
			return err
		}
		return withRig(p.Slots(), func(c Config, log *zap.Logger, rig *Rig) error {
			if err := p.Apply(rig.Modules); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			spinner, err := yacspin.New(yacspin.Config{
				Frequency:         100 * time.Millisecond,
				CharSet:           yacspin.CharSets[11],
				Suffix:            " running " + p.Name,
				StopCharacter:     "✓",
				StopColors:        []string{"fgGreen"},
				StopFailCharacter: "✗",
				StopFailColors:    []string{"fgRed"},
			})
			if err != nil {
				return err
			}
			spinner.Message(fmt.Sprintf("%d commands", rig.Robot.Len()))
			if err := spinner.Start(); err != nil {
				return err
			}
			err = rig.Robot.Run(ctx)
			if err != nil {
				spinner.StopFail()
				return err
			}
			return spinner.Stop()
		})
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <protocol.yml>",
	Short: "queue every step of a protocol and list what running it would do",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProtocol(args[0])
		if err != nil {
			return err
		}
		return withRig(p.Slots(), func(c Config, log *zap.Logger, rig *Rig) error {
			if err := p.Apply(rig.Modules); err != nil {
				return err
			}
			desc, err := rig.Robot.Simulate(cmd.Context())
			if err != nil {
				return err
			}
			for i, d := range desc {
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", i+1, d)
			}
			return nil
		})
	},
}

var engageCmd = &cobra.Command{
	Use:   "engage",
	Short: "raise the magnetic platform of a module now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRig([]int{slot}, func(c Config, log *zap.Logger, rig *Rig) error {
			m, err := rig.Module(slot)
			if err != nil {
				return err
			}
			return m.Engage(false).Err()
		})
	},
}

var disengageCmd = &cobra.Command{
	Use:   "disengage",
	Short: "lower the magnetic platform of a module now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRig([]int{slot}, func(c Config, log *zap.Logger, rig *Rig) error {
			m, err := rig.Module(slot)
			if err != nil {
				return err
			}
			return m.Disengage(false).Err()
		})
	},
}

var delayCmd = &cobra.Command{
	Use:   "delay",
	Short: "pause the board for a number of seconds now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRig([]int{slot}, func(c Config, log *zap.Logger, rig *Rig) error {
			m, err := rig.Module(slot)
			if err != nil {
				return err
			}
			return m.Delay(seconds, false).Err()
		})
	},
}

var calibrationCmd = &cobra.Command{
	Use:   "calibration",
	Short: "print the persisted calibration data of a module",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRig([]int{slot}, func(c Config, log *zap.Logger, rig *Rig) error {
			m, err := rig.Module(slot)
			if err != nil {
				return err
			}
			out := map[string]interface{}{m.CalibrationKey(): m.PersistedData()}
			return yml.NewEncoder(cmd.OutOrStdout()).Encode(out)
		})
	},
}

var mkconfCmd = &cobra.Command{
	Use:   "mkconf",
	Short: "write the current config (defaults if none) to " + ConfigFileName,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		f, err := os.Create(ConfigFileName)
		if err != nil {
			return err
		}
		defer f.Close()
		return c.WriteYaml(f)
	},
}

var confCmd = &cobra.Command{
	Use:   "conf",
	Short: "print the current config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		return c.WriteYaml(cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "magbead version %v\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ConfigFileName, "config", ConfigFileName, "config file")
	for _, c := range []*cobra.Command{engageCmd, disengageCmd, delayCmd, calibrationCmd} {
		c.Flags().IntVar(&slot, "slot", 0, "mosfet slot of the module")
	}
	delayCmd.Flags().Float64Var(&seconds, "seconds", 1, "seconds to pause")
	rootCmd.AddCommand(runCmd, simulateCmd, engageCmd, disengageCmd, delayCmd,
		calibrationCmd, mkconfCmd, confCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
