package robot

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	modeImmediate = "immediate"
	modeRun       = "run"
	modeSimulate  = "simulate"
)

type metrics struct {
	submitted *prometheus.CounterVec
	executed  *prometheus.CounterVec
	failures  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "magbead",
			Name:      "commands_submitted_total",
			Help:      "Commands submitted to the robot, by kind and whether they were deferred.",
		}, []string{"kind", "deferred"}),
		executed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "magbead",
			Name:      "commands_executed_total",
			Help:      "Commands executed, by mode (immediate, run, simulate).",
		}, []string{"mode"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "magbead",
			Name:      "command_failures_total",
			Help:      "Commands whose physical phase returned an error.",
		}),
	}
	for _, c := range []prometheus.Collector{m.submitted, m.executed, m.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
