// Package metrics exposes per-channel Prometheus instrumentation for the
// emulation engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every cellbench Prometheus collector.
type Metrics struct {
	SoC               *prometheus.GaugeVec
	Voltage           *prometheus.GaugeVec
	Current           *prometheus.GaugeVec
	ConsecutiveErrors *prometheus.GaugeVec
	CommandsTotal     *prometheus.CounterVec
	CutoffsTotal      *prometheus.CounterVec
	ChannelActive     *prometheus.GaugeVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the process-wide Metrics singleton, registering collectors
// against the default registry on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		SoC: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cellbench",
			Name:      "state_of_charge",
			Help:      "Current state of charge estimate, 0..1, per channel.",
		}, []string{"channel"}),
		Voltage: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cellbench",
			Name:      "terminal_voltage",
			Help:      "Last commanded filtered terminal voltage, volts.",
		}, []string{"channel"}),
		Current: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cellbench",
			Name:      "measured_current",
			Help:      "Last measured current, amps, positive = discharge.",
		}, []string{"channel"}),
		ConsecutiveErrors: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cellbench",
			Name:      "consecutive_errors",
			Help:      "Count of successive failed measurement cycles.",
		}, []string{"channel"}),
		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cellbench",
			Name:      "scpi_commands_total",
			Help:      "SCPI commands sent, by channel and command verb; only VOLT writes are counted.",
		}, []string{"channel", "command"}),
		CutoffsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cellbench",
			Name:      "cutoffs_total",
			Help:      "Terminal cutoffs, by channel and reason.",
		}, []string{"channel", "reason"}),
		ChannelActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cellbench",
			Name:      "channel_active",
			Help:      "1 if the channel's Simulation Loop is still running, else 0.",
		}, []string{"channel"}),
	}
}

// NewForTest builds an unregistered Metrics backed by a private registry, so
// package tests don't collide with the process-global singleton.
func NewForTest() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		SoC:               factory.NewGaugeVec(prometheus.GaugeOpts{Name: "soc"}, []string{"channel"}),
		Voltage:           factory.NewGaugeVec(prometheus.GaugeOpts{Name: "voltage"}, []string{"channel"}),
		Current:           factory.NewGaugeVec(prometheus.GaugeOpts{Name: "current"}, []string{"channel"}),
		ConsecutiveErrors: factory.NewGaugeVec(prometheus.GaugeOpts{Name: "consecutive_errors"}, []string{"channel"}),
		CommandsTotal:     factory.NewCounterVec(prometheus.CounterOpts{Name: "commands_total"}, []string{"channel", "command"}),
		CutoffsTotal:      factory.NewCounterVec(prometheus.CounterOpts{Name: "cutoffs_total"}, []string{"channel", "reason"}),
		ChannelActive:     factory.NewGaugeVec(prometheus.GaugeOpts{Name: "channel_active"}, []string{"channel"}),
	}, reg
}
