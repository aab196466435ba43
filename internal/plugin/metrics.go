package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Status labels for command invocations.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// PluginsLoaded is the number of plugins currently loaded.
var PluginsLoaded = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "cardinal_plugins_loaded",
		Help: "Number of plugins currently loaded",
	},
)

// PluginReloads counts successful reloads.
var PluginReloads = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "cardinal_plugin_reloads_total",
		Help: "Total number of plugin reloads",
	},
)

// PluginLoadFailures counts failed loads by plugin.
var PluginLoadFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cardinal_plugin_load_failures_total",
		Help: "Total number of failed plugin loads",
	},
	[]string{"plugin"},
)

// CommandInvocations counts command and regex handler calls.
var CommandInvocations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cardinal_command_invocations_total",
		Help: "Total number of command handler invocations",
	},
	[]string{"plugin", "status"},
)

// RegisterMetrics registers plugin package metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(PluginsLoaded)
	reg.MustRegister(PluginReloads)
	reg.MustRegister(PluginLoadFailures)
	reg.MustRegister(CommandInvocations)
}
