// Package metrics defines the recorder interfaces used by the simulation to
// report ride transitions, surge flips, geofence alerts and fleet snapshots.
// Sinks like PromSink and InfluxSink live in infra/metrics and register
// themselves in the factory; NewMetricsSink returns a MultiSink automatically
// when several sinks are configured.
package metrics
