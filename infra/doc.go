// Package infra holds the adapters that connect the simulation to the
// outside world: storage backends, broadcast transports, metric exporters,
// logging and error monitoring. Each subpackage registers itself with the
// matching core factory in init.
package infra
