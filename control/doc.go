// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging, runtime metrics and debug introspection layer
// shared by the loop, transport and adapter packages.
//
// Provides:
//   - Config loading from file and HMQ_ environment overrides (viper)
//   - Config file watching with change callbacks
//   - zap logger construction with an optional rotating file sink
//   - Prometheus collectors for adapter and transport activity
//   - State export and probe registration
package control
