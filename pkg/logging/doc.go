// Package logging is pylon's structured, subsystem-tagged logging front end.
//
// It wraps log/slog with a fixed CLI-mode handler selected once at startup via
// InitForCLI. Every component identifies itself with a subsystem string
// ("ModuleManager", "Exposure", "RpcManager", ...) so operators can filter by
// component in aggregated log output.
package logging
