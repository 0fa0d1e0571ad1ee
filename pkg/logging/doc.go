// Package logging provides a structured logging system for the FFI host
// daemon, built on Go's standard log/slog package.
//
// Every call site names a subsystem ("Manager", "Loader", "Transport",
// "Daemon", ...) so log lines can be filtered by the
// component that produced them. The logger is configured once at daemon
// startup via InitForCLI and is safe for concurrent use from the worker
// pool, the transport's connection goroutines, and the CLI commands.
//
// Install and uninstall additionally emit an Audit event: a single
// structured INFO line carrying the outcome, the service name, and the
// directory involved. Because those operations load arbitrary native or
// scripted code and stage files on disk, audit lines are meant to be easy
// to grep out of an otherwise noisy debug log.
package logging
