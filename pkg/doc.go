// Package pkg provides shared utilities for the softxhci host controller engine.
//
// This package contains common functionality used across the ring, codec and
// channel packages, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for USB and controller protocol errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with engine-specific context:
//
//	pkg.ConfigureLogging(os.Stderr, pkg.LogConfig{Level: slog.LevelDebug})
//	pkg.LogInfo(pkg.ComponentEvent, "event ring drained", "count", 4)
//
// [LogConfig] decodes from YAML, so a program can keep it next to the
// controller parameters. Records below the level are dropped before their
// attributes are assembled.
//
// # Errors
//
// Common USB errors are defined as sentinel values. Completion codes posted by
// the controller map onto them, so callers can match a failed command or
// transfer without decoding the code themselves:
//
//	if errors.Is(err, pkg.ErrStall) {
//	    // Reset the endpoint
//	}
package pkg
