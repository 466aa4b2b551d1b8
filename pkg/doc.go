// Package pkg provides shared utilities for the softecm network bridge.
//
// This package contains functionality shared by the endpoint driver, the
// CDC-ECM class handler and the network bridge, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for the bridge error taxonomy
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentBridge, "link up", "mac", nif.HardwareAddr)
//
// Code running in interrupt context logs at debug level only.
//
// # Errors
//
// Errors are sentinel values checked with [errors.Is]:
//
//	if errors.Is(err, pkg.ErrBusy) {
//	    // transmit buffer still owned by hardware, retry later
//	}
package pkg
