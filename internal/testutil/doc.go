// Package testutil provides testing utilities for the tenant-oauth packages:
// a controllable clock, credential fixtures and helpers for reading
// OpenTelemetry metrics collected by a ManualReader.
package testutil
