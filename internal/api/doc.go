// Package api defines wire-format types, converters and the HTTP client for
// the narrate daemon API. It translates store and workflow models into
// transport-friendly DTOs the CLI can render without coupling to internal
// types.
//
// # Key Types
//
// Project/Item: transport representation of a project with its job status
// and of one narrated item with media readiness flags.
//
// JobStatus: state, progress, message and error of a project's video job.
//
// SynthesisResponse: outcome of a synthesis call. Worker failures are carried
// in the Error field of a successful HTTP response.
//
// DaemonStatus/DoctorReport: aggregated runtime information, dependency
// availability and preflight checks.
//
// # Client
//
// Client wraps the HTTP surface with typed methods. Non-2xx responses decode
// into *Error, which keeps the status code so callers can branch on it.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Job states are exposed as lowercase strings.
// Timestamps use RFC3339 with milliseconds.
package api
