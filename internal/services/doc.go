// Package services defines shared utilities consumed by the synthesis channel,
// the media tooling wrappers, and the assembly pipeline.
//
// Key responsibilities:
//   - Context helpers that stamp project IDs, item IDs, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (worker start, timeout, media tool) with errors.Is.
//   - A CommandRunner abstraction that makes external process execution
//     testable.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability) stays uniform.
package services
