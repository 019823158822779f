// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Client: runs ffprobe through a services.CommandRunner
//   - Result: parsed ffprobe output containing streams and format metadata
//
// Duration reads only format=duration, which is all the assembly pipeline
// needs; Inspect returns the full stream list for diagnostics.
package ffprobe
