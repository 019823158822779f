// Package logs reads the daemon and synthesis worker log files for the
// `narrate logs` command.
//
// Reads hold at most the requested number of lines in memory. Follow mode
// polls the file for appended lines and starts over from the beginning when
// the file shrinks, which happens when the worker log is truncated or a new
// daemon run replaces the narrate.log pointer.
package logs
