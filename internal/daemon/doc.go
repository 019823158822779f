// Package daemon coordinates the long-running narrate process.
//
// It wires configuration, the project store, the workflow manager and the
// status hub into a single lifecycle with flock-based locking to prevent
// multiple instances, and serves the HTTP API the CLI and other clients use.
// Start-up also fails runs a previous process left behind, sweeps stale run
// directories and orphaned media, and logs preflight and dependency checks.
//
// Keep orchestration logic here: synthesis and assembly live in their own
// packages while the daemon focuses on startup, shutdown and the request
// surface.
package daemon
