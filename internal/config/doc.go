// Package config loads, normalizes, and validates narrate configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies NARRATE_* environment overrides.
// The Config type centralizes every knob the daemon and CLI need, so the
// synthesis worker, encoding profile, and storage backend are discovered in
// one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
