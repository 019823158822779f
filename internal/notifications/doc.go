// Package notifications delivers job events to ntfy.
//
// NewService returns a no-op Service when no topic is configured. Each event
// kind can be switched off individually in config.toml.
package notifications
