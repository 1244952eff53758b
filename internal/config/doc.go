// Package config loads and validates the TOML configuration shared by the
// recap daemon and CLI.
package config
