// Package logging configures slog for the daemon and CLI. It provides a
// console handler for interactive use, a JSON handler for log files, typed
// attribute helpers, and context-derived fields so every record carries the
// run, workflow, and step it belongs to.
package logging
