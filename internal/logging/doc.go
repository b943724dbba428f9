// Package logging configures the process-wide slog logger and the
// structured attribute conventions shared by every component.
package logging
