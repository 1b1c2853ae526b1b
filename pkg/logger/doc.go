// Package logger builds the structured slog logger shared by the dev server.
// Development output is human-oriented text with short timestamps; prod output
// is JSON so it can be shipped to a collector.
package logger
