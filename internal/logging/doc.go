// Package logging configures structured slog output for reposync.
//
// Commands log warnings to stderr by default. With --debug, or when running
// the HTTP server, JSON logs are also written to ~/.reposync/logs/ with
// size-based rotation and can be read back with `reposync logs`.
package logging
