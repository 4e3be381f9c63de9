// Package logging provides leveled logging for the media server.
// The level is controlled by the LOG_LEVEL environment variable
// (debug, info, warn, error) or the DEBUG shortcut.
package logging
