// Package logging gives every component the same prefixed log lines, so
// the play loop's console output reads consistently across packages.
package logging

import "log"

// Info reports routine, expected activity (a segue firing, a station
// starting).
func Info(format string, args ...interface{}) {
	log.Printf("📻 "+format, args...)
}

// Warn reports a recoverable failure: the program keeps running on
// stale or default state.
func Warn(format string, args ...interface{}) {
	log.Printf("⚠️  "+format, args...)
}

// Error reports a failure the caller could not recover from locally.
func Error(format string, args ...interface{}) {
	log.Printf("❌ "+format, args...)
}

// NowPlaying announces a segment's metadata as a "### song" console
// line.
func NowPlaying(song string) {
	log.Printf("### %s", song)
}
