// Package monitor is a terminal viewer for a running engine. It draws the
// car, its trail and the cones on a braille canvas next to a live state
// table, and drives the engine through admin commands.
package monitor
