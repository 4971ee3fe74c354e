// Package scene holds the published simulation state.
//
// The simulation loop is the only writer. Each [Store.Publish] installs a
// fresh deep copy, so a [Store.Snapshot] never observes a partially written
// [Scene].
package scene
