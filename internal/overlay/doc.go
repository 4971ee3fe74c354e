// Package overlay implements configuration overlays: YAML documents that
// narrow or widen a model's channel ranges and supply defaults.
//
// An overlay never writes model metadata. The engine keeps a base [Bounds]
// captured at model load and an active copy rebuilt by [Apply].
package overlay
