// Package model defines the capability boundary between the simulation
// engine and a dynamics model.
//
// A model is created by a [Factory] and exposes a [Descriptor] whose value
// slices the engine reads and writes between calls to [Instance.Step]. The
// [Registry] holds compiled-in models; the [Catalog] resolves references to
// either a registered model or a shared library.
package model
