// Package plugin loads dynamics models from shared libraries exporting the
// car_model C ABI.
//
// A library must export six symbols:
//
//	car_model_create(dt) -> handle
//	car_model_destroy(handle)
//	car_model_get_descriptor(handle) -> descriptor
//	car_model_get_name() -> const char*
//	car_model_reset(handle, dt)
//	car_model_step(handle, dt)
//
// [Open] never fails outright; it returns a [Library] whose [Library.Valid]
// reports whether every symbol resolved. Instances created from a library
// must be destroyed before [Library.Close] releases it.
package plugin
