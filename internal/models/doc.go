// Package models provides the compiled-in vehicle dynamics models.
//
// Each model implements [model.Instance] and integrates its equations of
// motion as a [dynamo.System] with the RK4 stepper:
//
//   - [KinematicSingleTrack]: kinematic bicycle with steering and drivetrain
//     delays and an angle or rate steering input mode
//   - [DynamicSingleTrack]: linear-tyre bicycle with mass and yaw inertia
//
// [Register] installs both into a [model.Registry].
package models
