// Package movementsensor defines the orientation interface the drivetrain
// consumes. The mpu6050 subpackage talks to the physical chip; the imu
// subpackage fuses its raw readings into roll, pitch, and yaw.
package movementsensor

import "context"

// Orientation is a set of Euler angles in degrees.
type Orientation struct {
	Roll  float64
	Pitch float64
	Yaw   float64
}

// OrientationSource produces an absolute orientation estimate. Update must be
// called periodically; the other methods report the latest estimate.
type OrientationSource interface {
	// Update ingests a fresh sensor sample and returns the new estimate.
	Update(ctx context.Context) (Orientation, error)

	// Yaw returns the latest heading estimate in degrees.
	Yaw() float64

	// ResetYaw re-zeroes the heading, leaving roll and pitch alone.
	ResetYaw()

	// Orientation returns the latest full estimate.
	Orientation() Orientation
}
