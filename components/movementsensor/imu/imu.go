// Package imu fuses raw 6-axis accelerometer/gyroscope readings into an
// absolute orientation estimate with a complementary filter.
package imu

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/primekit-robotics/primekit/components/movementsensor"
	"github.com/primekit-robotics/primekit/utils"
)

const (
	// alpha weights the gyro integration against the accelerometer tilt in
	// the complementary filter. High values trust the gyro short-term and
	// lean on the accelerometer only to cancel drift.
	alpha = 0.98

	accelCountsPerG  = 16384.0
	gyroCountsPerDPS = 131.0
	radiansToDegrees = 180.0 / math.Pi

	calibrationInterval = 20 * time.Millisecond

	// DefaultCalibrationSamples is how many readings Calibrate averages when
	// the caller has no preference.
	DefaultCalibrationSamples = 50
)

// SixAxis is the raw reading surface of a 6-axis inertial chip.
type SixAxis interface {
	RawAcceleration(ctx context.Context) (r3.Vector, error)
	RawAngularVelocity(ctx context.Context) (r3.Vector, error)
}

// Estimator turns raw inertial samples into roll/pitch/yaw in degrees. Roll
// and pitch blend gyro integration with the gravity vector; yaw is gyro-only
// and drifts, so callers re-zero it before maneuvers that depend on heading.
type Estimator struct {
	dev    SixAxis
	logger golog.Logger
	clock  clock.Clock

	mu          sync.Mutex
	accelOffset r3.Vector
	gyroOffset  r3.Vector
	calibrated  bool
	roll        float64
	pitch       float64
	yaw         float64
	lastUpdate  int64 // clock nanoseconds
	hasLast     bool
}

// New returns an estimator reading from the given device.
func New(dev SixAxis, logger golog.Logger) *Estimator {
	return newEstimator(dev, logger, clock.New())
}

func newEstimator(dev SixAxis, logger golog.Logger, c clock.Clock) *Estimator {
	return &Estimator{dev: dev, logger: logger, clock: c}
}

// Calibrate averages the given number of samples, taken with the robot held
// still and level, into per-axis offsets that subsequent updates subtract
// out. It also discards any previous orientation state.
func (e *Estimator) Calibrate(ctx context.Context, samples int) error {
	if samples <= 0 {
		samples = DefaultCalibrationSamples
	}
	e.logger.Infof("calibrating inertial sensor with %d samples", samples)

	var accelSum, gyroSum r3.Vector
	for i := 0; i < samples; i++ {
		accel, err := e.dev.RawAcceleration(ctx)
		if err != nil {
			return errors.Wrap(err, "calibration read failed")
		}
		gyro, err := e.dev.RawAngularVelocity(ctx)
		if err != nil {
			return errors.Wrap(err, "calibration read failed")
		}
		accelSum = accelSum.Add(accel)
		gyroSum = gyroSum.Add(gyro)
		if !utils.WaitFor(ctx, e.clock, calibrationInterval) {
			return ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.accelOffset = accelSum.Mul(1 / float64(samples))
	e.gyroOffset = gyroSum.Mul(1 / float64(samples))
	e.calibrated = true
	e.roll, e.pitch, e.yaw = 0, 0, 0
	e.hasLast = false
	return nil
}

// Update ingests one sample pair and returns the new estimate.
func (e *Estimator) Update(ctx context.Context) (movementsensor.Orientation, error) {
	accelRaw, err := e.dev.RawAcceleration(ctx)
	if err != nil {
		return movementsensor.Orientation{}, errors.Wrap(err, "cannot read acceleration")
	}
	gyroRaw, err := e.dev.RawAngularVelocity(ctx)
	if err != nil {
		return movementsensor.Orientation{}, errors.Wrap(err, "cannot read angular velocity")
	}
	now := e.clock.Now().UnixNano()

	e.mu.Lock()
	defer e.mu.Unlock()

	accel := accelRaw.Sub(e.accelOffset).Mul(1 / accelCountsPerG)
	gyro := gyroRaw.Sub(e.gyroOffset).Mul(1 / gyroCountsPerDPS)

	var dt float64
	if e.hasLast {
		dt = float64(now-e.lastUpdate) / float64(1e9)
	}
	e.lastUpdate = now
	e.hasLast = true

	accelPitch := math.Atan2(-accel.X, math.Hypot(accel.Y, accel.Z)) * radiansToDegrees
	accelRoll := math.Atan2(accel.Y, math.Hypot(accel.X, accel.Z)) * radiansToDegrees

	e.roll = alpha*(e.roll+gyro.X*dt) + (1-alpha)*accelRoll
	e.pitch = alpha*(e.pitch+gyro.Y*dt) + (1-alpha)*accelPitch
	e.yaw += gyro.Z * dt

	return movementsensor.Orientation{Roll: e.roll, Pitch: e.pitch, Yaw: e.yaw}, nil
}

// Yaw returns the latest heading estimate in degrees.
func (e *Estimator) Yaw() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.yaw
}

// ResetYaw re-zeroes the heading, leaving roll and pitch alone.
func (e *Estimator) ResetYaw() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.yaw = 0
}

// Orientation returns the latest estimate without taking a new sample.
func (e *Estimator) Orientation() movementsensor.Orientation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return movementsensor.Orientation{Roll: e.roll, Pitch: e.pitch, Yaw: e.yaw}
}

// Calibrated reports whether offsets have been measured.
func (e *Estimator) Calibrated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calibrated
}

var _ movementsensor.OrientationSource = (*Estimator)(nil)
