// Package motorpair coordinates two motor ports as a differential drive.
// The right motor is mounted mirrored, so every command to it is negated. An
// optional orientation source enables straight-line yaw correction and
// heading-based spins.
package motorpair

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/primekit-robotics/primekit/components/motor"
	"github.com/primekit-robotics/primekit/components/movementsensor"
	"github.com/primekit-robotics/primekit/config"
	"github.com/primekit-robotics/primekit/utils"
)

const (
	correctionPollInterval = 10 * time.Millisecond

	// Proportional yaw hold for straight driving.
	yawCorrectionGain = 10.0
	maxYawCorrection  = 50.0
	yawDeadbandDeg    = 1.0

	// Heading-based spins finish inside this tolerance or give up after the
	// timeout.
	spinToleranceDeg = 3.0
	spinTimeout      = 10 * time.Second
)

// Pair is two motors driven as one drivetrain.
type Pair struct {
	id          int
	left, right *motor.Motor
	orientation movementsensor.OrientationSource // nil when the robot has no inertial sensor
	tuning      config.Tuning
	logger      golog.Logger
	clock       clock.Clock

	defaultVelocity atomic.Float64
	moving          atomic.Bool
}

func newPair(
	id int,
	left, right *motor.Motor,
	orientation movementsensor.OrientationSource,
	tuning config.Tuning,
	logger golog.Logger,
	clk clock.Clock,
) *Pair {
	p := &Pair{
		id:          id,
		left:        left,
		right:       right,
		orientation: orientation,
		tuning:      tuning,
		logger:      logger,
		clock:       clk,
	}
	p.defaultVelocity.Store(tuning.DefaultSpeedDPS)
	return p
}

// ID returns the pair's identifier.
func (p *Pair) ID() int {
	return p.id
}

// DefaultVelocity returns the velocity used when a move passes zero.
func (p *Pair) DefaultVelocity() float64 {
	return p.defaultVelocity.Load()
}

// SetDefaultVelocity changes the velocity used when a move passes zero.
func (p *Pair) SetDefaultVelocity(velocityDPS float64) {
	p.defaultVelocity.Store(velocityDPS)
}

// mixSteering splits a velocity across the two wheels. Steering in [-100,
// 100] scales the inner wheel down linearly: +100 pivots on the right wheel,
// -100 on the left. Both results are logical wheel velocities; the caller
// negates the right one for the mirrored motor.
func mixSteering(steering, velocity float64) (left, right float64) {
	switch {
	case steering > 0:
		return velocity, velocity * (1 - steering/100)
	case steering < 0:
		return velocity * (1 + steering/100), velocity
	default:
		return velocity, velocity
	}
}

func (p *Pair) resolveVelocity(velocityDPS float64) float64 {
	if velocityDPS == 0 {
		return p.defaultVelocity.Load()
	}
	return velocityDPS
}

// interruptInFlight stops the motors if a previous pair move is still
// driving them.
func (p *Pair) interruptInFlight(ctx context.Context) {
	if p.moving.Swap(false) {
		if err := p.stopMotors(ctx); err != nil {
			p.logger.Debugw("error interrupting previous move", "pair", p.id, "error", err)
		}
	}
}

func (p *Pair) stopMotors(ctx context.Context) error {
	return multierr.Combine(p.left.Stop(ctx), p.right.Stop(ctx))
}

// Stop halts both motors.
func (p *Pair) Stop(ctx context.Context) error {
	p.moving.Store(false)
	return p.stopMotors(ctx)
}

// Move drives with the given steering until stopped. Zero velocity means the
// pair's default.
func (p *Pair) Move(ctx context.Context, steering, velocityDPS float64) error {
	p.interruptInFlight(ctx)
	steering = utils.Clamp(steering, -100, 100)
	velocity := p.resolveVelocity(velocityDPS)
	leftV, rightV := mixSteering(steering, velocity)

	err := multierr.Combine(p.left.Run(ctx, leftV), p.right.Run(ctx, -rightV))
	if err != nil {
		return err
	}
	p.moving.Store(true)
	return nil
}

// MoveForDegrees drives until a wheel has turned the given number of
// degrees. Steering shortens the inner wheel's target distance while both
// wheels run at the full commanded velocity, so the move ends on the first
// wheel to reach its target. At full steering the inner wheel's target is
// its current position, which ends the move immediately.
func (p *Pair) MoveForDegrees(ctx context.Context, degrees, steering, velocityDPS float64) error {
	p.interruptInFlight(ctx)
	steering = utils.Clamp(steering, -100, 100)
	velocity := p.resolveVelocity(velocityDPS)

	leftDeg, rightDeg := mixSteering(steering, degrees)

	targetYaw := p.initYawReference(ctx, steering)

	targetLeft := p.left.Position() + leftDeg
	targetRight := p.right.Position() - rightDeg

	// Match the velocity sign to the commanded degrees so negative moves
	// drive backwards.
	if degrees < 0 {
		velocity = -math.Abs(velocity)
	}
	err := multierr.Combine(p.left.Run(ctx, velocity), p.right.Run(ctx, -velocity))
	if err != nil {
		return multierr.Combine(err, p.stopMotors(ctx))
	}
	p.moving.Store(true)

	for {
		leftDone := math.Abs(p.left.Position()-targetLeft) <= p.tuning.PositionToleranceDeg
		rightDone := math.Abs(p.right.Position()-targetRight) <= p.tuning.PositionToleranceDeg
		if leftDone || rightDone {
			break
		}
		p.applyYawCorrection(ctx, steering, targetYaw, velocity, -velocity)
		if !utils.WaitFor(ctx, p.clock, correctionPollInterval) {
			return multierr.Combine(ctx.Err(), p.Stop(ctx))
		}
	}
	return p.Stop(ctx)
}

// MoveForDistance drives for a straight-line distance in centimeters.
func (p *Pair) MoveForDistance(ctx context.Context, distanceCM, steering, velocityDPS float64) error {
	degrees := distanceCM / p.tuning.WheelCircumferenceCM() * 360
	return p.MoveForDegrees(ctx, degrees, steering, velocityDPS)
}

// MoveForTime drives for the given duration and then stops.
func (p *Pair) MoveForTime(ctx context.Context, d time.Duration, steering, velocityDPS float64) error {
	steering = utils.Clamp(steering, -100, 100)
	velocity := p.resolveVelocity(velocityDPS)
	leftV, rightV := mixSteering(steering, velocity)

	targetYaw := p.initYawReference(ctx, steering)

	if err := p.Move(ctx, steering, velocity); err != nil {
		return err
	}

	deadline := p.clock.Now().Add(d)
	for p.clock.Now().Before(deadline) {
		p.applyYawCorrection(ctx, steering, targetYaw, leftV, -rightV)
		if !utils.WaitFor(ctx, p.clock, correctionPollInterval) {
			return multierr.Combine(ctx.Err(), p.Stop(ctx))
		}
	}
	return p.Stop(ctx)
}

// initYawReference re-zeroes the heading before a straight move so drift
// corrections have a reference. Returns the target heading, which is zero
// after a successful reset. Sensor trouble here just disables correction for
// the move.
func (p *Pair) initYawReference(ctx context.Context, steering float64) float64 {
	if p.orientation == nil || steering != 0 {
		return 0
	}
	if _, err := p.orientation.Update(ctx); err != nil {
		p.logger.Debugw("cannot read orientation before move", "pair", p.id, "error", err)
		return 0
	}
	p.orientation.ResetYaw()
	return 0
}

// applyYawCorrection nudges both motors in the same shaft direction to hold
// the target heading, reissuing velocity commands. Only straight moves are
// corrected. leftBase and rightBase are the motor-frame velocities currently
// commanded.
func (p *Pair) applyYawCorrection(ctx context.Context, steering, targetYaw, leftBase, rightBase float64) {
	if p.orientation == nil || steering != 0 {
		return
	}
	if _, err := p.orientation.Update(ctx); err != nil {
		p.logger.Debugw("cannot read orientation", "pair", p.id, "error", err)
		return
	}
	yawErr := utils.Normalize180(targetYaw - p.orientation.Yaw())
	if math.Abs(yawErr) <= yawDeadbandDeg {
		return
	}
	correction := utils.Clamp(yawErr*yawCorrectionGain, -maxYawCorrection, maxYawCorrection)
	if err := p.left.Run(ctx, leftBase+correction); err != nil {
		p.logger.Debugw("cannot correct left motor", "pair", p.id, "error", err)
	}
	if err := p.right.Run(ctx, rightBase+correction); err != nil {
		p.logger.Debugw("cannot correct right motor", "pair", p.id, "error", err)
	}
}

// MoveTank drives the wheels at independent velocities until stopped.
func (p *Pair) MoveTank(ctx context.Context, leftDPS, rightDPS float64) error {
	p.interruptInFlight(ctx)
	err := multierr.Combine(p.left.Run(ctx, leftDPS), p.right.Run(ctx, -rightDPS))
	if err != nil {
		return err
	}
	p.moving.Store(true)
	return nil
}

// MoveTankForTime drives the wheels at independent velocities for the given
// duration and then stops.
func (p *Pair) MoveTankForTime(ctx context.Context, d time.Duration, leftDPS, rightDPS float64) error {
	if err := p.MoveTank(ctx, leftDPS, rightDPS); err != nil {
		return err
	}
	if !utils.WaitFor(ctx, p.clock, d) {
		return multierr.Combine(ctx.Err(), p.Stop(ctx))
	}
	return p.Stop(ctx)
}

// MoveTankForDegrees spins the robot by the given heading change. With an
// orientation source it drives until the measured heading moves that far,
// giving up after a timeout if the sensor never agrees; without one it falls
// back to turning the wheels by the equivalent arc.
func (p *Pair) MoveTankForDegrees(ctx context.Context, degrees, leftDPS, rightDPS float64) error {
	if p.orientation == nil {
		p.logger.Debugw("no orientation sensor, spinning by shaft degrees", "pair", p.id)
		return p.moveTankForWheelDegrees(ctx, degrees, leftDPS, rightDPS)
	}
	p.interruptInFlight(ctx)

	if _, err := p.orientation.Update(ctx); err != nil {
		p.logger.Debugw("cannot read orientation before spin", "pair", p.id, "error", err)
	}
	targetYaw := p.orientation.Yaw() + degrees

	err := multierr.Combine(p.left.Run(ctx, leftDPS), p.right.Run(ctx, -rightDPS))
	if err != nil {
		return multierr.Combine(err, p.stopMotors(ctx))
	}
	p.moving.Store(true)

	deadline := p.clock.Now().Add(spinTimeout)
	for {
		if _, err := p.orientation.Update(ctx); err != nil {
			p.logger.Debugw("cannot read orientation during spin", "pair", p.id, "error", err)
		} else {
			yawErr := utils.Normalize180(targetYaw - p.orientation.Yaw())
			if math.Abs(yawErr) <= spinToleranceDeg {
				break
			}
		}
		if p.clock.Now().After(deadline) {
			p.logger.Warnw("spin timed out before reaching heading", "pair", p.id, "target", targetYaw)
			break
		}
		if !utils.WaitFor(ctx, p.clock, correctionPollInterval) {
			return multierr.Combine(ctx.Err(), p.Stop(ctx))
		}
	}
	return p.Stop(ctx)
}

// moveTankForWheelDegrees approximates a spin by turning each shaft the
// commanded number of degrees. Both shafts turn the same way, which turns
// the mirrored wheels in opposite directions and pivots in place.
func (p *Pair) moveTankForWheelDegrees(ctx context.Context, degrees, leftDPS, rightDPS float64) error {
	p.interruptInFlight(ctx)

	err := multierr.Combine(
		p.left.RunForDegrees(ctx, degrees, leftDPS, false),
		p.right.RunForDegrees(ctx, degrees, rightDPS, false),
	)
	if err != nil {
		return multierr.Combine(err, p.stopMotors(ctx))
	}
	p.moving.Store(true)

	for p.left.IsRunning() || p.right.IsRunning() {
		if !utils.WaitFor(ctx, p.clock, correctionPollInterval) {
			return multierr.Combine(ctx.Err(), p.Stop(ctx))
		}
	}
	return p.Stop(ctx)
}

// Yaw samples the orientation source and returns the heading. It returns
// zero without error when the robot has no inertial sensor.
func (p *Pair) Yaw(ctx context.Context) (float64, error) {
	if p.orientation == nil {
		return 0, nil
	}
	if _, err := p.orientation.Update(ctx); err != nil {
		return 0, err
	}
	return p.orientation.Yaw(), nil
}

// ResetYaw re-zeroes the heading reference.
func (p *Pair) ResetYaw() {
	if p.orientation != nil {
		p.orientation.ResetYaw()
	}
}

// Orientation samples the orientation source and returns the full estimate.
func (p *Pair) Orientation(ctx context.Context) (movementsensor.Orientation, error) {
	if p.orientation == nil {
		return movementsensor.Orientation{}, nil
	}
	return p.orientation.Update(ctx)
}
