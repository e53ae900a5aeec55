// Package robot ties the components together behind the command surface a
// program drives: per-port motor commands, pair commands, orientation, and
// the reflectance sensor.
package robot

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/primekit-robotics/primekit/components/board"
	"github.com/primekit-robotics/primekit/components/colorsensor"
	"github.com/primekit-robotics/primekit/components/motor"
	"github.com/primekit-robotics/primekit/components/motorpair"
	"github.com/primekit-robotics/primekit/components/movementsensor"
	"github.com/primekit-robotics/primekit/config"
)

// Robot is a board plus the component registries built over it.
type Robot struct {
	logger golog.Logger
	cfg    *config.Config
	board  board.Board

	motors      *motor.Registry
	pairs       *motorpair.Registry
	orientation movementsensor.OrientationSource
	color       *colorsensor.Sensor
	startButton board.DigitalInterrupt
}

// Option customizes robot construction.
type Option func(*Robot)

// WithOrientation attaches an orientation source, enabling yaw-corrected
// driving and heading-based spins.
func WithOrientation(src movementsensor.OrientationSource) Option {
	return func(r *Robot) {
		r.orientation = src
	}
}

// New builds a robot over the given board. The board stays owned by the
// caller and is not closed with the robot.
func New(ctx context.Context, b board.Board, cfg *config.Config, logger golog.Logger, opts ...Option) (*Robot, error) {
	if err := cfg.Validate("robot"); err != nil {
		return nil, err
	}
	r := &Robot{
		logger: logger,
		cfg:    cfg,
		board:  b,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.motors = motor.NewRegistry(b, cfg, logger.Named("motors"))
	r.pairs = motorpair.NewRegistry(r.motors, r.orientation, cfg.Tuning, logger.Named("pairs"))

	if cfg.ColorSensorPin != "" {
		analog, ok := b.AnalogByName(cfg.ColorSensorPin)
		if !ok {
			return nil, errors.Errorf("color sensor pin %q not found on board", cfg.ColorSensorPin)
		}
		r.color = colorsensor.NewSensor(analog, logger.Named("colorsensor"))
	}
	if cfg.StartButtonPin != "" {
		interrupt, ok := b.DigitalInterruptByName(cfg.StartButtonPin)
		if !ok {
			return nil, errors.Errorf("start button pin %q not found on board", cfg.StartButtonPin)
		}
		r.startButton = interrupt
	}
	return r, nil
}

// motorByPort resolves the motor on a port, creating it on first use.
func (r *Robot) motorByPort(ctx context.Context, port string) (*motor.Motor, error) {
	return r.motors.Get(ctx, port)
}

// Run spins a motor port at the given velocity until stopped.
func (r *Robot) Run(ctx context.Context, port string, velocityDPS float64) error {
	m, err := r.motorByPort(ctx, port)
	if err != nil {
		return err
	}
	return m.Run(ctx, velocityDPS)
}

// RunForDegrees turns a motor port by the given amount.
func (r *Robot) RunForDegrees(ctx context.Context, port string, degrees, velocityDPS float64, blocking bool) error {
	m, err := r.motorByPort(ctx, port)
	if err != nil {
		return err
	}
	return m.RunForDegrees(ctx, degrees, velocityDPS, blocking)
}

// RunForTime spins a motor port for the given duration, stopping it after
// unless stopAfter is unset.
func (r *Robot) RunForTime(ctx context.Context, port string, velocityDPS float64, d time.Duration, stopAfter bool) error {
	m, err := r.motorByPort(ctx, port)
	if err != nil {
		return err
	}
	return m.RunForTime(ctx, velocityDPS, d, stopAfter)
}

// RunToPosition turns a motor port to an absolute position.
func (r *Robot) RunToPosition(ctx context.Context, port string, position, velocityDPS float64, blocking bool) error {
	m, err := r.motorByPort(ctx, port)
	if err != nil {
		return err
	}
	return m.RunToPosition(ctx, position, velocityDPS, blocking)
}

// Stop halts a motor port.
func (r *Robot) Stop(ctx context.Context, port string) error {
	m, err := r.motorByPort(ctx, port)
	if err != nil {
		return err
	}
	return m.Stop(ctx)
}

// Position returns a motor port's accumulated position in degrees.
func (r *Robot) Position(ctx context.Context, port string) (float64, error) {
	m, err := r.motorByPort(ctx, port)
	if err != nil {
		return 0, err
	}
	return m.Position(), nil
}

// Velocity returns a motor port's measured velocity in degrees per second.
func (r *Robot) Velocity(ctx context.Context, port string) (float64, error) {
	m, err := r.motorByPort(ctx, port)
	if err != nil {
		return 0, err
	}
	return m.Velocity(), nil
}

// ResetPosition overwrites a motor port's position estimate.
func (r *Robot) ResetPosition(ctx context.Context, port string, positionDeg float64) error {
	m, err := r.motorByPort(ctx, port)
	if err != nil {
		return err
	}
	m.ResetPosition(positionDeg)
	return nil
}

// Pair binds two motor ports as a drivetrain under the given identifier.
func (r *Robot) Pair(ctx context.Context, id int, leftPort, rightPort string) error {
	_, err := r.pairs.Pair(ctx, id, leftPort, rightPort)
	return err
}

// Unpair releases a pair identifier.
func (r *Robot) Unpair(ctx context.Context, id int) error {
	return r.pairs.Unpair(ctx, id)
}

// Move drives a pair with the given steering until stopped.
func (r *Robot) Move(ctx context.Context, id int, steering, velocityDPS float64) error {
	p, err := r.pairs.Get(id)
	if err != nil {
		return err
	}
	return p.Move(ctx, steering, velocityDPS)
}

// MoveForDegrees drives a pair until a wheel covers the given degrees.
func (r *Robot) MoveForDegrees(ctx context.Context, id int, degrees, steering, velocityDPS float64) error {
	p, err := r.pairs.Get(id)
	if err != nil {
		return err
	}
	return p.MoveForDegrees(ctx, degrees, steering, velocityDPS)
}

// MoveForTime drives a pair for the given duration.
func (r *Robot) MoveForTime(ctx context.Context, id int, d time.Duration, steering, velocityDPS float64) error {
	p, err := r.pairs.Get(id)
	if err != nil {
		return err
	}
	return p.MoveForTime(ctx, d, steering, velocityDPS)
}

// MoveTank drives a pair's wheels at independent velocities.
func (r *Robot) MoveTank(ctx context.Context, id int, leftDPS, rightDPS float64) error {
	p, err := r.pairs.Get(id)
	if err != nil {
		return err
	}
	return p.MoveTank(ctx, leftDPS, rightDPS)
}

// MoveTankForDegrees spins a pair by the given heading change.
func (r *Robot) MoveTankForDegrees(ctx context.Context, id int, degrees, leftDPS, rightDPS float64) error {
	p, err := r.pairs.Get(id)
	if err != nil {
		return err
	}
	return p.MoveTankForDegrees(ctx, degrees, leftDPS, rightDPS)
}

// MoveTankForTime drives a pair's wheels independently for the given
// duration.
func (r *Robot) MoveTankForTime(ctx context.Context, id int, d time.Duration, leftDPS, rightDPS float64) error {
	p, err := r.pairs.Get(id)
	if err != nil {
		return err
	}
	return p.MoveTankForTime(ctx, d, leftDPS, rightDPS)
}

// StopPair halts both motors of a pair.
func (r *Robot) StopPair(ctx context.Context, id int) error {
	p, err := r.pairs.Get(id)
	if err != nil {
		return err
	}
	return p.Stop(ctx)
}

// StopAll halts every motor and pair.
func (r *Robot) StopAll(ctx context.Context) error {
	return multierr.Combine(r.pairs.StopAll(ctx), r.motors.StopAll(ctx))
}

// Yaw samples the orientation source and returns the heading in degrees.
func (r *Robot) Yaw(ctx context.Context) (float64, error) {
	if r.orientation == nil {
		return 0, errors.New("no orientation sensor configured")
	}
	if _, err := r.orientation.Update(ctx); err != nil {
		return 0, err
	}
	return r.orientation.Yaw(), nil
}

// ResetYaw re-zeroes the heading reference.
func (r *Robot) ResetYaw(ctx context.Context) error {
	if r.orientation == nil {
		return errors.New("no orientation sensor configured")
	}
	r.orientation.ResetYaw()
	return nil
}

// Orientation samples the orientation source and returns roll, pitch, and
// yaw.
func (r *Robot) Orientation(ctx context.Context) (movementsensor.Orientation, error) {
	if r.orientation == nil {
		return movementsensor.Orientation{}, errors.New("no orientation sensor configured")
	}
	return r.orientation.Update(ctx)
}

// Reflection reads the reflectance sensor on a 0-100 scale.
func (r *Robot) Reflection(ctx context.Context) (int, error) {
	if r.color == nil {
		return 0, errors.New("no color sensor configured")
	}
	return r.color.Reflection(ctx)
}

// WaitForStart blocks until the start button is pressed or the context ends.
func (r *Robot) WaitForStart(ctx context.Context) error {
	if r.startButton == nil {
		return errors.New("no start button configured")
	}
	ticks := make(chan board.Tick, 8)
	r.startButton.AddCallback(ticks)
	defer r.startButton.RemoveCallback(ticks)

	r.logger.Info("waiting for start button")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-ticks:
			if tick.High {
				return nil
			}
		}
	}
}

// Close stops everything and shuts the motors down. The board itself is left
// open for its owner.
func (r *Robot) Close(ctx context.Context) error {
	return multierr.Combine(r.pairs.StopAll(ctx), r.motors.Close(ctx))
}
