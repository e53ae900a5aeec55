// Package motor drives a single continuous-rotation servo with pulse-count
// feedback from a one-wire encoder. Velocity commands map to pulse widths;
// position commands run a background control loop against the encoder.
package motor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/primekit-robotics/primekit/components/board"
	"github.com/primekit-robotics/primekit/config"
	primekitutils "github.com/primekit-robotics/primekit/utils"
)

const (
	// A standard hobby servo protocol: 1500us is stopped, and each percent of
	// power moves the pulse 5us toward one of the 1000us/2000us endpoints.
	stopPulseWidthUs = 1500.0
	minPulseWidthUs  = 1000.0
	maxPulseWidthUs  = 2000.0
	pulseWidthPerPct = 5.0

	pwmPeriodUs = 20000.0
	pwmFreqHz   = 50

	// maxTimerSlots bounds how many ports can run position-control loops at
	// once. Matches the four hardware timers of the reference controller.
	maxTimerSlots = 4

	blockingPollInterval = 10 * time.Millisecond

	tickChanBuffer = 1024
)

// Motor is one motor port: a servo output pin plus an encoder interrupt.
type Motor struct {
	port      string
	timerSlot int
	servoPin  board.GPIOPin
	interrupt board.DigitalInterrupt
	tuning    config.Tuning
	logger    golog.Logger
	clock     clock.Clock

	ticksChan               chan board.Tick
	cancelCtx               context.Context
	cancelFunc              context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup

	mu             sync.Mutex
	position       float64 // degrees
	velocity       float64 // degrees per second, encoder-measured
	pulseCount     int64
	direction      int
	powerPct       float64
	isRunning      bool
	targetPosition float64
	targetVelocity float64
	lastPulseNanos uint64
	hasPulse       bool
	loopCancel     context.CancelFunc
	loopDone       chan struct{}
}

// New creates the motor attached to the given port and holds it stopped.
func New(ctx context.Context, b board.Board, port string, cfg *config.Config, logger golog.Logger) (*Motor, error) {
	return newMotor(ctx, b, port, cfg, logger, clock.New())
}

func newMotor(
	ctx context.Context,
	b board.Board,
	port string,
	cfg *config.Config,
	logger golog.Logger,
	clk clock.Clock,
) (*Motor, error) {
	pins, ok := cfg.Motors[port]
	if !ok {
		return nil, errors.Errorf("unknown motor port %q", port)
	}
	if len(port) != 1 {
		return nil, errors.Errorf("motor port must be a single letter, got %q", port)
	}
	slot := int(port[0] - 'A')
	if slot < 0 || slot >= maxTimerSlots {
		return nil, errors.Errorf(
			"motor port %q has no control timer: only ports A-%c are drivable", port, 'A'+maxTimerSlots-1)
	}

	servoPin, err := b.GPIOPinByName(pins.Servo)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot get servo pin %q for port %q", pins.Servo, port)
	}
	interrupt, ok := b.DigitalInterruptByName(pins.Encoder)
	if !ok {
		return nil, errors.Errorf("cannot get encoder interrupt %q for port %q", pins.Encoder, port)
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	m := &Motor{
		port:       port,
		timerSlot:  slot,
		servoPin:   servoPin,
		interrupt:  interrupt,
		tuning:     cfg.Tuning,
		logger:     logger,
		clock:      clk,
		ticksChan:  make(chan board.Tick, tickChanBuffer),
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}

	if err := m.SetPowerPct(ctx, 0); err != nil {
		cancelFunc()
		return nil, errors.Wrapf(err, "cannot stop motor %q at startup", port)
	}

	m.interrupt.AddCallback(m.ticksChan)
	m.startTickWorker()
	return m, nil
}

// Port returns the port letter this motor is attached to.
func (m *Motor) Port() string {
	return m.port
}

// pulseWidthUs maps a power percentage in [-100, 100] to a servo pulse width.
func pulseWidthUs(powerPct float64) float64 {
	return primekitutils.Clamp(stopPulseWidthUs+pulseWidthPerPct*powerPct, minPulseWidthUs, maxPulseWidthUs)
}

// velocityToPowerPct maps a velocity in degrees per second to a power
// percentage, saturating at full power.
func (m *Motor) velocityToPowerPct(velocityDPS float64) float64 {
	return primekitutils.Clamp(velocityDPS/(m.tuning.MaxSpeedDPS/100), -100, 100)
}

// SetPowerPct sets raw power in [-100, 100]. Zero drops the duty cycle to
// nothing so the servo relaxes instead of holding a 1500us pulse.
func (m *Motor) SetPowerPct(ctx context.Context, powerPct float64) error {
	powerPct = primekitutils.Clamp(powerPct, -100, 100)

	dutyCyclePct := 0.0
	if powerPct != 0 {
		dutyCyclePct = pulseWidthUs(powerPct) / pwmPeriodUs
		if err := m.servoPin.SetPWMFreq(ctx, pwmFreqHz); err != nil {
			return errors.Wrapf(err, "cannot set PWM frequency on motor %q", m.port)
		}
	}
	if err := m.servoPin.SetPWM(ctx, dutyCyclePct); err != nil {
		return errors.Wrapf(err, "cannot set PWM duty cycle on motor %q", m.port)
	}

	direction := 0
	if powerPct > 0 {
		direction = 1
	} else if powerPct < 0 {
		direction = -1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.powerPct = powerPct
	m.direction = direction
	return nil
}

// Run spins the motor at the given velocity until stopped or given a new
// command. Any in-flight position control is cancelled.
func (m *Motor) Run(ctx context.Context, velocityDPS float64) error {
	m.cancelPositionControl()
	if err := m.SetPowerPct(ctx, m.velocityToPowerPct(velocityDPS)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isRunning = true
	m.targetVelocity = velocityDPS
	return nil
}

// RunForTime spins the motor for the given duration. With stopAfter unset
// the motor keeps running at the commanded velocity when the wait ends.
func (m *Motor) RunForTime(ctx context.Context, velocityDPS float64, d time.Duration, stopAfter bool) error {
	if err := m.Run(ctx, velocityDPS); err != nil {
		return err
	}
	if !primekitutils.WaitFor(ctx, m.clock, d) {
		return multierr.Combine(ctx.Err(), m.Stop(ctx))
	}
	if stopAfter {
		return m.Stop(ctx)
	}
	return nil
}

// RunForDegrees turns the shaft by the given amount relative to its current
// position. The sign of degrees sets the direction; velocityDPS is a
// magnitude. With blocking set, it waits for the move to finish.
func (m *Motor) RunForDegrees(ctx context.Context, degrees, velocityDPS float64, blocking bool) error {
	m.mu.Lock()
	target := m.position + degrees
	m.mu.Unlock()

	velocity := math.Abs(velocityDPS)
	if degrees < 0 {
		velocity = -velocity
	}
	return m.runToTarget(ctx, target, velocity, blocking)
}

// RunToPosition turns the shaft to an absolute position in degrees.
func (m *Motor) RunToPosition(ctx context.Context, targetPosition, velocityDPS float64, blocking bool) error {
	m.mu.Lock()
	position := m.position
	m.mu.Unlock()

	velocity := math.Abs(velocityDPS)
	if targetPosition < position {
		velocity = -velocity
	}
	return m.runToTarget(ctx, targetPosition, velocity, blocking)
}

func (m *Motor) runToTarget(ctx context.Context, targetPosition, velocityDPS float64, blocking bool) error {
	if err := m.StartPositionControl(ctx, targetPosition, velocityDPS); err != nil {
		return err
	}
	if !blocking {
		return nil
	}
	for m.IsRunning() {
		if !primekitutils.WaitFor(ctx, m.clock, blockingPollInterval) {
			return multierr.Combine(ctx.Err(), m.Stop(ctx))
		}
	}
	return nil
}

// StartPositionControl launches the background loop driving the shaft toward
// targetPosition at up to the given velocity. It replaces any loop already
// running.
func (m *Motor) StartPositionControl(ctx context.Context, targetPosition, targetVelocity float64) error {
	m.cancelPositionControl()

	loopCtx, loopCancel := context.WithCancel(m.cancelCtx)
	done := make(chan struct{})

	m.mu.Lock()
	m.targetPosition = targetPosition
	m.targetVelocity = targetVelocity
	m.isRunning = true
	m.loopCancel = loopCancel
	m.loopDone = done
	m.mu.Unlock()

	m.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		defer close(done)
		ticker := m.clock.Ticker(m.tuning.ControlLoopPeriod())
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}
			if m.controlStep(loopCtx) {
				return
			}
		}
	}, m.activeBackgroundWorkers.Done)
	return nil
}

// controlStep runs one iteration of the position loop and reports whether the
// loop should exit. Hardware errors are logged and retried next period.
func (m *Motor) controlStep(ctx context.Context) bool {
	m.mu.Lock()
	isRunning := m.isRunning
	targetPosition := m.targetPosition
	targetVelocity := m.targetVelocity
	position := m.position
	m.mu.Unlock()

	if !isRunning {
		if err := m.SetPowerPct(ctx, 0); err != nil {
			m.logger.Debugw("error stopping motor", "port", m.port, "error", err)
		}
		return true
	}

	positionErr := targetPosition - position
	if math.Abs(positionErr) < m.tuning.PositionToleranceDeg {
		if err := m.SetPowerPct(ctx, 0); err != nil {
			m.logger.Debugw("error stopping motor", "port", m.port, "error", err)
			return false
		}
		m.mu.Lock()
		m.isRunning = false
		m.mu.Unlock()
		return true
	}

	// The drive sign comes from the caller's target velocity; the step only
	// velocity-limits and never re-derives direction from the error.
	if err := m.SetPowerPct(ctx, m.velocityToPowerPct(targetVelocity)); err != nil {
		m.logger.Debugw("error driving motor", "port", m.port, "error", err)
	}
	return false
}

// SetTargetVelocity adjusts the velocity of an in-flight position move. It
// has no effect when the motor is idle.
func (m *Motor) SetTargetVelocity(velocityDPS float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		m.targetVelocity = velocityDPS
	}
}

// Stop halts the motor and cancels any position control. Safe to call at any
// time, including repeatedly.
func (m *Motor) Stop(ctx context.Context) error {
	m.cancelPositionControl()
	m.mu.Lock()
	m.isRunning = false
	m.mu.Unlock()
	return m.SetPowerPct(ctx, 0)
}

// cancelPositionControl stops the control loop, if any, and waits for it to
// exit.
func (m *Motor) cancelPositionControl() {
	m.mu.Lock()
	loopCancel := m.loopCancel
	loopDone := m.loopDone
	m.loopCancel = nil
	m.loopDone = nil
	m.mu.Unlock()

	if loopCancel != nil {
		loopCancel()
		<-loopDone
	}
}

// startTickWorker consumes encoder edges. Each rising edge advances the pulse
// count and moves the position estimate by one pulse worth of rotation in the
// current drive direction.
func (m *Motor) startTickWorker() {
	degreesPerPulse := m.tuning.DegreesPerPulse()
	m.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		for {
			select {
			case <-m.cancelCtx.Done():
				return
			case tick := <-m.ticksChan:
				if !tick.High {
					continue
				}
				m.mu.Lock()
				m.pulseCount++
				m.position += float64(m.direction) * degreesPerPulse
				if m.hasPulse && tick.TimestampNanosec > m.lastPulseNanos {
					dt := float64(tick.TimestampNanosec-m.lastPulseNanos) / float64(1e9)
					m.velocity = degreesPerPulse / dt * float64(m.direction)
				}
				m.lastPulseNanos = tick.TimestampNanosec
				m.hasPulse = true
				m.mu.Unlock()
			}
		}
	}, m.activeBackgroundWorkers.Done)
}

// Position returns the accumulated shaft position in degrees.
func (m *Motor) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// ResetPosition overwrites the position estimate.
func (m *Motor) ResetPosition(positionDeg float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = positionDeg
}

// Velocity returns the latest encoder-measured velocity in degrees per
// second.
func (m *Motor) Velocity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.velocity
}

// TargetVelocity returns the velocity of the current command in degrees per
// second.
func (m *Motor) TargetVelocity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targetVelocity
}

// PowerPct returns the last commanded power percentage.
func (m *Motor) PowerPct() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.powerPct
}

// Direction returns -1, 0, or 1 for the current drive direction.
func (m *Motor) Direction() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.direction
}

// PulseCount returns the total number of encoder pulses seen.
func (m *Motor) PulseCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulseCount
}

// IsRunning reports whether the motor is being driven, by velocity command or
// position loop.
func (m *Motor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}

// Close stops the motor and shuts down its workers.
func (m *Motor) Close(ctx context.Context) error {
	err := m.Stop(ctx)
	m.cancelFunc()
	m.interrupt.RemoveCallback(m.ticksChan)
	m.activeBackgroundWorkers.Wait()
	return err
}
