package motorpair

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	fakeboard "github.com/primekit-robotics/primekit/components/board/fake"
	"github.com/primekit-robotics/primekit/components/motor"
	"github.com/primekit-robotics/primekit/components/movementsensor"
	"github.com/primekit-robotics/primekit/config"
)

type fakeOrientation struct {
	mu          sync.Mutex
	yaw         float64
	perUpdate   float64 // yaw added by each Update
	err         error
	updateCalls int
}

func (f *fakeOrientation) Update(ctx context.Context) (movementsensor.Orientation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return movementsensor.Orientation{}, f.err
	}
	f.updateCalls++
	f.yaw += f.perUpdate
	return movementsensor.Orientation{Yaw: f.yaw}, nil
}

func (f *fakeOrientation) Yaw() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.yaw
}

func (f *fakeOrientation) ResetYaw() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.yaw = 0
}

func (f *fakeOrientation) Orientation() movementsensor.Orientation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return movementsensor.Orientation{Yaw: f.yaw}
}

func (f *fakeOrientation) setYaw(yaw float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.yaw = yaw
}

type pairFixture struct {
	pair        *Pair
	left, right *motor.Motor
	motors      *motor.Registry
	board       *fakeboard.Board
	clock       *clock.Mock
}

func setupPair(t *testing.T, orientation movementsensor.OrientationSource) pairFixture {
	t.Helper()
	logger := golog.NewTestLogger(t)
	b := fakeboard.NewBoard()
	cfg := config.DefaultConfig()
	clk := clock.NewMock()

	motors := motor.NewRegistryWithClock(b, cfg, logger, clk)
	t.Cleanup(func() {
		test.That(t, motors.Close(context.Background()), test.ShouldBeNil)
	})

	ctx := context.Background()
	left, err := motors.Get(ctx, "A")
	test.That(t, err, test.ShouldBeNil)
	right, err := motors.Get(ctx, "B")
	test.That(t, err, test.ShouldBeNil)

	p := newPair(1, left, right, orientation, cfg.Tuning, logger, clk)
	return pairFixture{pair: p, left: left, right: right, motors: motors, board: b, clock: clk}
}

func TestMixSteering(t *testing.T) {
	for _, tc := range []struct {
		steering    float64
		left, right float64
	}{
		{0, 360, 360},
		{50, 360, 180},
		{-50, 180, 360},
		{100, 360, 0},
		{-100, 0, 360},
		{25, 360, 270},
	} {
		left, right := mixSteering(tc.steering, 360)
		test.That(t, left, test.ShouldAlmostEqual, tc.left, 1e-9)
		test.That(t, right, test.ShouldAlmostEqual, tc.right, 1e-9)
	}
}

func TestMove(t *testing.T) {
	ctx := context.Background()
	f := setupPair(t, nil)

	// 200 dps at a 540 dps ceiling is 37.04% power; the mirrored right motor
	// gets the negated command.
	test.That(t, f.pair.Move(ctx, 0, 200), test.ShouldBeNil)
	test.That(t, f.left.PowerPct(), test.ShouldAlmostEqual, 200/5.4, 1e-9)
	test.That(t, f.right.PowerPct(), test.ShouldAlmostEqual, -200/5.4, 1e-9)

	// Positive steering slows the right wheel.
	test.That(t, f.pair.Move(ctx, 50, 200), test.ShouldBeNil)
	test.That(t, f.left.PowerPct(), test.ShouldAlmostEqual, 200/5.4, 1e-9)
	test.That(t, f.right.PowerPct(), test.ShouldAlmostEqual, -100/5.4, 1e-9)

	// Zero velocity means the default.
	test.That(t, f.pair.Move(ctx, 0, 0), test.ShouldBeNil)
	test.That(t, f.left.PowerPct(), test.ShouldAlmostEqual, 360/5.4, 1e-9)

	f.pair.SetDefaultVelocity(270)
	test.That(t, f.pair.Move(ctx, 0, 0), test.ShouldBeNil)
	test.That(t, f.left.PowerPct(), test.ShouldAlmostEqual, 50, 1e-9)

	test.That(t, f.pair.Stop(ctx), test.ShouldBeNil)
	test.That(t, f.left.PowerPct(), test.ShouldEqual, 0)
	test.That(t, f.right.PowerPct(), test.ShouldEqual, 0)
}

func TestMoveTank(t *testing.T) {
	ctx := context.Background()
	f := setupPair(t, nil)

	test.That(t, f.pair.MoveTank(ctx, 540, -540), test.ShouldBeNil)
	test.That(t, f.left.PowerPct(), test.ShouldEqual, 100)
	test.That(t, f.right.PowerPct(), test.ShouldEqual, 100)
	test.That(t, f.pair.Stop(ctx), test.ShouldBeNil)
}

func TestMoveTankForTime(t *testing.T) {
	ctx := context.Background()
	f := setupPair(t, nil)

	done := make(chan error)
	go func() {
		done <- f.pair.MoveTankForTime(ctx, time.Second, 360, 360)
	}()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, f.left.IsRunning(), test.ShouldBeTrue)
	})
	for {
		select {
		case err := <-done:
			test.That(t, err, test.ShouldBeNil)
			test.That(t, f.left.PowerPct(), test.ShouldEqual, 0)
			test.That(t, f.right.PowerPct(), test.ShouldEqual, 0)
			return
		default:
			f.clock.Add(100 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestYawCorrection(t *testing.T) {
	ctx := context.Background()
	o := &fakeOrientation{}
	f := setupPair(t, o)

	test.That(t, f.pair.Move(ctx, 0, 360), test.ShouldBeNil)

	// Drifted 2 degrees right of the reference: both shafts get +20 dps.
	o.setYaw(-2)
	f.pair.applyYawCorrection(ctx, 0, 0, 360, -360)
	test.That(t, f.left.PowerPct(), test.ShouldAlmostEqual, 380/5.4, 1e-9)
	test.That(t, f.right.PowerPct(), test.ShouldAlmostEqual, -340/5.4, 1e-9)

	// Correction saturates at 50 dps.
	o.setYaw(-30)
	f.pair.applyYawCorrection(ctx, 0, 0, 360, -360)
	test.That(t, f.left.PowerPct(), test.ShouldAlmostEqual, 410/5.4, 1e-9)

	// Inside the deadband nothing changes.
	test.That(t, f.pair.Move(ctx, 0, 360), test.ShouldBeNil)
	o.setYaw(0.5)
	f.pair.applyYawCorrection(ctx, 0, 0, 360, -360)
	test.That(t, f.left.PowerPct(), test.ShouldAlmostEqual, 360/5.4, 1e-9)

	// Steered moves are never corrected.
	o.setYaw(-30)
	f.pair.applyYawCorrection(ctx, 50, 0, 360, -360)
	test.That(t, f.left.PowerPct(), test.ShouldAlmostEqual, 360/5.4, 1e-9)

	// A sensor fault skips the cycle.
	o.err = errors.New("bus fault")
	o.setYaw(-30)
	f.pair.applyYawCorrection(ctx, 0, 0, 360, -360)
	test.That(t, f.left.PowerPct(), test.ShouldAlmostEqual, 360/5.4, 1e-9)
}

func TestMoveForDegreesFirstArrival(t *testing.T) {
	ctx := context.Background()
	f := setupPair(t, nil)
	leftEnc := f.board.Interrupt("13")
	rightEnc := f.board.Interrupt("14")

	done := make(chan error)
	go func() {
		done <- f.pair.MoveForDegrees(ctx, 360, 0, 0)
	}()

	// Both wheels get continuous velocity commands, right one mirrored.
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		f.clock.Add(10 * time.Millisecond)
		tb.Helper()
		test.That(tb, f.left.Direction(), test.ShouldEqual, 1)
		test.That(tb, f.right.Direction(), test.ShouldEqual, -1)
	})

	// The right wheel falls behind; the left wheel reaches 342 degrees,
	// within tolerance of 360, and finishes the move for both.
	for i := 1; i <= 3; i++ {
		rightEnc.Tick(true, uint64(i)*10e6)
	}
	for i := 1; i <= 19; i++ {
		leftEnc.Tick(true, uint64(i)*10e6)
	}
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, f.left.Position(), test.ShouldEqual, 342)
		test.That(tb, f.right.Position(), test.ShouldEqual, -54)
	})

	for {
		select {
		case err := <-done:
			test.That(t, err, test.ShouldBeNil)
			test.That(t, f.left.IsRunning(), test.ShouldBeFalse)
			test.That(t, f.right.IsRunning(), test.ShouldBeFalse)
			test.That(t, f.left.PowerPct(), test.ShouldEqual, 0)
			test.That(t, f.right.PowerPct(), test.ShouldEqual, 0)
			return
		default:
			f.clock.Add(10 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestMoveForDegreesSteered(t *testing.T) {
	ctx := context.Background()
	f := setupPair(t, nil)
	rightEnc := f.board.Interrupt("14")

	// Steering only shortens the inner wheel's target; both wheels still run
	// at the full commanded velocity.
	done := make(chan error)
	go func() {
		done <- f.pair.MoveForDegrees(ctx, 360, 50, 360)
	}()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, f.left.PowerPct(), test.ShouldAlmostEqual, 360/5.4, 1e-9)
		test.That(tb, f.right.PowerPct(), test.ShouldAlmostEqual, -360/5.4, 1e-9)
	})

	// The inner right wheel only has 180 degrees to cover; nine pulses put
	// it at -162, within tolerance, and finish the move for both.
	for i := 1; i <= 9; i++ {
		rightEnc.Tick(true, uint64(i)*10e6)
	}
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, f.right.Position(), test.ShouldEqual, -162)
	})

	for {
		select {
		case err := <-done:
			test.That(t, err, test.ShouldBeNil)
			test.That(t, f.left.PowerPct(), test.ShouldEqual, 0)
			test.That(t, f.right.PowerPct(), test.ShouldEqual, 0)
			return
		default:
			f.clock.Add(10 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestMoveForDegreesFullSteering(t *testing.T) {
	ctx := context.Background()
	f := setupPair(t, nil)

	// At full steering the inner wheel's target is its current position, so
	// first-arrival ends the move before anything turns.
	test.That(t, f.pair.MoveForDegrees(ctx, 360, 100, 360), test.ShouldBeNil)
	test.That(t, f.left.IsRunning(), test.ShouldBeFalse)
	test.That(t, f.right.IsRunning(), test.ShouldBeFalse)
	test.That(t, f.left.PowerPct(), test.ShouldEqual, 0)
	test.That(t, f.right.PowerPct(), test.ShouldEqual, 0)
	test.That(t, f.left.Position(), test.ShouldEqual, 0)
}

func TestMoveForDistance(t *testing.T) {
	ctx := context.Background()
	f := setupPair(t, nil)
	leftEnc := f.board.Interrupt("13")

	// Half a wheel circumference is 180 shaft degrees.
	done := make(chan error)
	go func() {
		done <- f.pair.MoveForDistance(ctx, f.pair.tuning.WheelCircumferenceCM()/2, 0, 0)
	}()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		f.clock.Add(10 * time.Millisecond)
		tb.Helper()
		test.That(tb, f.left.Direction(), test.ShouldEqual, 1)
	})

	// Nine pulses put the left wheel at 162 degrees, within tolerance of 180.
	for i := 1; i <= 9; i++ {
		leftEnc.Tick(true, uint64(i)*10e6)
	}
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, f.left.Position(), test.ShouldEqual, 162)
	})

	for {
		select {
		case err := <-done:
			test.That(t, err, test.ShouldBeNil)
			test.That(t, f.left.IsRunning(), test.ShouldBeFalse)
			test.That(t, f.right.IsRunning(), test.ShouldBeFalse)
			return
		default:
			f.clock.Add(10 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestMoveForTime(t *testing.T) {
	ctx := context.Background()
	f := setupPair(t, nil)

	done := make(chan error)
	go func() {
		done <- f.pair.MoveForTime(ctx, time.Second, 0, 360)
	}()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, f.left.PowerPct(), test.ShouldAlmostEqual, 360/5.4, 1e-9)
		test.That(tb, f.right.PowerPct(), test.ShouldAlmostEqual, -360/5.4, 1e-9)
	})
	for {
		select {
		case err := <-done:
			test.That(t, err, test.ShouldBeNil)
			test.That(t, f.left.PowerPct(), test.ShouldEqual, 0)
			test.That(t, f.right.PowerPct(), test.ShouldEqual, 0)
			return
		default:
			f.clock.Add(100 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestMoveTankForDegreesConverges(t *testing.T) {
	ctx := context.Background()
	o := &fakeOrientation{perUpdate: 5}
	f := setupPair(t, o)

	done := make(chan error)
	go func() {
		done <- f.pair.MoveTankForDegrees(ctx, 90, 360, -360)
	}()
	for {
		select {
		case err := <-done:
			test.That(t, err, test.ShouldBeNil)
			// Ended within tolerance of the 90 degree turn.
			test.That(t, o.Yaw()-5, test.ShouldBeBetween, 86, 94)
			test.That(t, f.left.PowerPct(), test.ShouldEqual, 0)
			test.That(t, f.right.PowerPct(), test.ShouldEqual, 0)
			return
		default:
			f.clock.Add(10 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestMoveTankForDegreesTimesOut(t *testing.T) {
	ctx := context.Background()
	o := &fakeOrientation{} // yaw never moves
	f := setupPair(t, o)

	start := f.clock.Now()
	done := make(chan error)
	go func() {
		done <- f.pair.MoveTankForDegrees(ctx, 90, 360, -360)
	}()
	for {
		select {
		case err := <-done:
			test.That(t, err, test.ShouldBeNil)
			test.That(t, f.clock.Now().Sub(start), test.ShouldBeGreaterThanOrEqualTo, spinTimeout)
			test.That(t, f.left.PowerPct(), test.ShouldEqual, 0)
			return
		default:
			f.clock.Add(100 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestMoveTankForDegreesFallback(t *testing.T) {
	ctx := context.Background()
	f := setupPair(t, nil)
	leftEnc := f.board.Interrupt("13")
	rightEnc := f.board.Interrupt("14")

	// Without a sensor each shaft just turns the commanded 90 degrees, both
	// the same way to pivot the mirrored wheels.
	done := make(chan error)
	go func() {
		done <- f.pair.MoveTankForDegrees(ctx, 90, 360, 360)
	}()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		f.clock.Add(10 * time.Millisecond)
		tb.Helper()
		test.That(tb, f.left.Direction(), test.ShouldEqual, 1)
		test.That(tb, f.right.Direction(), test.ShouldEqual, 1)
	})

	// Four pulses put each shaft at 72 degrees, inside tolerance of 90.
	for i := 1; i <= 4; i++ {
		leftEnc.Tick(true, uint64(i)*10e6)
		rightEnc.Tick(true, uint64(i)*10e6)
	}
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, f.left.Position(), test.ShouldEqual, 72)
		test.That(tb, f.right.Position(), test.ShouldEqual, 72)
	})

	for {
		select {
		case err := <-done:
			test.That(t, err, test.ShouldBeNil)
			test.That(t, f.left.IsRunning(), test.ShouldBeFalse)
			test.That(t, f.right.IsRunning(), test.ShouldBeFalse)
			return
		default:
			f.clock.Add(10 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestPairYawHelpers(t *testing.T) {
	ctx := context.Background()

	f := setupPair(t, nil)
	yaw, err := f.pair.Yaw(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, yaw, test.ShouldEqual, 0)

	o := &fakeOrientation{}
	f = setupPair(t, o)
	o.setYaw(42)
	yaw, err = f.pair.Yaw(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, yaw, test.ShouldEqual, 42)

	f.pair.ResetYaw()
	test.That(t, o.Yaw(), test.ShouldEqual, 0)
}
