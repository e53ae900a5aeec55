package motorpair

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.viam.com/test"

	fakeboard "github.com/primekit-robotics/primekit/components/board/fake"
	"github.com/primekit-robotics/primekit/components/motor"
	"github.com/primekit-robotics/primekit/config"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := golog.NewTestLogger(t)
	b := fakeboard.NewBoard()
	cfg := config.DefaultConfig()
	clk := clock.NewMock()

	motors := motor.NewRegistryWithClock(b, cfg, logger, clk)
	t.Cleanup(func() {
		test.That(t, motors.Close(context.Background()), test.ShouldBeNil)
	})
	return newRegistry(motors, nil, cfg.Tuning, logger, clk)
}

func TestRegistryPairing(t *testing.T) {
	ctx := context.Background()
	r := setupRegistry(t)

	_, err := r.Get(1)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not paired")

	p, err := r.Pair(ctx, 1, "A", "B")
	test.That(t, err, test.ShouldBeNil)
	got, err := r.Get(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, p)

	// Re-pairing replaces the old pair.
	test.That(t, p.Move(ctx, 0, 360), test.ShouldBeNil)
	p2, err := r.Pair(ctx, 1, "A", "C")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p2, test.ShouldNotEqual, p)
	test.That(t, p.left.IsRunning(), test.ShouldBeFalse)

	_, err = r.Pair(ctx, 2, "A", "A")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "itself")

	_, err = r.Pair(ctx, 2, "A", "Z")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRegistryUnpairAndStopAll(t *testing.T) {
	ctx := context.Background()
	r := setupRegistry(t)

	p, err := r.Pair(ctx, 1, "A", "B")
	test.That(t, err, test.ShouldBeNil)

	test.That(t, p.Move(ctx, 0, 360), test.ShouldBeNil)
	test.That(t, r.StopAll(ctx), test.ShouldBeNil)
	test.That(t, p.left.IsRunning(), test.ShouldBeFalse)

	test.That(t, r.Unpair(ctx, 1), test.ShouldBeNil)
	_, err = r.Get(1)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, r.Unpair(ctx, 1), test.ShouldNotBeNil)
}
