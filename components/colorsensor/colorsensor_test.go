package colorsensor

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/primekit-robotics/primekit/components/board/fake"
)

func TestReflection(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	b := fake.NewBoard()
	analog := b.AddAnalog("34")
	s := NewSensor(analog, logger)

	// Full-scale 12-bit reading is almost no reflection.
	analog.Set(4095, nil)
	v, err := s.Reflection(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 4)

	analog.Set(0, nil)
	v, err = s.Reflection(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 100)

	analog.Set(255, nil)
	v, err = s.Reflection(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 36)

	analog.Set(0, errors.New("pin fault"))
	_, err = s.Reflection(ctx)
	test.That(t, err, test.ShouldNotBeNil)
}
