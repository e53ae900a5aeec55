// Package colorsensor reads a reflected-light sensor through an analog pin.
package colorsensor

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/primekit-robotics/primekit/components/board"
)

// Sensor reports how much light bounces back from the surface under it.
type Sensor struct {
	analog board.Analog
	logger golog.Logger
}

// NewSensor wraps the given analog input.
func NewSensor(analog board.Analog, logger golog.Logger) *Sensor {
	return &Sensor{analog: analog, logger: logger}
}

// Reflection returns reflected light on a 0-100 scale, 100 being a bright
// surface. The raw reading is log-compressed so dark surfaces keep usable
// resolution.
func (s *Sensor) Reflection(ctx context.Context) (int, error) {
	raw, err := s.analog.Read(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "cannot read color sensor")
	}
	return 100 - int(math.Log2(float64(raw)+1)*8), nil
}
