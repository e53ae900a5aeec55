package motorpair

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/primekit-robotics/primekit/components/motor"
	"github.com/primekit-robotics/primekit/components/movementsensor"
	"github.com/primekit-robotics/primekit/config"
)

// Registry tracks motor pairs by numeric identifier.
type Registry struct {
	motors      *motor.Registry
	orientation movementsensor.OrientationSource
	tuning      config.Tuning
	logger      golog.Logger
	clock       clock.Clock

	mu    sync.Mutex
	pairs map[int]*Pair
}

// NewRegistry returns an empty pair registry. orientation may be nil when
// the robot has no inertial sensor.
func NewRegistry(
	motors *motor.Registry,
	orientation movementsensor.OrientationSource,
	tuning config.Tuning,
	logger golog.Logger,
) *Registry {
	return newRegistry(motors, orientation, tuning, logger, clock.New())
}

func newRegistry(
	motors *motor.Registry,
	orientation movementsensor.OrientationSource,
	tuning config.Tuning,
	logger golog.Logger,
	clk clock.Clock,
) *Registry {
	return &Registry{
		motors:      motors,
		orientation: orientation,
		tuning:      tuning,
		logger:      logger,
		clock:       clk,
		pairs:       map[int]*Pair{},
	}
}

// Pair binds two motor ports under the given identifier. Re-pairing an
// identifier stops and replaces the existing pair.
func (r *Registry) Pair(ctx context.Context, id int, leftPort, rightPort string) (*Pair, error) {
	if leftPort == rightPort {
		return nil, errors.Errorf("cannot pair port %q with itself", leftPort)
	}
	left, err := r.motors.Get(ctx, leftPort)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot pair %d", id)
	}
	right, err := r.motors.Get(ctx, rightPort)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot pair %d", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.pairs[id]; ok {
		if err := old.Stop(ctx); err != nil {
			r.logger.Debugw("error stopping replaced pair", "pair", id, "error", err)
		}
	}
	p := newPair(id, left, right, r.orientation, r.tuning, r.logger.Named("pair"), r.clock)
	r.pairs[id] = p
	return p, nil
}

// Get returns the pair bound to the given identifier.
func (r *Registry) Get(id int) (*Pair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[id]
	if !ok {
		return nil, errors.Errorf("motor pair %d not paired", id)
	}
	return p, nil
}

// Unpair stops and removes the pair bound to the given identifier.
func (r *Registry) Unpair(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[id]
	if !ok {
		return errors.Errorf("motor pair %d not paired", id)
	}
	delete(r.pairs, id)
	return p.Stop(ctx)
}

// StopAll stops every pair.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for _, p := range r.pairs {
		err = multierr.Combine(err, p.Stop(ctx))
	}
	return err
}
