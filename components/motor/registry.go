package motor

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.uber.org/multierr"

	"github.com/primekit-robotics/primekit/components/board"
	"github.com/primekit-robotics/primekit/config"
)

// Registry hands out motors by port letter, creating each one on first use so
// unused ports never claim pins.
type Registry struct {
	board  board.Board
	cfg    *config.Config
	logger golog.Logger
	clock  clock.Clock

	mu     sync.Mutex
	motors map[string]*Motor
}

// NewRegistry returns a registry over the configured ports.
func NewRegistry(b board.Board, cfg *config.Config, logger golog.Logger) *Registry {
	return newRegistry(b, cfg, logger, clock.New())
}

// NewRegistryWithClock is NewRegistry with an injected clock, for callers
// that need deterministic timing.
func NewRegistryWithClock(b board.Board, cfg *config.Config, logger golog.Logger, clk clock.Clock) *Registry {
	return newRegistry(b, cfg, logger, clk)
}

func newRegistry(b board.Board, cfg *config.Config, logger golog.Logger, clk clock.Clock) *Registry {
	return &Registry{
		board:  b,
		cfg:    cfg,
		logger: logger,
		clock:  clk,
		motors: map[string]*Motor{},
	}
}

// Get returns the motor on the given port, creating it if this is the first
// use.
func (r *Registry) Get(ctx context.Context, port string) (*Motor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.motors[port]; ok {
		return m, nil
	}
	m, err := newMotor(ctx, r.board, port, r.cfg, r.logger.Named("motor."+port), r.clock)
	if err != nil {
		return nil, err
	}
	r.motors[port] = m
	return m, nil
}

// StopAll stops every motor created so far.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for _, m := range r.motors {
		err = multierr.Combine(err, m.Stop(ctx))
	}
	return err
}

// Close shuts down every motor created so far.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for _, m := range r.motors {
		err = multierr.Combine(err, m.Close(ctx))
	}
	r.motors = map[string]*Motor{}
	return err
}
