// Package fake implements an in-memory board for tests. Pins and interrupts
// are created lazily on first lookup; tests drive interrupts with Tick and
// read PWM state back off the pins.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/primekit-robotics/primekit/components/board"
)

// Board is a fake board.Board backed by maps.
type Board struct {
	mu         sync.Mutex
	gpioPins   map[string]*GPIOPin
	interrupts map[string]*DigitalInterrupt
	analogs    map[string]*Analog
	i2cs       map[string]*I2C
}

// NewBoard returns an empty fake board.
func NewBoard() *Board {
	return &Board{
		gpioPins:   map[string]*GPIOPin{},
		interrupts: map[string]*DigitalInterrupt{},
		analogs:    map[string]*Analog{},
		i2cs:       map[string]*I2C{},
	}
}

// GPIOPinByName returns the named pin, creating it if needed.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	return b.GPIOPin(name), nil
}

// GPIOPin returns the concrete fake pin so tests can inspect its state.
func (b *Board) GPIOPin(name string) *GPIOPin {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.gpioPins[name]
	if !ok {
		p = &GPIOPin{}
		b.gpioPins[name] = p
	}
	return p
}

// DigitalInterruptByName returns the named interrupt, creating it if needed.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, bool) {
	return b.Interrupt(name), true
}

// Interrupt returns the concrete fake interrupt so tests can inject ticks.
func (b *Board) Interrupt(name string) *DigitalInterrupt {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.interrupts[name]
	if !ok {
		i = &DigitalInterrupt{name: name}
		b.interrupts[name] = i
	}
	return i
}

// AnalogByName returns the named analog reader if one was added.
func (b *Board) AnalogByName(name string) (board.Analog, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.analogs[name]
	return a, ok
}

// AddAnalog registers a settable analog reader under the given name.
func (b *Board) AddAnalog(name string) *Analog {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := &Analog{}
	b.analogs[name] = a
	return a
}

// I2CByName returns the named bus if one was added.
func (b *Board) I2CByName(name string) (board.I2C, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.i2cs[name]
	return i, ok
}

// AddI2C registers an empty fake bus under the given name.
func (b *Board) AddI2C(name string) *I2C {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := &I2C{devices: map[byte]map[byte]byte{}}
	b.i2cs[name] = i
	return i
}

// Close is a no-op.
func (b *Board) Close(ctx context.Context) error {
	return nil
}

// GPIOPin is a fake pin recording the last state set on it.
type GPIOPin struct {
	mu   sync.Mutex
	high bool
	duty float64
	freq uint
}

// Set records the digital state.
func (p *GPIOPin) Set(ctx context.Context, high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.high = high
	return nil
}

// Get returns the last digital state set.
func (p *GPIOPin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high
}

// SetPWM records the duty cycle.
func (p *GPIOPin) SetPWM(ctx context.Context, dutyCyclePct float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duty = dutyCyclePct
	return nil
}

// PWM returns the last duty cycle set.
func (p *GPIOPin) PWM(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty, nil
}

// SetPWMFreq records the PWM frequency.
func (p *GPIOPin) SetPWMFreq(ctx context.Context, freqHz uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freq = freqHz
	return nil
}

// PWMFreq returns the last PWM frequency set.
func (p *GPIOPin) PWMFreq(ctx context.Context) (uint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freq, nil
}

// DigitalInterrupt is a fake interrupt driven by tests.
type DigitalInterrupt struct {
	mu        sync.Mutex
	name      string
	callbacks []chan board.Tick
}

// Name returns the interrupt's name.
func (i *DigitalInterrupt) Name() string {
	return i.name
}

// AddCallback registers a channel to receive ticks.
func (i *DigitalInterrupt) AddCallback(c chan board.Tick) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.callbacks = append(i.callbacks, c)
}

// RemoveCallback unregisters a channel.
func (i *DigitalInterrupt) RemoveCallback(c chan board.Tick) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx, cb := range i.callbacks {
		if cb == c {
			i.callbacks = append(i.callbacks[:idx], i.callbacks[idx+1:]...)
			break
		}
	}
}

// Tick delivers an edge to every registered callback, blocking until each
// accepts it.
func (i *DigitalInterrupt) Tick(high bool, nanos uint64) {
	i.mu.Lock()
	callbacks := make([]chan board.Tick, len(i.callbacks))
	copy(callbacks, i.callbacks)
	i.mu.Unlock()
	for _, c := range callbacks {
		c <- board.Tick{Name: i.name, High: high, TimestampNanosec: nanos}
	}
}

// Analog is a fake analog reader with a settable value.
type Analog struct {
	mu    sync.Mutex
	value int
	err   error
}

// Set updates the value (and error) returned by Read.
func (a *Analog) Set(value int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = value
	a.err = err
}

// Read returns the configured value.
func (a *Analog) Read(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value, a.err
}

// I2C is a fake bus holding a register map for each attached device.
type I2C struct {
	mu      sync.Mutex
	devices map[byte]map[byte]byte
}

// AddDevice attaches a device at the given address and returns its register
// map for tests to seed and inspect.
func (i *I2C) AddDevice(addr byte) map[byte]byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	regs := map[byte]byte{}
	i.devices[addr] = regs
	return regs
}

// OpenHandle returns a handle addressed to the given device.
func (i *I2C) OpenHandle(addr byte) (board.I2CHandle, error) {
	return &i2cHandle{bus: i, addr: addr}, nil
}

// Scan returns the addresses of all attached devices.
func (i *I2C) Scan(ctx context.Context) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	addrs := make([]byte, 0, len(i.devices))
	for addr := range i.devices {
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

type i2cHandle struct {
	bus  *I2C
	addr byte
}

func (h *i2cHandle) registers() (map[byte]byte, error) {
	regs, ok := h.bus.devices[h.addr]
	if !ok {
		return nil, errors.Errorf("no device at address %#x", h.addr)
	}
	return regs, nil
}

func (h *i2cHandle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	regs, err := h.registers()
	if err != nil {
		return 0, err
	}
	return regs[register], nil
}

func (h *i2cHandle) WriteByteData(ctx context.Context, register, data byte) error {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	regs, err := h.registers()
	if err != nil {
		return err
	}
	regs[register] = data
	return nil
}

func (h *i2cHandle) ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error) {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	regs, err := h.registers()
	if err != nil {
		return nil, err
	}
	data := make([]byte, numBytes)
	for n := uint8(0); n < numBytes; n++ {
		data[n] = regs[register+n]
	}
	return data, nil
}

func (h *i2cHandle) WriteBlockData(ctx context.Context, register byte, data []byte) error {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	regs, err := h.registers()
	if err != nil {
		return err
	}
	for n, b := range data {
		regs[register+byte(n)] = b
	}
	return nil
}

func (h *i2cHandle) Close() error {
	return nil
}
