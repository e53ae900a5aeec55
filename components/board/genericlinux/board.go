// Package genericlinux implements the board interfaces on a Linux host
// through periph.io: GPIO and PWM by pin name, edge interrupts, and I2C
// buses. There is no ADC support here; boards without one leave the analog
// pins unconfigured.
package genericlinux

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/primekit-robotics/primekit/components/board"
)

// edgeWaitTimeout bounds WaitForEdge so interrupt workers notice shutdown.
const edgeWaitTimeout = time.Second

// Board is a periph.io-backed board.
type Board struct {
	logger golog.Logger

	mu         sync.Mutex
	pins       map[string]*gpioPin
	interrupts map[string]*digitalInterrupt
	i2cs       map[string]*i2cBus

	cancelCtx               context.Context
	cancelFunc              context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// NewBoard initializes the host drivers and returns an empty board. Pins,
// interrupts, and buses are claimed lazily by name.
func NewBoard(ctx context.Context, logger golog.Logger) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "cannot initialize periph host drivers")
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Board{
		logger:     logger,
		pins:       map[string]*gpioPin{},
		interrupts: map[string]*digitalInterrupt{},
		i2cs:       map[string]*i2cBus{},
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}, nil
}

// GPIOPinByName claims the named pin for output.
func (b *Board) GPIOPinByName(name string) (board.GPIOPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[name]; ok {
		return p, nil
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("no GPIO pin named %q", name)
	}
	p := &gpioPin{pin: pin}
	b.pins[name] = p
	return p, nil
}

// DigitalInterruptByName claims the named pin for edge input and starts its
// watcher.
func (b *Board) DigitalInterruptByName(name string) (board.DigitalInterrupt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i, ok := b.interrupts[name]; ok {
		return i, true
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, false
	}
	if err := pin.In(gpio.PullNoChange, gpio.BothEdges); err != nil {
		b.logger.Errorw("cannot configure pin for edge input", "pin", name, "error", err)
		return nil, false
	}
	i := &digitalInterrupt{name: name, pin: pin, logger: b.logger}
	b.interrupts[name] = i

	b.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		i.watch(b.cancelCtx)
	}, b.activeBackgroundWorkers.Done)
	return i, true
}

// AnalogByName always reports absent: this board has no ADC.
func (b *Board) AnalogByName(name string) (board.Analog, bool) {
	return nil, false
}

// I2CByName opens the named bus.
func (b *Board) I2CByName(name string) (board.I2C, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bus, ok := b.i2cs[name]; ok {
		return bus, true
	}
	opened, err := i2creg.Open(name)
	if err != nil {
		b.logger.Errorw("cannot open I2C bus", "bus", name, "error", err)
		return nil, false
	}
	bus := &i2cBus{bus: opened}
	b.i2cs[name] = bus
	return bus, true
}

// Close stops the interrupt watchers and releases the hardware.
func (b *Board) Close(ctx context.Context) error {
	b.cancelFunc()
	b.activeBackgroundWorkers.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	for name, p := range b.pins {
		err = multierr.Combine(err, errors.Wrapf(p.pin.Halt(), "halting pin %q", name))
	}
	for name, i := range b.interrupts {
		err = multierr.Combine(err, errors.Wrapf(i.pin.Halt(), "halting interrupt %q", name))
	}
	for name, bus := range b.i2cs {
		err = multierr.Combine(err, errors.Wrapf(bus.bus.Close(), "closing I2C bus %q", name))
	}
	return err
}

type gpioPin struct {
	pin gpio.PinIO

	mu   sync.Mutex
	duty float64
	freq uint
}

func (p *gpioPin) Set(ctx context.Context, high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duty = 0
	return p.pin.Out(gpio.Level(high))
}

func (p *gpioPin) SetPWM(ctx context.Context, dutyCyclePct float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duty = dutyCyclePct
	return p.apply()
}

func (p *gpioPin) PWM(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty, nil
}

func (p *gpioPin) SetPWMFreq(ctx context.Context, freqHz uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freq = freqHz
	if p.duty > 0 {
		return p.apply()
	}
	return nil
}

func (p *gpioPin) PWMFreq(ctx context.Context) (uint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freq, nil
}

// apply pushes the stored duty and frequency to the hardware. Zero duty
// drops the pin low instead of emitting a degenerate PWM signal.
func (p *gpioPin) apply() error {
	if p.duty <= 0 {
		return p.pin.Out(gpio.Low)
	}
	duty := gpio.Duty(p.duty * float64(gpio.DutyMax))
	freq := physic.Frequency(p.freq) * physic.Hertz
	return p.pin.PWM(duty, freq)
}

type digitalInterrupt struct {
	name   string
	pin    gpio.PinIO
	logger golog.Logger

	mu        sync.Mutex
	callbacks []chan board.Tick
}

func (i *digitalInterrupt) Name() string {
	return i.name
}

func (i *digitalInterrupt) AddCallback(c chan board.Tick) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.callbacks = append(i.callbacks, c)
}

func (i *digitalInterrupt) RemoveCallback(c chan board.Tick) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx, cb := range i.callbacks {
		if cb == c {
			i.callbacks = append(i.callbacks[:idx], i.callbacks[idx+1:]...)
			break
		}
	}
}

// watch blocks on hardware edges and fans them out to the callbacks.
func (i *digitalInterrupt) watch(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !i.pin.WaitForEdge(edgeWaitTimeout) {
			continue
		}
		tick := board.Tick{
			Name:             i.name,
			High:             bool(i.pin.Read()),
			TimestampNanosec: uint64(time.Now().UnixNano()),
		}
		i.mu.Lock()
		callbacks := make([]chan board.Tick, len(i.callbacks))
		copy(callbacks, i.callbacks)
		i.mu.Unlock()
		for _, c := range callbacks {
			select {
			case <-ctx.Done():
				return
			case c <- tick:
			}
		}
	}
}

// i2cBus serializes handle holders onto one kernel bus.
type i2cBus struct {
	mu  sync.Mutex
	bus i2c.BusCloser
}

func (b *i2cBus) OpenHandle(addr byte) (board.I2CHandle, error) {
	b.mu.Lock() // unlocked by i2cHandle.Close
	return &i2cHandle{dev: &i2c.Dev{Bus: b.bus, Addr: uint16(addr)}, unlock: b.mu.Unlock}, nil
}

func (b *i2cBus) Scan(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var found []byte
	buf := make([]byte, 1)
	for addr := uint16(0x08); addr <= 0x77; addr++ {
		dev := &i2c.Dev{Bus: b.bus, Addr: addr}
		if err := dev.Tx(nil, buf); err == nil {
			found = append(found, byte(addr))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return found, nil
}

type i2cHandle struct {
	dev    *i2c.Dev
	unlock func()
}

func (h *i2cHandle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	buf := make([]byte, 1)
	if err := h.dev.Tx([]byte{register}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (h *i2cHandle) WriteByteData(ctx context.Context, register, data byte) error {
	return h.dev.Tx([]byte{register, data}, nil)
}

func (h *i2cHandle) ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error) {
	buf := make([]byte, numBytes)
	if err := h.dev.Tx([]byte{register}, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (h *i2cHandle) WriteBlockData(ctx context.Context, register byte, data []byte) error {
	return h.dev.Tx(append([]byte{register}, data...), nil)
}

func (h *i2cHandle) Close() error {
	h.unlock()
	return nil
}
