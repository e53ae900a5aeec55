// Package board defines the hardware abstractions the rest of the SDK is
// built against: GPIO pins, digital interrupts, analog readers, and I2C buses.
// Implementations live in subpackages (genericlinux for real Linux boards,
// fake for tests).
package board

import "context"

// Board is a collection of hardware resources addressed by name.
type Board interface {
	// GPIOPinByName returns the named GPIO pin.
	GPIOPinByName(name string) (GPIOPin, error)

	// DigitalInterruptByName returns the named digital interrupt, if configured.
	DigitalInterruptByName(name string) (DigitalInterrupt, bool)

	// AnalogByName returns the named analog reader, if configured.
	AnalogByName(name string) (Analog, bool)

	// I2CByName returns the named I2C bus, if configured.
	I2CByName(name string) (I2C, bool)

	Close(ctx context.Context) error
}

// GPIOPin is a single digital pin with optional PWM support.
type GPIOPin interface {
	Set(ctx context.Context, high bool) error

	// SetPWM sets the duty cycle as a fraction in [0, 1].
	SetPWM(ctx context.Context, dutyCyclePct float64) error
	PWM(ctx context.Context) (float64, error)

	SetPWMFreq(ctx context.Context, freqHz uint) error
	PWMFreq(ctx context.Context) (uint, error)
}

// Tick represents an edge observed on a digital interrupt.
type Tick struct {
	Name             string
	High             bool
	TimestampNanosec uint64
}

// DigitalInterrupt reports edges on a pin to registered channels.
type DigitalInterrupt interface {
	Name() string

	// AddCallback registers a channel to receive all future ticks. The
	// channel should be buffered; sends are blocking.
	AddCallback(c chan Tick)

	// RemoveCallback unregisters a previously added channel.
	RemoveCallback(c chan Tick)
}

// Analog reads a raw value from an analog input.
type Analog interface {
	Read(ctx context.Context) (int, error)
}

// I2C is a shared I2C bus. Handles hold the bus until closed.
type I2C interface {
	OpenHandle(addr byte) (I2CHandle, error)

	// Scan probes the bus and returns the addresses of responding devices.
	Scan(ctx context.Context) ([]byte, error)
}

// I2CHandle is an exclusive claim on a bus, addressed to one device.
type I2CHandle interface {
	ReadByteData(ctx context.Context, register byte) (byte, error)
	WriteByteData(ctx context.Context, register, data byte) error
	ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error)
	WriteBlockData(ctx context.Context, register byte, data []byte) error

	// Close releases the bus for other handles.
	Close() error
}
