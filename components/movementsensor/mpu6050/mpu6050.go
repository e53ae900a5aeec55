// Package mpu6050 implements the register protocol of the InvenSense MPU-6050
// 6-axis accelerometer/gyroscope.
//
// The datasheet for this chip is available at:
// https://invensense.tdk.com/wp-content/uploads/2015/02/MPU-6000-Datasheet1.pdf
package mpu6050

import (
	"context"
	"encoding/binary"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/primekit-robotics/primekit/components/board"
)

const (
	whoAmIRegister      = 0x75
	expectedWhoAmI      = 0x68
	powerMgmt1Register  = 0x6b
	accelConfigRegister = 0x1c
	gyroConfigRegister  = 0x1b
	accelDataRegister   = 0x3b
	gyroDataRegister    = 0x43

	sleepBit = 1 << 6
)

// Device is an MPU-6050 attached to an I2C bus.
type Device struct {
	bus     board.I2C
	address byte
	logger  golog.Logger
}

// NewDevice finds the chip on the bus, wakes it, and configures the default
// full-scale ranges (±2g, ±250 degrees per second).
func NewDevice(ctx context.Context, bus board.I2C, logger golog.Logger) (*Device, error) {
	addrs, err := bus.Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cannot scan I2C bus")
	}
	if len(addrs) == 0 {
		return nil, errors.New("no I2C devices found on bus")
	}
	address := addrs[0]
	logger.Debugf("using I2C device at address %#x", address)

	d := &Device{bus: bus, address: address, logger: logger}

	identity, err := d.readByte(ctx, whoAmIRegister)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read device identity")
	}
	if identity != expectedWhoAmI {
		return nil, errors.Errorf("unexpected device identity %#x at address %#x (want %#x)",
			identity, address, expectedWhoAmI)
	}

	// Clearing the power management register takes the chip out of sleep.
	if err := d.writeByte(ctx, powerMgmt1Register, 0); err != nil {
		return nil, errors.Wrap(err, "cannot wake device")
	}
	if err := d.writeByte(ctx, accelConfigRegister, 0); err != nil {
		return nil, errors.Wrap(err, "cannot configure accelerometer range")
	}
	if err := d.writeByte(ctx, gyroConfigRegister, 0); err != nil {
		return nil, errors.Wrap(err, "cannot configure gyroscope range")
	}
	return d, nil
}

// Address returns the device's bus address.
func (d *Device) Address() byte {
	return d.address
}

// RawAcceleration reads the three accelerometer axes as raw counts
// (16384 counts per g at the default range).
func (d *Device) RawAcceleration(ctx context.Context) (r3.Vector, error) {
	return d.readVector(ctx, accelDataRegister)
}

// RawAngularVelocity reads the three gyroscope axes as raw counts
// (131 counts per degree-per-second at the default range).
func (d *Device) RawAngularVelocity(ctx context.Context) (r3.Vector, error) {
	return d.readVector(ctx, gyroDataRegister)
}

// Close puts the chip back to sleep.
func (d *Device) Close(ctx context.Context) error {
	return d.writeByte(ctx, powerMgmt1Register, sleepBit)
}

// readVector reads three consecutive big-endian int16 registers.
func (d *Device) readVector(ctx context.Context, register byte) (r3.Vector, error) {
	data, err := d.readBlock(ctx, register, 6)
	if err != nil {
		return r3.Vector{}, err
	}
	return r3.Vector{
		X: float64(int16(binary.BigEndian.Uint16(data[0:2]))),
		Y: float64(int16(binary.BigEndian.Uint16(data[2:4]))),
		Z: float64(int16(binary.BigEndian.Uint16(data[4:6]))),
	}, nil
}

func (d *Device) readByte(ctx context.Context, register byte) (byte, error) {
	handle, err := d.bus.OpenHandle(d.address)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := handle.Close(); err != nil {
			d.logger.Errorw("error closing I2C handle", "error", err)
		}
	}()
	return handle.ReadByteData(ctx, register)
}

func (d *Device) writeByte(ctx context.Context, register, value byte) error {
	handle, err := d.bus.OpenHandle(d.address)
	if err != nil {
		return err
	}
	defer func() {
		if err := handle.Close(); err != nil {
			d.logger.Errorw("error closing I2C handle", "error", err)
		}
	}()
	return handle.WriteByteData(ctx, register, value)
}

func (d *Device) readBlock(ctx context.Context, register byte, numBytes uint8) ([]byte, error) {
	handle, err := d.bus.OpenHandle(d.address)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := handle.Close(); err != nil {
			d.logger.Errorw("error closing I2C handle", "error", err)
		}
	}()
	return handle.ReadBlockData(ctx, register, numBytes)
}
