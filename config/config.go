// Package config describes the wiring and tuning of a robot: which pins each
// motor port uses, drivetrain geometry, and control-loop parameters.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// MotorPins names the board pins backing one motor port.
type MotorPins struct {
	// Servo is the PWM output pin driving the continuous-rotation servo.
	Servo string `json:"servo"`
	// Encoder is the digital interrupt pin the encoder pulses on.
	Encoder string `json:"encoder"`
}

// Validate ensures both pins are set.
func (p *MotorPins) Validate(path string) error {
	if p.Servo == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "servo")
	}
	if p.Encoder == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "encoder")
	}
	return nil
}

// Tuning holds drivetrain geometry and control parameters shared by all
// motor ports.
type Tuning struct {
	PulsesPerRevolution  int     `json:"pulses_per_revolution"`
	WheelDiameterCM      float64 `json:"wheel_diameter_cm"`
	WheelSeparationCM    float64 `json:"wheel_separation_cm"`
	MaxSpeedDPS          float64 `json:"max_speed_dps"`
	DefaultSpeedDPS      float64 `json:"default_speed_dps"`
	PositionToleranceDeg float64 `json:"position_tolerance_deg"`
	ControlLoopPeriodMS  int     `json:"control_loop_period_ms"`
}

// Validate ensures the tuning values are usable.
func (t *Tuning) Validate(path string) error {
	if t.PulsesPerRevolution <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("pulses_per_revolution must be positive"))
	}
	if t.WheelDiameterCM <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("wheel_diameter_cm must be positive"))
	}
	if t.WheelSeparationCM <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("wheel_separation_cm must be positive"))
	}
	if t.MaxSpeedDPS <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_speed_dps must be positive"))
	}
	if t.DefaultSpeedDPS <= 0 || t.DefaultSpeedDPS > t.MaxSpeedDPS {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("default_speed_dps must be in (0, %v]", t.MaxSpeedDPS))
	}
	if t.PositionToleranceDeg <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("position_tolerance_deg must be positive"))
	}
	if t.ControlLoopPeriodMS <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("control_loop_period_ms must be positive"))
	}
	return nil
}

// ControlLoopPeriod returns the position-control loop period.
func (t *Tuning) ControlLoopPeriod() time.Duration {
	return time.Duration(t.ControlLoopPeriodMS) * time.Millisecond
}

// DegreesPerPulse returns how many degrees of shaft rotation one encoder
// pulse represents.
func (t *Tuning) DegreesPerPulse() float64 {
	return 360.0 / float64(t.PulsesPerRevolution)
}

// WheelCircumferenceCM returns the wheel circumference.
func (t *Tuning) WheelCircumferenceCM() float64 {
	return t.WheelDiameterCM * math.Pi
}

// Config is the full robot configuration.
type Config struct {
	// Motors maps port letters ("A" through "F") to their pins.
	Motors map[string]MotorPins `json:"motors"`
	Tuning Tuning               `json:"tuning"`

	// I2CBus names the bus the inertial sensor sits on. Empty disables it.
	I2CBus string `json:"i2c_bus,omitempty"`
	// ColorSensorPin names the analog pin of the reflection sensor. Empty
	// disables it.
	ColorSensorPin string `json:"color_sensor_pin,omitempty"`
	// StartButtonPin names the digital interrupt pin of the start button.
	// Empty disables it.
	StartButtonPin string `json:"start_button_pin,omitempty"`
}

// Validate ensures the config describes a usable robot.
func (c *Config) Validate(path string) error {
	if len(c.Motors) == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "motors")
	}
	for port, pins := range c.Motors {
		pinsCopy := pins
		if err := pinsCopy.Validate(fmt.Sprintf("%s.motors.%s", path, port)); err != nil {
			return err
		}
	}
	return c.Tuning.Validate(path + ".tuning")
}

// DefaultConfig returns the stock wiring and tuning for the reference
// chassis.
func DefaultConfig() *Config {
	return &Config{
		Motors: map[string]MotorPins{
			"A": {Servo: "16", Encoder: "13"},
			"B": {Servo: "17", Encoder: "14"},
			"C": {Servo: "5", Encoder: "12"},
			"D": {Servo: "18", Encoder: "25"},
			"E": {Servo: "19", Encoder: "26"},
			"F": {Servo: "23", Encoder: "27"},
		},
		Tuning: Tuning{
			PulsesPerRevolution:  20,
			WheelDiameterCM:      6.0,
			WheelSeparationCM:    6.7,
			MaxSpeedDPS:          540,
			DefaultSpeedDPS:      360,
			PositionToleranceDeg: 20,
			ControlLoopPeriodMS:  50,
		},
		I2CBus:         "1",
		ColorSensorPin: "34",
		StartButtonPin: "35",
	}
}

// ReadConfig loads and validates a JSON config file.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", path)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", path)
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return &cfg, nil
}
