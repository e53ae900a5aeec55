// Demo drives a two-wheel robot through a short routine: wait for the start
// button, drive a straight line with yaw hold, spin ninety degrees, and
// report the reflectance reading.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/primekit-robotics/primekit/components/board/genericlinux"
	"github.com/primekit-robotics/primekit/components/movementsensor/imu"
	"github.com/primekit-robotics/primekit/components/movementsensor/mpu6050"
	"github.com/primekit-robotics/primekit/config"
	"github.com/primekit-robotics/primekit/robot"
)

func main() {
	utils.ContextualMain(mainWithArgs, golog.NewDevelopmentLogger("demo"))
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a robot config (defaults to the stock chassis)")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.ReadConfig(*configPath); err != nil {
			return err
		}
	} else {
		// The stock config names an ADC pin, but Linux boards have no ADC.
		cfg.ColorSensorPin = ""
	}

	b, err := genericlinux.NewBoard(ctx, logger.Named("board"))
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(ctx); err != nil {
			logger.Errorw("error closing board", "error", err)
		}
	}()

	var opts []robot.Option
	if cfg.I2CBus != "" {
		bus, ok := b.I2CByName(cfg.I2CBus)
		if !ok {
			return errors.Errorf("I2C bus %q not found", cfg.I2CBus)
		}
		dev, err := mpu6050.NewDevice(ctx, bus, logger.Named("mpu6050"))
		if err != nil {
			return err
		}
		defer func() {
			if err := dev.Close(ctx); err != nil {
				logger.Errorw("error closing inertial sensor", "error", err)
			}
		}()

		estimator := imu.New(dev, logger.Named("imu"))
		logger.Info("hold the robot still for calibration")
		if err := estimator.Calibrate(ctx, imu.DefaultCalibrationSamples); err != nil {
			return err
		}
		opts = append(opts, robot.WithOrientation(estimator))
	}

	r, err := robot.New(ctx, b, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(ctx); err != nil {
			logger.Errorw("error closing robot", "error", err)
		}
	}()

	if err := r.WaitForStart(ctx); err != nil {
		return err
	}

	if err := r.Pair(ctx, 1, "A", "B"); err != nil {
		return err
	}
	if err := r.MoveForDegrees(ctx, 1, 720, 0, 0); err != nil {
		return err
	}
	if err := r.MoveTankForDegrees(ctx, 1, 90, 360, -360); err != nil {
		return err
	}
	if err := r.MoveForTime(ctx, 1, 2*time.Second, 0, 270); err != nil {
		return err
	}

	if reflection, err := r.Reflection(ctx); err != nil {
		logger.Debugw("no reflectance reading", "error", err)
	} else {
		logger.Infow("surface reflectance", "value", reflection)
	}
	return r.StopAll(ctx)
}
