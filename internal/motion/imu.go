package motion

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"northcam/internal/i2c"
	"northcam/internal/sensors/icm20948"
)

// IMU is the register-level device surface the polling feed reads.
type IMU interface {
	ReadAccel() (r3.Vec, error)
	ReadMag() (r3.Vec, bool, error)
	HasMag() bool
	MagError() error
}

// IMUFeed polls an ICM-20948 on a Linux I2C bus.
type IMUFeed struct {
	Bus      int
	Addr     uint16
	Interval time.Duration

	// Open replaces the hardware in tests.
	Open func() (IMU, io.Closer, error)
}

func (f *IMUFeed) Name() string  { return "icm20948" }
func (f *IMUFeed) Kinds() []Kind { return []Kind{Mag, Accel} }

func (f *IMUFeed) open() (IMU, io.Closer, error) {
	if f.Open != nil {
		return f.Open()
	}
	busN := f.Bus
	if busN == 0 {
		busN = 1
	}
	bus, err := i2c.Open(busN)
	if err != nil {
		return nil, nil, err
	}
	addr := f.Addr
	if addr == 0 {
		addr = icm20948.DefaultAddress()
	}
	dev, err := icm20948.New(bus.Dev(addr), bus.Dev(icm20948.MagAddress()))
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	return dev, bus, nil
}

// Run polls until ctx ends. A sensor that fails while the other keeps working
// is reported in-band as a Sample with Err set, once per failure. Fatal
// errors are returned instead.
func (f *IMUFeed) Run(ctx context.Context, out chan<- Sample) error {
	dev, closer, err := f.open()
	if err != nil {
		return fmt.Errorf("motion: imu init: %w", err)
	}
	defer closer.Close()

	if !dev.HasMag() {
		log.Printf("motion: magnetometer unavailable err=%v", dev.MagError())
		if !send(ctx, out, Sample{Kind: Mag, At: time.Now().UTC(), Err: dev.MagError()}) {
			return nil
		}
	}

	interval := f.Interval
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	log.Printf("motion: imu feed bus=%d addr=0x%02X interval=%s", f.Bus, f.Addr, interval)

	t := time.NewTicker(interval)
	defer t.Stop()

	var accelFailing, magFailing bool
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			now = now.UTC()
			a, err := dev.ReadAccel()
			if err != nil {
				if !accelFailing && !send(ctx, out, Sample{Kind: Accel, At: now, Err: err}) {
					return nil
				}
				accelFailing = true
			} else {
				accelFailing = false
				if !send(ctx, out, Sample{Kind: Accel, Vec: a, At: now}) {
					return nil
				}
			}

			if !dev.HasMag() {
				continue
			}
			m, ok, err := dev.ReadMag()
			if err != nil {
				if !magFailing && !send(ctx, out, Sample{Kind: Mag, At: now, Err: err}) {
					return nil
				}
				magFailing = true
				continue
			}
			if !ok {
				continue
			}
			magFailing = false
			if !send(ctx, out, Sample{Kind: Mag, Vec: m, At: now}) {
				return nil
			}
		}
	}
}
