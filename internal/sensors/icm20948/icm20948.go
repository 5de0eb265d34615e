// Package icm20948 drives the ICM-20948 9-axis IMU: accelerometer from the
// main die and magnetometer from the on-package AK09916, reached through the
// auxiliary I2C bypass.
package icm20948

import (
	"encoding/binary"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

var sleep = time.Sleep

const (
	addrDefault = 0x68
	addrMag     = 0x0C

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regUserCtrl   = 0x03
	regPwrMgmt1   = 0x06
	regPwrMgmt2   = 0x07
	regIntPinCfg  = 0x0F
	regAccelXoutH = 0x2D
	bitReset      = 0x80
	bitBypassEn   = 0x02
	clkAuto       = 0x01

	// Bank 2.
	bank2           = 2
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14
	fsAccel4g       = 0x02

	// AK09916.
	magRegWIA2   = 0x01
	magWIA2Val   = 0x09
	magRegST1    = 0x10
	magRegHXL    = 0x11
	magRegCNTL2  = 0x31
	magRegCNTL3  = 0x32
	magST1DRDY   = 0x01
	magST2HOFL   = 0x08
	magMode100Hz = 0x08
	magScaleUT   = 0.15
)

// RegIO is the register access the driver needs; *i2c.Dev satisfies it.
type RegIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

// MagAddress is the AK09916 address once bypass is enabled.
func MagAddress() uint16 { return addrMag }

type Device struct {
	imu RegIO
	mag RegIO

	curBank    byte
	scaleAccel float64
	magOK      bool
	magErr     error
}

// New probes and configures the IMU. mag may be nil; if the magnetometer
// cannot be initialized the accelerometer still works and MagError reports why.
func New(imu, mag RegIO) (*Device, error) {
	if imu == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	d := &Device{imu: imu, mag: mag, curBank: 0xFF}

	who, err := imu.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}
	if err := d.initIMU(); err != nil {
		return nil, err
	}
	if mag == nil {
		d.magErr = fmt.Errorf("icm20948: magnetometer not wired")
	} else if err := d.initMag(); err != nil {
		d.magErr = err
	} else {
		d.magOK = true
	}
	return d, nil
}

func (d *Device) initIMU() error {
	if err := d.setBank(0); err != nil {
		return err
	}
	if err := d.imu.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	if err := d.imu.WriteReg(regPwrMgmt1, clkAuto); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	// Accel and gyro on.
	_ = d.imu.WriteReg(regPwrMgmt2, 0x00)

	// Let the host talk to the AK09916 directly.
	if err := d.imu.WriteReg(regUserCtrl, 0x00); err != nil {
		return fmt.Errorf("icm20948: disable i2c master failed: %w", err)
	}
	if err := d.imu.WriteReg(regIntPinCfg, bitBypassEn); err != nil {
		return fmt.Errorf("icm20948: enable bypass failed: %w", err)
	}

	if err := d.setBank(bank2); err != nil {
		return err
	}
	// 1125/(1+div) Hz; ~50 Hz is well above the polling rate.
	_ = d.imu.WriteReg(regAccelSmplrt2, byte(1125/50-1))
	if err := d.imu.WriteReg(regAccelConfig, fsAccel4g); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}
	if err := d.setBank(0); err != nil {
		return err
	}
	d.scaleAccel = 4.0 / 32768.0
	return nil
}

func (d *Device) initMag() error {
	wia, err := d.mag.ReadRegU8(magRegWIA2)
	if err != nil {
		return fmt.Errorf("icm20948: magnetometer probe failed: %w", err)
	}
	if wia != magWIA2Val {
		return fmt.Errorf("icm20948: magnetometer wia2=0x%02X want 0x%02X", wia, magWIA2Val)
	}
	if err := d.mag.WriteReg(magRegCNTL3, 0x01); err != nil {
		return fmt.Errorf("icm20948: magnetometer reset failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	if err := d.mag.WriteReg(magRegCNTL2, magMode100Hz); err != nil {
		return fmt.Errorf("icm20948: magnetometer mode failed: %w", err)
	}
	return nil
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.imu.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// HasMag reports whether the magnetometer initialized.
func (d *Device) HasMag() bool { return d.magOK }

// MagError explains why HasMag is false.
func (d *Device) MagError() error { return d.magErr }

// ReadAccel returns acceleration in g, sensor frame.
func (d *Device) ReadAccel() (r3.Vec, error) {
	if err := d.setBank(0); err != nil {
		return r3.Vec{}, err
	}
	var buf [6]byte
	if err := d.imu.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return r3.Vec{}, fmt.Errorf("icm20948: read accel failed: %w", err)
	}
	return r3.Vec{
		X: float64(int16(binary.BigEndian.Uint16(buf[0:2]))) * d.scaleAccel,
		Y: float64(int16(binary.BigEndian.Uint16(buf[2:4]))) * d.scaleAccel,
		Z: float64(int16(binary.BigEndian.Uint16(buf[4:6]))) * d.scaleAccel,
	}, nil
}

// ReadMag returns the magnetic field in µT, rotated into the accelerometer
// frame. ok is false when no new measurement is ready.
func (d *Device) ReadMag() (v r3.Vec, ok bool, err error) {
	if !d.magOK {
		return r3.Vec{}, false, d.magErr
	}
	st1, err := d.mag.ReadRegU8(magRegST1)
	if err != nil {
		return r3.Vec{}, false, fmt.Errorf("icm20948: read mag status failed: %w", err)
	}
	if st1&magST1DRDY == 0 {
		return r3.Vec{}, false, nil
	}
	// HXL..HZH, TMPS, ST2. Reading ST2 releases the data registers.
	var buf [8]byte
	if err := d.mag.ReadReg(magRegHXL, buf[:]); err != nil {
		return r3.Vec{}, false, fmt.Errorf("icm20948: read mag failed: %w", err)
	}
	if buf[7]&magST2HOFL != 0 {
		return r3.Vec{}, false, fmt.Errorf("icm20948: magnetometer overflow")
	}
	mx := float64(int16(binary.LittleEndian.Uint16(buf[0:2]))) * magScaleUT
	my := float64(int16(binary.LittleEndian.Uint16(buf[2:4]))) * magScaleUT
	mz := float64(int16(binary.LittleEndian.Uint16(buf[4:6]))) * magScaleUT
	// AK09916 Y and Z point opposite to the accelerometer's.
	return r3.Vec{X: mx, Y: -my, Z: -mz}, true, nil
}
