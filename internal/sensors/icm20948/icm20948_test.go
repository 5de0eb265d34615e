package icm20948

import (
	"errors"
	"math"
	"testing"
	"time"
)

type fakeRegs struct {
	regs   map[byte][]byte
	writes []writeOp
	errFor map[byte]error
}

type writeOp struct {
	reg byte
	val byte
}

func (f *fakeRegs) ReadRegU8(reg byte) (byte, error) {
	if err := f.errFor[reg]; err != nil {
		return 0, err
	}
	b := f.regs[reg]
	if len(b) < 1 {
		return 0, errors.New("no reg")
	}
	return b[0], nil
}

func (f *fakeRegs) ReadReg(reg byte, dst []byte) error {
	if err := f.errFor[reg]; err != nil {
		return err
	}
	b := f.regs[reg]
	if len(b) < len(dst) {
		return errors.New("short reg")
	}
	copy(dst, b[:len(dst)])
	return nil
}

func (f *fakeRegs) WriteReg(reg, value byte) error {
	f.writes = append(f.writes, writeOp{reg: reg, val: value})
	return nil
}

func (f *fakeRegs) wrote(reg, val byte) bool {
	for _, w := range f.writes {
		if w.reg == reg && w.val == val {
			return true
		}
	}
	return false
}

func noSleep(t *testing.T) {
	t.Helper()
	old := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = old })
}

func TestNew_WhoAmIMismatch(t *testing.T) {
	noSleep(t)
	imu := &fakeRegs{regs: map[byte][]byte{regWhoAmI: {0x00}}}
	if _, err := New(imu, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNew_EnablesBypassAndMag(t *testing.T) {
	noSleep(t)
	imu := &fakeRegs{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	mag := &fakeRegs{regs: map[byte][]byte{magRegWIA2: {magWIA2Val}}}
	d, err := New(imu, mag)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !imu.wrote(regPwrMgmt1, bitReset) || !imu.wrote(regPwrMgmt1, clkAuto) {
		t.Fatalf("missing reset/wake writes: %+v", imu.writes)
	}
	if !imu.wrote(regIntPinCfg, bitBypassEn) {
		t.Fatalf("bypass not enabled")
	}
	if !mag.wrote(magRegCNTL2, magMode100Hz) {
		t.Fatalf("mag continuous mode not set")
	}
	if !d.HasMag() {
		t.Fatalf("expected mag: %v", d.MagError())
	}
}

func TestNew_MissingMagKeepsAccel(t *testing.T) {
	noSleep(t)
	imu := &fakeRegs{regs: map[byte][]byte{
		regWhoAmI:     {whoAmIVal},
		regAccelXoutH: {0x20, 0x00, 0x00, 0x00, 0x00, 0x00},
	}}
	mag := &fakeRegs{errFor: map[byte]error{magRegWIA2: errors.New("nack")}}
	d, err := New(imu, mag)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.HasMag() || d.MagError() == nil {
		t.Fatalf("expected mag error")
	}
	if _, _, err := d.ReadMag(); err == nil {
		t.Fatalf("ReadMag should fail without mag")
	}
	v, err := d.ReadAccel()
	if err != nil {
		t.Fatalf("ReadAccel: %v", err)
	}
	// 0x2000 = 8192 counts at 4g full scale = 1g.
	if math.Abs(v.X-1) > 1e-9 || v.Y != 0 || v.Z != 0 {
		t.Fatalf("accel=%v", v)
	}
}

func TestReadMag_ScalesAndAligns(t *testing.T) {
	noSleep(t)
	imu := &fakeRegs{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	mag := &fakeRegs{regs: map[byte][]byte{
		magRegWIA2: {magWIA2Val},
		magRegST1:  {magST1DRDY},
		// X=100, Y=200, Z=-100 counts little-endian, TMPS, ST2=0
		magRegHXL: {0x64, 0x00, 0xC8, 0x00, 0x9C, 0xFF, 0x00, 0x00},
	}}
	d, err := New(imu, mag)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v, ok, err := d.ReadMag()
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if math.Abs(v.X-15) > 1e-9 || math.Abs(v.Y+30) > 1e-9 || math.Abs(v.Z-15) > 1e-9 {
		t.Fatalf("mag=%v", v)
	}
}

func TestReadMag_NotReadyAndOverflow(t *testing.T) {
	noSleep(t)
	imu := &fakeRegs{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	mag := &fakeRegs{regs: map[byte][]byte{
		magRegWIA2: {magWIA2Val},
		magRegST1:  {0x00},
		magRegHXL:  {0, 0, 0, 0, 0, 0, 0, magST2HOFL},
	}}
	d, err := New(imu, mag)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok, err := d.ReadMag(); ok || err != nil {
		t.Fatalf("not-ready: ok=%v err=%v", ok, err)
	}
	mag.regs[magRegST1] = []byte{magST1DRDY}
	if _, _, err := d.ReadMag(); err == nil {
		t.Fatalf("expected overflow error")
	}
}
