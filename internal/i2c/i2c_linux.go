//go:build linux

// Package i2c is a small /dev/i2c-* transport for register-oriented sensors.
package i2c

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// I2C_RDWR lets a register read be a single combined write+read with a
// repeated start, which the ICM-20948 and AK09916 both expect.
const (
	flagRead   = 0x0001
	ioctlRdwr  = 0x0707
	maxAddress = 0x7F
)

type message struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type rdwrIoctlData struct {
	msgs  uintptr
	nmsgs uint32
}

// Bus is an open adapter. Transfers are serialized, so devices on the same bus
// may be polled from different goroutines.
type Bus struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open opens /dev/i2c-<n>.
func Open(n int) (*Bus, error) {
	return OpenPath(fmt.Sprintf("/dev/i2c-%d", n))
}

func OpenPath(path string) (*Bus, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &Bus{f: f, path: path}, nil
}

func (b *Bus) Path() string { return b.path }

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// Dev returns a handle for the 7-bit address addr.
func (b *Bus) Dev(addr uint16) *Dev {
	return &Dev{bus: b, addr: addr}
}

type Dev struct {
	bus  *Bus
	addr uint16
}

func (d *Dev) ReadReg(reg byte, dst []byte) error {
	return d.transfer([]byte{reg}, dst)
}

func (d *Dev) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := d.transfer([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Dev) WriteReg(reg, value byte) error {
	return d.transfer([]byte{reg, value}, nil)
}

func (d *Dev) transfer(w, r []byte) error {
	if d == nil || d.bus == nil {
		return errors.New("i2c: device is nil")
	}
	if d.addr == 0 || d.addr > maxAddress {
		return fmt.Errorf("i2c: invalid addr 0x%X", d.addr)
	}
	if len(w) == 0 && len(r) == 0 {
		return nil
	}

	msgs := make([]message, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, message{addr: d.addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, message{addr: d.addr, flags: flagRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	data := rdwrIoctlData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}

	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	if d.bus.f == nil {
		return errors.New("i2c: bus closed")
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.bus.f.Fd(), uintptr(ioctlRdwr), uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return fmt.Errorf("i2c: %s addr 0x%02X: %w", d.bus.path, d.addr, errno)
	}
	return nil
}
