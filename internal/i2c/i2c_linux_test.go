//go:build linux

package i2c

import (
	"os"
	"strings"
	"testing"
)

func nullBus(t *testing.T) *Bus {
	t.Helper()
	f, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile /dev/null: %v", err)
	}
	b := &Bus{f: f, path: "/dev/null"}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestTransfer_InvalidAddr(t *testing.T) {
	b := nullBus(t)
	for _, addr := range []uint16{0, 0x80} {
		err := b.Dev(addr).WriteReg(0x00, 0x01)
		if err == nil || !strings.Contains(err.Error(), "invalid addr") {
			t.Fatalf("addr=0x%X err=%v want invalid addr", addr, err)
		}
	}
}

func TestTransfer_EmptyIsNoop(t *testing.T) {
	b := nullBus(t)
	if err := b.Dev(0x68).transfer(nil, nil); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestTransfer_ClosedBus(t *testing.T) {
	b := nullBus(t)
	_ = b.Close()
	if err := b.Dev(0x68).WriteReg(0, 0); err == nil || !strings.Contains(err.Error(), "bus closed") {
		t.Fatalf("err=%v want bus closed", err)
	}
}
