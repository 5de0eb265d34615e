package location

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"
	"time"
)

func nmeaLine(payload string) string {
	var ck byte
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

func TestParseNMEASentence_Checksum(t *testing.T) {
	line := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	s, err := parseNMEASentence(line)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Type != "RMC" {
		t.Fatalf("type=%q", s.Type)
	}
	bad := line[:len(line)-2] + "00"
	if _, err := parseNMEASentence(bad); err == nil {
		t.Fatalf("expected checksum mismatch")
	}
	if _, err := parseNMEASentence("$GPRMC,1,2"); err == nil {
		t.Fatalf("expected missing checksum")
	}
}

func TestNMEASentence_RMCFix(t *testing.T) {
	s, _ := parseNMEASentence(nmeaLine("GNRMC,123519,A,4042.768,N,07400.360,W,0.0,0.0,010326,,"))
	fix, ok := s.fix(time.Now())
	if !ok {
		t.Fatalf("expected fix")
	}
	if math.Abs(fix.Coord.LatDeg-40.7128) > 1e-6 || math.Abs(fix.Coord.LonDeg+74.006) > 1e-6 {
		t.Fatalf("coord=%v", fix.Coord)
	}
}

func TestNMEASentence_VoidAndNoQualityIgnored(t *testing.T) {
	s, _ := parseNMEASentence(nmeaLine("GPRMC,123519,V,4042.768,N,07400.360,W,0.0,0.0,010326,,"))
	if _, ok := s.fix(time.Now()); ok {
		t.Fatalf("void RMC should not produce a fix")
	}
	s, _ = parseNMEASentence(nmeaLine("GPGGA,123519,4042.768,N,07400.360,W,0,08,0.9,10.0,M,,M,,"))
	if _, ok := s.fix(time.Now()); ok {
		t.Fatalf("quality 0 GGA should not produce a fix")
	}
}

func TestNMEASentence_GGAAccuracy(t *testing.T) {
	s, _ := parseNMEASentence(nmeaLine("GPGGA,123519,4042.768,N,07400.360,W,1,08,0.9,10.0,M,,M,,"))
	fix, ok := s.fix(time.Now())
	if !ok {
		t.Fatalf("expected fix")
	}
	if fix.HorizAccM == nil || math.Abs(*fix.HorizAccM-4.5) > 1e-9 {
		t.Fatalf("horiz_acc=%v", fix.HorizAccM)
	}
}

func TestNMEAFeed_ReadsFromOpener(t *testing.T) {
	data := strings.Join([]string{
		"garbage",
		nmeaLine("GPGSV,1,1,00"),
		nmeaLine("GNRMC,123519,A,4042.768,N,07400.360,W,0.0,0.0,010326,,"),
	}, "\r\n") + "\r\n"

	f := &NMEAFeed{
		Device: "/dev/fake",
		Open: func(string, int) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(data)), nil
		},
	}
	out := make(chan Fix, 4)
	err := f.Run(context.Background(), out)
	if err == nil {
		t.Fatalf("expected EOF error at end of stream")
	}
	if len(out) != 1 {
		t.Fatalf("fixes=%d want 1", len(out))
	}
	if fix := <-out; fix.Source != "nmea" {
		t.Fatalf("source=%q", fix.Source)
	}
}
