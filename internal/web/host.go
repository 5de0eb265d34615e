package web

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// HostSnapshot describes the board the camera runs on.
type HostSnapshot struct {
	Model     string   `json:"model,omitempty"`
	CPUTempC  *float64 `json:"cpu_temp_c,omitempty"`
	LastError string   `json:"last_error,omitempty"`
}

var (
	thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"
	modelPaths      = []string{"/sys/firmware/devicetree/base/model", "/proc/device-tree/model"}
)

// parseMilliC accepts the thermal zone value, which is milli-°C on most
// kernels and whole degrees on a few.
func parseMilliC(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("cpu temp empty")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse cpu temp %q: %w", s, err)
	}
	if n > 1000 {
		return float64(n) / 1000.0, nil
	}
	return float64(n), nil
}

func boardModel(paths []string) string {
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if m := strings.Trim(strings.TrimSpace(string(b)), "\x00"); m != "" {
			return m
		}
	}
	return ""
}

func snapshotHost() HostSnapshot {
	h := HostSnapshot{Model: boardModel(modelPaths)}
	b, err := os.ReadFile(thermalZonePath)
	if err != nil {
		if !os.IsNotExist(err) {
			h.LastError = err.Error()
		}
		return h
	}
	c, err := parseMilliC(string(b))
	if err != nil {
		h.LastError = err.Error()
		return h
	}
	h.CPUTempC = &c
	return h
}
