//go:build unix

package perm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ReadableDevice checks that path exists and is readable by this process.
func ReadableDevice(path string) Check {
	return func() error {
		if path == "" {
			return nil
		}
		if err := unix.Access(path, unix.R_OK); err != nil {
			return fmt.Errorf("%s not readable: %w", path, err)
		}
		return nil
	}
}

// WritableDir checks that dir exists and is writable by this process.
func WritableDir(dir string) Check {
	return func() error {
		if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
			return fmt.Errorf("%s not writable: %w", dir, err)
		}
		return nil
	}
}
