//go:build !unix

package perm

import (
	"fmt"
	"os"
)

func ReadableDevice(path string) Check {
	return func() error {
		if path == "" {
			return nil
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%s not readable: %w", path, err)
		}
		return nil
	}
}

func WritableDir(dir string) Check {
	return func() error {
		st, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("%s not writable: %w", dir, err)
		}
		if !st.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	}
}
