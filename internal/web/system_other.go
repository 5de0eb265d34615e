//go:build !linux

package web

func snapshotStorage(dir string) *StorageSnapshot {
	if dir == "" {
		return nil
	}
	return &StorageSnapshot{Path: dir, LastError: "unsupported on this platform"}
}

func localInterfaceAddrs() []string { return nil }
