//go:build linux

package web

import (
	"net"
	"sort"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

func snapshotStorage(dir string) *StorageSnapshot {
	if dir == "" {
		return nil
	}
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return &StorageSnapshot{Path: dir, LastError: err.Error()}
	}
	bsize := uint64(st.Bsize)
	avail := st.Bavail * bsize
	return &StorageSnapshot{
		Path:       dir,
		TotalBytes: st.Blocks * bsize,
		AvailBytes: avail,
		Avail:      humanize.Bytes(avail),
	}
}

func localInterfaceAddrs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]string, 0, 8)
	for _, iface := range ifaces {
		if (iface.Flags&net.FlagUp) == 0 || (iface.Flags&net.FlagLoopback) != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, iface.Name+": "+ipnet.String())
		}
	}
	sort.Strings(out)
	return out
}
