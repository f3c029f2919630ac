package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"phonewatch-service/internal/domain/monitor"
)

const sysVideoDir = "/sys/class/video4linux"

// deviceCache holds the last discovery result. Probing devices is slow
// and can disturb an open capture handle, so it only happens on demand.
type deviceCache struct {
	mu     sync.Mutex
	known  []monitor.DeviceInfo
	probed bool
}

func newDeviceCache() *deviceCache {
	return &deviceCache{}
}

func (c *deviceCache) list() []monitor.DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.probed {
		c.known = probeDevices()
		c.probed = true
	}
	out := make([]monitor.DeviceInfo, len(c.known))
	copy(out, c.known)
	return out
}

func (c *deviceCache) refresh() []monitor.DeviceInfo {
	fresh := probeDevices()
	c.mu.Lock()
	c.known = fresh
	c.probed = true
	out := make([]monitor.DeviceInfo, len(fresh))
	copy(out, fresh)
	c.mu.Unlock()
	return out
}

// probeDevices enumerates v4l devices from sysfs with best-effort
// human-readable names. No capture handles are opened here.
func probeDevices() []monitor.DeviceInfo {
	entries, err := os.ReadDir(sysVideoDir)
	if err != nil {
		return nil
	}

	var devices []monitor.DeviceInfo
	for _, e := range entries {
		idx, ok := parseVideoIndex(e.Name())
		if !ok {
			continue
		}
		name := readDeviceName(e.Name())
		if name == "" {
			name = fmt.Sprintf("Camera %d", idx)
		}
		devices = append(devices, monitor.DeviceInfo{Index: idx, Name: name})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices
}

func parseVideoIndex(entry string) (int, bool) {
	if !strings.HasPrefix(entry, "video") {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(entry, "video"))
	if err != nil {
		return 0, false
	}
	return idx, true
}

func readDeviceName(entry string) string {
	data, err := os.ReadFile(filepath.Join(sysVideoDir, entry, "name"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
