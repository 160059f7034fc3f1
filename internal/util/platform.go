package util

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo identifies the machine rconsole runs on. It is attached to
// telemetry messages and served by the API so operators can tell several
// consoles watching the same game server apart.
type HostInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model,omitempty"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb,omitempty"`
	BootTime     int64  `json:"boot_time,omitempty"`
	GoVersion    string `json:"go_version"`
}

// GetHostInfo gathers host information. Fields gopsutil cannot read on the
// current platform are left empty.
func GetHostInfo() HostInfo {
	info := HostInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		if hostInfo.Platform != "" {
			info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
		}
		info.BootTime = int64(hostInfo.BootTime)
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// Uptime returns how long the host has been up, or 0 if unknown.
func (h HostInfo) Uptime(now time.Time) time.Duration {
	if h.BootTime == 0 {
		return 0
	}
	return now.Sub(time.Unix(h.BootTime, 0))
}

// FileExists checks if a file or directory exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// EnsureDir creates a directory and all parent directories if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
