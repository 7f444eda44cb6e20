package battery

import (
	"os"
	"path/filepath"
	"strings"

	hostErrors "github.com/channelhost/host/internal/errors"
)

// DefaultSysfsRoot is where Linux exposes power supplies.
const DefaultSysfsRoot = "/sys/class/power_supply"

// SysfsReader reads the first battery under a power_supply root.
type SysfsReader struct {
	Root string
}

// NewSysfsReader returns a reader rooted at root, or DefaultSysfsRoot if empty.
func NewSysfsReader(root string) *SysfsReader {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &SysfsReader{Root: root}
}

// Source implements Reader.
func (r *SysfsReader) Source() string { return "sysfs:" + r.Root }

// Read implements Reader.
func (r *SysfsReader) Read() (RawState, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return RawUnknown, hostErrors.BatteryReadFailed(r.Source(), err)
	}

	for _, e := range entries {
		dir := filepath.Join(r.Root, e.Name())
		kind, err := os.ReadFile(filepath.Join(dir, "type"))
		if err != nil || strings.TrimSpace(string(kind)) != "Battery" {
			continue
		}
		status, err := os.ReadFile(filepath.Join(dir, "status"))
		if err != nil {
			return RawUnknown, hostErrors.BatteryReadFailed(r.Source(), err)
		}
		return ParseRawState(string(status)), nil
	}

	return RawUnknown, hostErrors.New(hostErrors.CodeBatteryUnsupported, "no battery under "+r.Root)
}
