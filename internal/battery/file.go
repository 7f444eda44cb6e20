package battery

import (
	"os"

	hostErrors "github.com/channelhost/host/internal/errors"
)

// FileReader reads a status word from a plain file. A helper process (or a
// test) writes "charging", "discharging", "full" and so on into it.
type FileReader struct {
	Path string
}

// Source implements Reader.
func (r *FileReader) Source() string { return "file:" + r.Path }

// WatchPath lets the notifier react to writes without waiting for a poll.
func (r *FileReader) WatchPath() string { return r.Path }

// Read implements Reader.
func (r *FileReader) Read() (RawState, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return RawUnknown, hostErrors.BatteryReadFailed(r.Source(), err)
	}
	return ParseRawState(string(data)), nil
}

// unsupportedReader is used on platforms without a battery source. Every
// reading is unknown, which the bridge reports as unavailable.
type unsupportedReader struct {
	goos string
}

func (r unsupportedReader) Source() string { return "unsupported:" + r.goos }

func (r unsupportedReader) Read() (RawState, error) {
	return RawUnknown, hostErrors.New(hostErrors.CodeBatteryUnsupported, "battery state is unsupported on "+r.goos)
}
