package battery

import (
	"os/exec"
	"regexp"

	hostErrors "github.com/channelhost/host/internal/errors"
)

// pmsetStateRe captures the state column of a battery line, e.g.
// " -InternalBattery-0 (id=123)	87%; discharging; 4:12 remaining present: true".
var pmsetStateRe = regexp.MustCompile(`\d+%;\s*([a-zA-Z ]+?);`)

// PmsetReader parses `pmset -g batt` on macOS.
type PmsetReader struct {
	run func() ([]byte, error)
}

// NewPmsetReader returns a reader that shells out to pmset.
func NewPmsetReader() *PmsetReader {
	return &PmsetReader{run: func() ([]byte, error) {
		return exec.Command("pmset", "-g", "batt").Output()
	}}
}

// Source implements Reader.
func (r *PmsetReader) Source() string { return "pmset" }

// Read implements Reader.
func (r *PmsetReader) Read() (RawState, error) {
	out, err := r.run()
	if err != nil {
		return RawUnknown, hostErrors.BatteryReadFailed(r.Source(), err)
	}
	return parsePmsetOutput(string(out)), nil
}

func parsePmsetOutput(output string) RawState {
	m := pmsetStateRe.FindStringSubmatch(output)
	if len(m) < 2 {
		return RawUnknown
	}
	switch m[1] {
	case "charging":
		return RawCharging
	case "discharging":
		return RawUnplugged
	case "charged", "finishing charge":
		return RawFull
	case "AC attached":
		return RawNotCharging
	default:
		return RawUnknown
	}
}
