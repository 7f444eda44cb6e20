// Package battery reads host power-source state and turns it into a push
// notification stream.
//
// A Reader takes one point-in-time reading. A Notifier wraps a Reader and
// calls a registered observer whenever the reading changes, but only while
// monitoring is enabled. The event stream bridge depends on the Notifier
// interface alone, so it can be exercised with a fake in tests.
package battery

import (
	"strings"
)

// RawState is the OS-reported charging state before classification.
type RawState string

const (
	// RawUnknown means the OS could not report a state.
	RawUnknown RawState = "unknown"
	// RawUnplugged means running from the battery.
	RawUnplugged RawState = "unplugged"
	// RawCharging means external power is attached and the battery is charging.
	RawCharging RawState = "charging"
	// RawFull means external power is attached and the battery is full.
	RawFull RawState = "full"
	// RawNotCharging means external power is attached but charging is
	// inhibited (charge thresholds, thermal limits).
	RawNotCharging RawState = "not_charging"
)

// ParseRawState maps the status words used by sysfs, pmset and status
// files onto a RawState. Unrecognized words map to RawUnknown.
func ParseRawState(s string) RawState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "charging":
		return RawCharging
	case "discharging", "unplugged":
		return RawUnplugged
	case "full", "charged":
		return RawFull
	case "not charging", "not_charging":
		return RawNotCharging
	default:
		return RawUnknown
	}
}

// Reader returns the current raw state of the host power source.
type Reader interface {
	// Read takes one reading. Errors mean the state could not be determined.
	Read() (RawState, error)
	// Source names the reader for logs.
	Source() string
}

// watchable is implemented by readers backed by an ordinary file that
// fsnotify can observe.
type watchable interface {
	WatchPath() string
}

// Notifier is the OS subscription capability the bridge depends on.
type Notifier interface {
	// Enable starts monitoring. Calling it while enabled is a no-op.
	Enable()
	// Disable stops monitoring. Calling it while disabled is a no-op.
	Disable()
	// OnRawStateChanged installs the single observer; nil removes it.
	OnRawStateChanged(fn func(RawState))
	// Current returns the present state. While enabled it may return the
	// reading monitoring already holds instead of reading the OS again.
	Current() RawState
}
