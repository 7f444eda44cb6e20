package bridge

import "github.com/channelhost/host/internal/battery"

// Kind classifies a battery update.
type Kind int

const (
	// Charging covers both "charging" and "full".
	Charging Kind = iota + 1
	// Discharging means running from the battery.
	Discharging
	// Unavailable means the OS reported a state we do not classify.
	Unavailable
)

// Wire values for the event channel.
const (
	PayloadCharging    = "charging"
	PayloadDischarging = "discharging"

	UnavailableCode    = "UNAVAILABLE"
	UnavailableMessage = "Charging status unavailable"
)

func (k Kind) String() string {
	switch k {
	case Charging:
		return "charging"
	case Discharging:
		return "discharging"
	case Unavailable:
		return "unavailable"
	default:
		return "invalid"
	}
}

// Event is one classified update delivered to the remote listener.
// Unavailable events carry Code and Message; the others leave them empty.
type Event struct {
	Kind    Kind
	Code    string
	Message string
}

// IsError reports whether the event travels as a structured error value.
func (e Event) IsError() bool { return e.Kind == Unavailable }

// Payload returns the success value for Charging and Discharging events.
func (e Event) Payload() string {
	switch e.Kind {
	case Charging:
		return PayloadCharging
	case Discharging:
		return PayloadDischarging
	default:
		return ""
	}
}

// Classify maps a raw OS state onto exactly one event. Every input,
// including values this package has never seen, yields an event.
func Classify(raw battery.RawState) Event {
	switch raw {
	case battery.RawFull, battery.RawCharging:
		return Event{Kind: Charging}
	case battery.RawUnplugged:
		return Event{Kind: Discharging}
	default:
		return Event{Kind: Unavailable, Code: UnavailableCode, Message: UnavailableMessage}
	}
}
