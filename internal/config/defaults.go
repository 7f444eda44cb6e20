package config

// DefaultAddr is the default listen address for the WebSocket server.
const DefaultAddr = "127.0.0.1:7171"

// Default channel names. These match the identifiers the framework runtime
// uses to address each channel.
const (
	DefaultGetStringChannel = "method.channel.example/getString"
	DefaultVoidChannel      = "method.channel.example/voidMethod"
	DefaultEventChannel     = "method.channel.example/eventChannel"
	// DefaultTimerChannel is addressed by the runtime but has no handler here.
	DefaultTimerChannel = "method.channel.example/timer"
)

// DefaultBatterySource picks the platform reader at startup.
const DefaultBatterySource = "auto"

// DefaultBatteryPollMs is how often an enabled notifier re-reads the power source.
const DefaultBatteryPollMs = 2000

// DefaultMethodRateLimit is the per-client method call budget per second.
const DefaultMethodRateLimit = 50

// DefaultAuditMaxRows caps the delivery audit table.
const DefaultAuditMaxRows = 10000
