package channel

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/channelhost/host/internal/config"
	hostErrors "github.com/channelhost/host/internal/errors"
)

// Method names recognized on the host channels.
const (
	MethodGetString = "getStringMethodChannel"
	MethodVoid      = "voidMethodChannel"
)

// DeviceInfo provides the identifying name of the host device.
type DeviceInfo interface {
	DeviceName() string
}

// HostDevice reads the device name from the OS. Override, when set, wins.
type HostDevice struct {
	Override string
}

// DeviceName implements DeviceInfo.
func (d HostDevice) DeviceName() string {
	if d.Override != "" {
		return d.Override
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if info, err := host.InfoWithContext(ctx); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "unknown"
}

// GetStringHandler answers MethodGetString with a sentence naming the device.
func GetStringHandler(device DeviceInfo, channel string) MethodHandler {
	return func(method string, _ any) (any, error) {
		if method != MethodGetString {
			return nil, hostErrors.NotImplemented(channel, method)
		}
		return fmt.Sprintf("This is string returned from %s's Device", device.DeviceName()), nil
	}
}

// VoidHandler answers MethodVoid by logging a diagnostic line.
func VoidHandler(logger zerolog.Logger, channel string) MethodHandler {
	return func(method string, _ any) (any, error) {
		if method != MethodVoid {
			return nil, hostErrors.NotImplemented(channel, method)
		}
		logger.Info().Str("channel", channel).Msg("void method invoked")
		return nil, nil
	}
}

// RegisterHostChannels installs the string, void and battery channels.
func RegisterHostChannels(reg *Registry, names config.Channels, device DeviceInfo, stream StreamHandler, logger zerolog.Logger) {
	reg.NewMethodChannel(names.GetString, GetStringHandler(device, names.GetString))
	reg.NewMethodChannel(names.Void, VoidHandler(logger, names.Void))
	reg.NewEventChannel(names.Event, stream)
}
