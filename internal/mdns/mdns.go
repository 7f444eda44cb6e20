// Package mdns advertises the host on the local network with DNS-SD so
// remote runtimes can find it without typing an address. Advertisement is
// opt-in; discovery only reveals presence, the bearer token still gates
// access.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/channelhost/host/internal/log"
)

// ServiceType is the DNS-SD service type: _<service>._<protocol>.
const ServiceType = "_channelhost._tcp"

// ProtocolVersion is advertised so clients can reject hosts they don't speak to.
const ProtocolVersion = "1"

const domain = "local."

// Config holds what gets advertised.
type Config struct {
	// Port is the server port.
	Port int

	// Name is the instance name. Defaults to the hostname.
	Name string

	// Fingerprint is the TLS certificate fingerprint, empty without TLS.
	Fingerprint string

	// EventChannel names the battery event channel.
	EventChannel string
}

// TXTRecords builds the key=value strings published with the service.
// A SHA-256 fingerprint is 95 characters, well under the 255 byte limit.
func (c Config) TXTRecords() []string {
	records := []string{
		"version=" + ProtocolVersion,
		"name=" + c.instanceName(),
	}
	if c.Fingerprint != "" {
		records = append(records, "fp="+c.Fingerprint)
	}
	if c.EventChannel != "" {
		records = append(records, "events="+c.EventChannel)
	}
	return records
}

func (c Config) instanceName() string {
	if c.Name != "" {
		return c.Name
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "channelhost"
}

// Advertiser manages one DNS-SD registration.
type Advertiser struct {
	config Config
	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates a stopped advertiser.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

// Start registers the service. Calling Start while running is a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}

	name := a.config.instanceName()
	server, err := zeroconf.Register(name, ServiceType, domain, a.config.Port, a.config.TXTRecords(), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = server

	logger := log.WithComponent("mdns")
	logger.Info().
		Str("name", name).
		Str("service", ServiceType).
		Int("port", a.config.Port).
		Msg("advertising")
	return nil
}

// Stop unregisters the service. Safe to call when never started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the service is registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Host is one advertisement found by Discover.
type Host struct {
	Name         string
	Addr         string
	Port         int
	Fingerprint  string
	Version      string
	EventChannel string
}

// applyTXT fills h from the advertised TXT records. Unknown keys are ignored.
func (h *Host) applyTXT(records []string) {
	for _, txt := range records {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "name":
			h.Name = value
		case "fp":
			h.Fingerprint = value
		case "version":
			h.Version = value
		case "events":
			h.EventChannel = value
		}
	}
}

// Discover browses for hosts until ctx is done.
func Discover(ctx context.Context) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []Host
		wg    sync.WaitGroup
	)
	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			h := Host{Name: entry.Instance, Port: entry.Port}
			if len(entry.AddrIPv4) > 0 {
				h.Addr = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				h.Addr = entry.AddrIPv6[0].String()
			}
			h.applyTXT(entry.Text)
			hosts = append(hosts, h)
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	// zeroconf closes entries once ctx is done.
	<-ctx.Done()
	wg.Wait()
	return hosts, nil
}
