package main

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/channelhost/host/internal/battery"
	"github.com/channelhost/host/internal/bridge"
	"github.com/channelhost/host/internal/channel"
	"github.com/channelhost/host/internal/config"
	"github.com/channelhost/host/internal/log"
	"github.com/channelhost/host/internal/mdns"
	"github.com/channelhost/host/internal/server"
	"github.com/channelhost/host/internal/storage"
	hostTLS "github.com/channelhost/host/internal/tls"
)

// serveFlags mirror the config file keys that make sense on the command line.
type serveFlags struct {
	configPath    string
	addr          string
	tls           bool
	tlsCert       string
	tlsKey        string
	logLevel      string
	deviceName    string
	batterySource string
	batteryPath   string
	auditStore    string
	mdns          bool
	qr            bool
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host",
		Long: `Run the host in the foreground until interrupted.

Settings come from ~/.channelhost/config.toml (or --config); flags given on
the command line override file values.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd, f)
			if err != nil {
				return err
			}
			return runServe(cmd, cfg, f.qr)
		},
	}

	f.register(cmd)
	return cmd
}

func (f *serveFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "Path to config file (default: ~/.channelhost/config.toml)")
	fl.StringVar(&f.addr, "addr", config.DefaultAddr, "Listen address")
	fl.BoolVar(&f.tls, "tls", false, "Serve wss:// with a self-signed certificate")
	fl.StringVar(&f.tlsCert, "tls-cert", "", "TLS certificate path")
	fl.StringVar(&f.tlsKey, "tls-key", "", "TLS key path")
	fl.StringVar(&f.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fl.StringVar(&f.deviceName, "device-name", "", "Device name reported by the string channel")
	fl.StringVar(&f.batterySource, "battery-source", config.DefaultBatterySource, "Battery source: auto, sysfs, pmset, file")
	fl.StringVar(&f.batteryPath, "battery-path", "", "Status file (file source) or power_supply root (sysfs)")
	fl.StringVar(&f.auditStore, "audit-store", "", "SQLite path for the stream audit (empty disables)")
	fl.BoolVar(&f.mdns, "mdns", false, "Advertise the host on the local network")
	fl.BoolVar(&f.qr, "qr", false, "Print the connect URL as a QR code")
}

// loadServeConfig reads the config file, lets explicitly set flags win,
// applies defaults and validates.
func loadServeConfig(cmd *cobra.Command, f serveFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Addr = f.addr
	}
	if changed("tls") {
		cfg.TLS = f.tls
	}
	if changed("tls-cert") {
		cfg.TLSCert = f.tlsCert
	}
	if changed("tls-key") {
		cfg.TLSKey = f.tlsKey
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("device-name") {
		cfg.DeviceName = f.deviceName
	}
	if changed("battery-source") {
		cfg.Battery.Source = f.batterySource
	}
	if changed("battery-path") {
		cfg.Battery.Path = f.batteryPath
	}
	if changed("audit-store") {
		cfg.AuditStore = f.auditStore
	}
	if changed("mdns") {
		cfg.MdnsEnabled = f.mdns
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, cfg *config.Config, showQR bool) error {
	stderr := cmd.ErrOrStderr()
	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Output:  stderr,
		Console: isTerminal(stderr),
	})

	h, err := startHost(cfg)
	if err != nil {
		return err
	}
	defer h.Stop()

	connect := h.ConnectURL()
	fmt.Fprintf(cmd.OutOrStdout(), "channelhost listening, connect to %s\n", connect)
	if showQR {
		printQR(cmd.OutOrStdout(), connect)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	h.logger.Info().Msg("shutting down")
	return nil
}

// hostRuntime is a running host and everything it owns.
type hostRuntime struct {
	cfg        *config.Config
	notifier   *battery.PollingNotifier
	bridge     *bridge.Bridge
	server     *server.Server
	store      *storage.SQLiteStore
	advertiser *mdns.Advertiser
	cert       *hostTLS.Info
	logger     zerolog.Logger
}

// startHost wires the battery notifier, bridge, channels, audit store and
// transport, then starts listening. Any failure here aborts startup.
func startHost(cfg *config.Config) (*hostRuntime, error) {
	logger := log.WithComponent("host")

	notifier, err := battery.New(cfg.Battery)
	if err != nil {
		return nil, err
	}
	h := &hostRuntime{
		cfg:      cfg,
		notifier: notifier,
		bridge:   bridge.New(notifier),
		logger:   logger,
	}

	reg := channel.NewRegistry()
	channel.RegisterHostChannels(reg, cfg.Channels,
		channel.HostDevice{Override: cfg.DeviceName}, h.bridge, log.WithComponent("channel"))

	h.server = server.NewServer(server.Config{
		Addr:            cfg.Addr,
		Registry:        reg,
		AuthTokenHash:   cfg.AuthTokenHash,
		MethodRateLimit: cfg.MethodRateLimit,
	})
	h.server.SetStatusHandler(server.NewStatusHandler(h.server, cfg.TLS, notifier))

	if cfg.AuditStore != "" {
		store, err := storage.NewSQLiteStore(cfg.AuditStore)
		if err != nil {
			return nil, err
		}
		if err := store.ProbeAuditWrite(); err != nil {
			store.Close()
			return nil, err
		}
		h.store = store
		h.server.SetAuditStore(store, cfg.AuditMaxRows)
	}

	var startErr error
	if cfg.TLS {
		h.cert, err = hostTLS.Ensure(hostTLS.Options{
			CertPath: cfg.TLSCert,
			KeyPath:  cfg.TLSKey,
			Hosts:    certHosts(cfg.Addr),
		})
		if err != nil {
			h.closeStore()
			return nil, err
		}
		startErr = <-h.server.StartAsyncTLS(server.TLSConfig{CertPath: h.cert.CertPath, KeyPath: h.cert.KeyPath})
	} else {
		startErr = <-h.server.StartAsync()
	}
	if startErr != nil {
		h.server.Stop()
		h.closeStore()
		return nil, startErr
	}

	if cfg.MdnsEnabled {
		_, portStr, _ := net.SplitHostPort(h.server.Addr())
		port, _ := strconv.Atoi(portStr)
		mcfg := mdns.Config{Port: port, Name: cfg.DeviceName, EventChannel: cfg.Channels.Event}
		if h.cert != nil {
			mcfg.Fingerprint = h.cert.Fingerprint
		}
		h.advertiser = mdns.NewAdvertiser(mcfg)
		if err := h.advertiser.Start(); err != nil {
			// Discovery is a convenience; the host is reachable without it.
			logger.Warn().Err(err).Msg("mdns advertisement failed")
			h.advertiser = nil
		}
	}

	logger.Info().
		Str("addr", h.server.Addr()).
		Bool("tls", cfg.TLS).
		Bool("auth", cfg.AuthTokenHash != "").
		Str("battery", notifier.Source()).
		Str("event_channel", cfg.Channels.Event).
		Msg("host started")
	return h, nil
}

// Stop shuts everything down in reverse start order. The server's Stop
// cancels the event stream, which disables battery monitoring.
func (h *hostRuntime) Stop() {
	if h.advertiser != nil {
		h.advertiser.Stop()
	}
	if err := h.server.Stop(); err != nil {
		h.logger.Warn().Err(err).Msg("server stop")
	}
	h.notifier.Disable()
	h.closeStore()
}

func (h *hostRuntime) closeStore() {
	if h.store != nil {
		h.store.Close()
		h.store = nil
	}
}

// ConnectURL is the WebSocket URL a client on the network should use.
func (h *hostRuntime) ConnectURL() string {
	host, port, err := net.SplitHostPort(h.server.Addr())
	if err != nil {
		return h.server.Addr()
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		if out := preferredOutboundIP(); out != "" {
			host = out
		}
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, port), Path: "/ws"}
	if h.cert != nil {
		u.Scheme = "wss"
		u.RawQuery = url.Values{"fp": []string{h.cert.Fingerprint}}.Encode()
	}
	return u.String()
}

// certHosts lists the SANs for a generated certificate.
func certHosts(addr string) []string {
	hosts := []string{"localhost", "127.0.0.1"}
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return hosts
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		if out := preferredOutboundIP(); out != "" {
			return append(hosts, out)
		}
		return hosts
	}
	if host != "localhost" && host != "127.0.0.1" {
		hosts = append(hosts, host)
	}
	return hosts
}

// preferredOutboundIP returns the IPv4 address the OS would route external
// traffic from. Dialing UDP sends no packets.
func preferredOutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
