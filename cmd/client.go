package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	hostTLS "github.com/channelhost/host/internal/tls"
)

// clientFlags are shared by every command that connects to a running host.
type clientFlags struct {
	addr        string
	tls         bool
	token       string
	fingerprint string
	timeout     time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "127.0.0.1:7171", "Host address")
	fl.BoolVar(&f.tls, "tls", false, "Connect with wss://")
	fl.StringVar(&f.token, "token", "", "Bearer token, if the host requires one")
	fl.StringVar(&f.fingerprint, "fingerprint", "", "Expected certificate SHA-256 fingerprint (AA:BB:...)")
	fl.DurationVar(&f.timeout, "timeout", 5*time.Second, "Connect timeout")
}

func (f *clientFlags) wsURL() string {
	u := url.URL{Scheme: "ws", Host: f.addr, Path: "/ws"}
	if f.tls {
		u.Scheme = "wss"
	}
	return u.String()
}

// tlsConfig trusts the host's self-signed certificate, pinned by
// fingerprint when one is given.
func (f *clientFlags) tlsConfig() *tls.Config {
	cfg := &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}
	if f.fingerprint == "" {
		return cfg
	}
	want := strings.ToUpper(f.fingerprint)
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("host presented no certificate")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("parse host certificate: %w", err)
		}
		if got := hostTLS.Fingerprint(cert); got != want {
			return fmt.Errorf("certificate fingerprint mismatch: got %s", got)
		}
		return nil
	}
	return cfg
}

// dial opens a WebSocket connection to the host.
func (f *clientFlags) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: f.timeout,
		TLSClientConfig:  f.tlsConfig(),
	}
	header := http.Header{}
	if f.token != "" {
		header.Set("Authorization", "Bearer "+f.token)
	}

	conn, resp, err := dialer.DialContext(ctx, f.wsURL(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized {
				return nil, fmt.Errorf("host rejected the token (401)")
			}
		}
		return nil, fmt.Errorf("connect to %s: %w", f.wsURL(), err)
	}
	return conn, nil
}

// httpClient is used for the plain HTTP endpoints.
func (f *clientFlags) httpClient() *http.Client {
	return &http.Client{
		Timeout:   f.timeout,
		Transport: &http.Transport{TLSClientConfig: f.tlsConfig()},
	}
}

func (f *clientFlags) httpURL(path string) string {
	u := url.URL{Scheme: "http", Host: f.addr, Path: path}
	if f.tls {
		u.Scheme = "https"
	}
	return u.String()
}
