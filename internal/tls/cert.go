// Package tls manages the self-signed certificate the host serves wss://
// with, and the fingerprint clients pin it by.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	hostErrors "github.com/channelhost/host/internal/errors"
	"github.com/channelhost/host/internal/log"
)

const (
	defaultValidity = 365 * 24 * time.Hour
	commonName      = "channelhost"
)

// Options control where the certificate lives and which names it covers.
type Options struct {
	// CertPath and KeyPath default to ~/.channelhost/certs/host.{crt,key}.
	CertPath string
	KeyPath  string

	// Hosts become SANs. Defaults to localhost and 127.0.0.1.
	Hosts []string

	// Validity defaults to one year.
	Validity time.Duration
}

// Info describes a certificate on disk.
type Info struct {
	CertPath    string
	KeyPath     string
	Fingerprint string // colon-separated uppercase SHA-256
	NotAfter    time.Time
	Generated   bool
}

// DefaultPaths returns ~/.channelhost/certs/host.crt and host.key.
func DefaultPaths() (certPath, keyPath string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".channelhost", "certs")
	return filepath.Join(dir, "host.crt"), filepath.Join(dir, "host.key"), nil
}

// Ensure loads the certificate at opts' paths, generating a new one when
// either file is missing. An existing pair that fails to load is an error;
// it is never silently replaced.
func Ensure(opts Options) (*Info, error) {
	if opts.CertPath == "" || opts.KeyPath == "" {
		certPath, keyPath, err := DefaultPaths()
		if err != nil {
			return nil, err
		}
		if opts.CertPath == "" {
			opts.CertPath = certPath
		}
		if opts.KeyPath == "" {
			opts.KeyPath = keyPath
		}
	}

	if isFile(opts.CertPath) && isFile(opts.KeyPath) {
		return Load(opts.CertPath, opts.KeyPath)
	}

	info, err := Generate(opts)
	if err != nil {
		return nil, err
	}
	logger := log.WithComponent("tls")
	logger.Info().
		Str("cert", info.CertPath).
		Str("fingerprint", info.Fingerprint).
		Msg("generated self-signed certificate")
	return info, nil
}

// Load reads a certificate pair and computes its fingerprint.
func Load(certPath, keyPath string) (*Info, error) {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, hostErrors.Wrap(hostErrors.CodeConfigInvalid, "load certificate pair", err)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, hostErrors.Wrap(hostErrors.CodeConfigInvalid, "parse certificate", err)
	}
	return &Info{
		CertPath:    certPath,
		KeyPath:     keyPath,
		Fingerprint: Fingerprint(cert),
		NotAfter:    cert.NotAfter,
	}, nil
}

// Generate writes a fresh ECDSA P-256 self-signed certificate.
func Generate(opts Options) (*Info, error) {
	hosts := opts.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	validity := opts.Validity
	if validity <= 0 {
		validity = defaultValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{commonName}, CommonName: commonName},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.CertPath), 0o700); err != nil {
		return nil, fmt.Errorf("create certificate directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(opts.KeyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(opts.CertPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		return nil, fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(opts.KeyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse generated certificate: %w", err)
	}
	return &Info{
		CertPath:    opts.CertPath,
		KeyPath:     opts.KeyPath,
		Fingerprint: Fingerprint(cert),
		NotAfter:    cert.NotAfter,
		Generated:   true,
	}, nil
}

// Fingerprint returns the SHA-256 of the DER bytes as "AA:BB:...".
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
