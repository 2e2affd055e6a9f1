package tls

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/mcpanel/internal/config"
)

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// resolveTLSVersions defaults both bounds to TLS 1.3.
func resolveTLSVersions(cfg config.ServerConfig) (min uint16, max uint16) {
	min = tls.VersionTLS13
	max = tls.VersionTLS13
	if v, ok := parseTLSVersion(cfg.TLSMinVersion); ok {
		min = v
	}
	if v, ok := parseTLSVersion(cfg.TLSMaxVersion); ok {
		max = v
	}
	if min > max {
		max = min
	}
	return
}

// certLoader serves the key pair from disk, reloading it when either file
// changes so certificates can be rotated without a restart.
type certLoader struct {
	certPath, keyPath string

	mu      sync.Mutex
	cert    *tls.Certificate
	certMod time.Time
	keyMod  time.Time
}

func (l *certLoader) get(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cs, err := os.Stat(l.certPath)
	if err != nil {
		return nil, err
	}
	ks, err := os.Stat(l.keyPath)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cert != nil && cs.ModTime().Equal(l.certMod) && ks.ModTime().Equal(l.keyMod) {
		return l.cert, nil
	}
	c, err := tls.LoadX509KeyPair(filepath.Clean(l.certPath), filepath.Clean(l.keyPath))
	if err != nil {
		return nil, err
	}
	l.cert, l.certMod, l.keyMod = &c, cs.ModTime(), ks.ModTime()
	return l.cert, nil
}

// SetupTLS returns the listener TLS config, or nil when TLS is disabled.
// Explicit cert/key files win; otherwise Dir is the certs directory holding
// server.crt/server.key, generated self-signed when AutoGenerate is set and
// they are missing.
func SetupTLS(server config.ServerConfig) (*tls.Config, error) {
	if server.TLS == nil || !server.TLS.Enabled {
		return nil, nil
	}
	minVer, maxVer := resolveTLSVersions(server)

	if server.TLS.CertFile != "" && server.TLS.KeyFile != "" {
		return createTLSConfig(server.TLS.CertFile, server.TLS.KeyFile, minVer, maxVer)
	}

	if dir := server.TLS.Dir; dir != "" {
		if !server.TLS.AutoGenerate && !certificatesExist(filepath.Join(dir, serverCrt), filepath.Join(dir, serverKey)) {
			return nil, fmt.Errorf("no %s in %s and auto_generate is off", serverCrt, dir)
		}
		certPath, keyPath, err := ensureServerCert(dir, server.TLS.AutoGen)
		if err != nil {
			return nil, err
		}
		return createTLSConfig(certPath, keyPath, minVer, maxVer)
	}

	return nil, errors.New("TLS enabled but no valid certificate configuration found")
}

// CertPath is the certificate file SetupTLS serves for cfg.
func CertPath(cfg config.TLSConfig) string {
	if cfg.CertFile != "" {
		return cfg.CertFile
	}
	return filepath.Join(cfg.Dir, serverCrt)
}

// Fingerprint returns the SHA-256 fingerprint of the first certificate in
// the PEM file, for pinning a self-signed panel certificate.
func Fingerprint(certPath string) (string, error) {
	b, err := os.ReadFile(filepath.Clean(certPath))
	if err != nil {
		return "", err
	}
	block, _ := pem.Decode(b)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", errors.New("no PEM certificate in " + certPath)
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return "", err
	}
	sum := sha256.Sum256(block.Bytes)
	return hex.EncodeToString(sum[:]), nil
}

func createTLSConfig(certPath, keyPath string, minVer, maxVer uint16) (*tls.Config, error) {
	l := &certLoader{certPath: certPath, keyPath: keyPath}
	// fail at startup rather than on the first handshake
	if _, err := l.get(nil); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	// #nosec G402 TLS 1.2 only when configured
	return &tls.Config{
		GetCertificate: l.get,
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}
