package tls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/loykin/mcpanel/internal/config"
)

// Files of the panel certificate inside the certs directory.
const (
	serverCrt = "server.crt"
	serverKey = "server.key"
)

const (
	defaultCommonName   = "mcpanel"
	defaultOrganization = "mcpanel self-signed"
	defaultValidity     = 10 * 365 * 24 * time.Hour
)

// panelCert describes the self-signed certificate the panel bootstraps
// when TLS is on and the certs directory is empty.
type panelCert struct {
	commonName   string
	organization string
	dnsNames     []string
	ips          []net.IP
	notBefore    time.Time
	notAfter     time.Time
}

// panelCertFor applies [server.tls.auto_gen] on top of the defaults.
// localhost and 127.0.0.1 are always names of the certificate.
func panelCertFor(ag *config.AutoGenTLS, now time.Time) (panelCert, error) {
	if ag == nil {
		ag = &config.AutoGenTLS{}
	}
	pc := panelCert{
		commonName:   defaultCommonName,
		organization: defaultOrganization,
		dnsNames:     []string{"localhost"},
		ips:          []net.IP{net.IPv4(127, 0, 0, 1)},
		notBefore:    now,
		notAfter:     now.Add(defaultValidity),
	}
	if ag.CommonName != "" {
		pc.commonName = ag.CommonName
	}
	if ag.Organization != "" {
		pc.organization = ag.Organization
	}
	if ag.ValidDays > 0 {
		pc.notAfter = now.AddDate(0, 0, ag.ValidDays)
	}
	for _, n := range ag.DNSNames {
		if n != "" && !slices.Contains(pc.dnsNames, n) {
			pc.dnsNames = append(pc.dnsNames, n)
		}
	}
	for _, s := range ag.IPAddresses {
		ip := net.ParseIP(s)
		if ip == nil {
			return panelCert{}, fmt.Errorf("auto_gen: invalid ip address %q", s)
		}
		if !slices.ContainsFunc(pc.ips, ip.Equal) {
			pc.ips = append(pc.ips, ip)
		}
	}
	return pc, nil
}

// serialAt derives the certificate serial from its creation time behind a
// 0x01 byte, so regenerated certificates never repeat a serial.
func serialAt(t time.Time) *big.Int {
	s := new(big.Int).SetInt64(t.UnixNano())
	return s.Or(s, new(big.Int).Lsh(big.NewInt(1), 64))
}

// ensureServerCert returns the certificate and key paths inside dir,
// generating both when either is missing.
func ensureServerCert(dir string, ag *config.AutoGenTLS) (certPath, keyPath string, err error) {
	certPath = filepath.Join(dir, serverCrt)
	keyPath = filepath.Join(dir, serverKey)
	if certificatesExist(certPath, keyPath) {
		return certPath, keyPath, nil
	}
	pc, err := panelCertFor(ag, time.Now())
	if err != nil {
		return "", "", err
	}
	if err := writePanelCert(dir, pc); err != nil {
		return "", "", fmt.Errorf("generate certificate: %w", err)
	}
	return certPath, keyPath, nil
}

// writePanelCert creates dir and writes server.key then server.crt.
func writePanelCert(dir string, pc panelCert) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}
	subject := pkix.Name{CommonName: pc.commonName, Organization: []string{pc.organization}}
	tmpl := &x509.Certificate{
		SerialNumber:          serialAt(pc.notBefore),
		Subject:               subject,
		Issuer:                subject,
		NotBefore:             pc.notBefore,
		NotAfter:              pc.notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              pc.dnsNames,
		IPAddresses:           pc.ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}
	if err := writePEM(filepath.Join(dir, serverKey), "PRIVATE KEY", keyDER, 0o600); err != nil {
		return err
	}
	return writePEM(filepath.Join(dir, serverCrt), "CERTIFICATE", der, 0o644)
}

// writePEM replaces path through a temporary file so a reader never sees
// half a file.
func writePEM(path, typ string, der []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), mode); err != nil {
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
