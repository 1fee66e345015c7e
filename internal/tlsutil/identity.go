// ABOUTME: TLS identity bootstrap: explicit cert/key files or a cached self-signed pair.
// ABOUTME: Also computes the SHA-256 fingerprint shown to operators.

package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	certFileName = "self-signed.crt"
	keyFileName  = "self-signed.key"

	// DefaultValidity is the lifetime of a generated certificate.
	DefaultValidity = 365 * 24 * time.Hour
)

// ErrIncompletePair is returned when only one of cert and key is supplied.
var ErrIncompletePair = errors.New("both --cert and --key must be provided together")

// DefaultHosts are the names and addresses a generated certificate covers.
var DefaultHosts = []string{"localhost", "127.0.0.1", "::1"}

// Identity is PEM-encoded server key material.
type Identity struct {
	CertPEM    []byte
	KeyPEM     []byte
	SelfSigned bool

	// CertPath and KeyPath are where the material was loaded from or saved to.
	CertPath string
	KeyPath  string
}

// Options selects where an Identity comes from.
type Options struct {
	CertFile string
	KeyFile  string

	// CacheDir holds the generated pair. Empty means DefaultCacheDir().
	CacheDir string

	Logger *slog.Logger
	now    func() time.Time
}

// DefaultCacheDir returns <user cache dir>/mcpz/tls.
func DefaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("user cache dir: %w", err)
	}
	return filepath.Join(base, "mcpz", "tls"), nil
}

// Load returns the explicit pair when both files are given, otherwise a cached
// self-signed identity, generating and persisting a new one when the cache is
// missing, unreadable or expired.
func Load(opts Options) (*Identity, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	switch {
	case opts.CertFile != "" && opts.KeyFile != "":
		return loadPair(opts.CertFile, opts.KeyFile)
	case opts.CertFile != "" || opts.KeyFile != "":
		return nil, ErrIncompletePair
	}

	dir := opts.CacheDir
	if dir == "" {
		var err error
		if dir, err = DefaultCacheDir(); err != nil {
			return nil, err
		}
	}
	certPath := filepath.Join(dir, certFileName)
	keyPath := filepath.Join(dir, keyFileName)

	if id, err := loadPair(certPath, keyPath); err == nil {
		verr := id.checkValidity(opts.now())
		if verr == nil {
			id.SelfSigned = true
			opts.Logger.Debug("using cached self-signed certificate", "path", certPath)
			return id, nil
		}
		opts.Logger.Info("regenerating self-signed certificate", "reason", verr)
	}

	id, err := GenerateSelfSigned(DefaultHosts, DefaultValidity, opts.now())
	if err != nil {
		return nil, err
	}
	if err := id.save(certPath, keyPath); err != nil {
		return nil, err
	}
	opts.Logger.Info("generated self-signed certificate", "path", certPath)
	return id, nil
}

func loadPair(certPath, keyPath string) (*Identity, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	if _, err := tls.X509KeyPair(certPEM, keyPEM); err != nil {
		return nil, fmt.Errorf("load key pair %s: %w", certPath, err)
	}
	return &Identity{
		CertPEM:  certPEM,
		KeyPEM:   keyPEM,
		CertPath: certPath,
		KeyPath:  keyPath,
	}, nil
}

// GenerateSelfSigned creates an ECDSA P-256 certificate for hosts, valid from
// an hour before now until now+validity.
func GenerateSelfSigned(hosts []string, validity time.Duration, now time.Time) (*Identity, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsa key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now = now.UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "localhost", Organization: []string{"mcpz"}},
		NotBefore:             now.Add(-1 * time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, host := range hosts {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	return &Identity{
		CertPEM:    pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:     pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}),
		SelfSigned: true,
	}, nil
}

func (id *Identity) save(certPath, keyPath string) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o700); err != nil {
		return fmt.Errorf("create tls cache dir: %w", err)
	}
	if err := os.WriteFile(certPath, id.CertPEM, 0o644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, id.KeyPEM, 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	id.CertPath = certPath
	id.KeyPath = keyPath
	return nil
}

// Certificate parses the leaf certificate.
func (id *Identity) Certificate() (*x509.Certificate, error) {
	block, _ := pem.Decode(id.CertPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("no CERTIFICATE block in PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

func (id *Identity) checkValidity(now time.Time) error {
	cert, err := id.Certificate()
	if err != nil {
		return err
	}
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate not valid before %s", cert.NotBefore.Format(time.RFC3339))
	}
	if !now.Before(cert.NotAfter) {
		return fmt.Errorf("certificate expired at %s", cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// Fingerprint returns the SHA-256 of the certificate DER as colon-separated
// uppercase hex.
func (id *Identity) Fingerprint() (string, error) {
	block, _ := pem.Decode(id.CertPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", errors.New("no CERTIFICATE block in PEM")
	}
	sum := sha256.Sum256(block.Bytes)

	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

// ServerConfig builds a server-side tls.Config without client authentication.
func (id *Identity) ServerConfig() (*tls.Config, error) {
	pair, err := tls.X509KeyPair(id.CertPEM, id.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
		ClientAuth:   tls.NoClientCert,
	}, nil
}
