// ABOUTME: Tests for TLS identity loading, caching, regeneration and fingerprints.
// ABOUTME: All cache directories are per-test temp dirs.

package tlsutil

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_GeneratesAndCaches(t *testing.T) {
	dir := t.TempDir()

	first, err := Load(Options{CacheDir: dir})
	require.NoError(t, err)
	assert.True(t, first.SelfSigned)
	assert.Equal(t, filepath.Join(dir, "self-signed.crt"), first.CertPath)
	assert.FileExists(t, first.CertPath)
	assert.FileExists(t, first.KeyPath)

	info, err := os.Stat(first.KeyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := Load(Options{CacheDir: dir})
	require.NoError(t, err)
	assert.Equal(t, first.CertPEM, second.CertPEM, "cached identity should be reused")
	assert.True(t, second.SelfSigned)
}

func TestLoad_RegeneratesExpiredCache(t *testing.T) {
	dir := t.TempDir()

	old, err := Load(Options{CacheDir: dir})
	require.NoError(t, err)

	later := time.Now().Add(DefaultValidity + 24*time.Hour)
	fresh, err := Load(Options{CacheDir: dir, now: func() time.Time { return later }})
	require.NoError(t, err)
	assert.NotEqual(t, old.CertPEM, fresh.CertPEM)

	cert, err := fresh.Certificate()
	require.NoError(t, err)
	assert.True(t, cert.NotAfter.After(later))
}

func TestLoad_RegeneratesCorruptCache(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "self-signed.crt"), []byte("junk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "self-signed.key"), []byte("junk"), 0o600))

	id, err := Load(Options{CacheDir: dir})
	require.NoError(t, err)
	_, err = id.ServerConfig()
	assert.NoError(t, err)
}

func TestLoad_ExplicitPair(t *testing.T) {
	dir := t.TempDir()
	gen, err := GenerateSelfSigned([]string{"example.test"}, time.Hour, time.Now())
	require.NoError(t, err)

	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(certPath, gen.CertPEM, 0o644))
	require.NoError(t, os.WriteFile(keyPath, gen.KeyPEM, 0o600))

	id, err := Load(Options{CertFile: certPath, KeyFile: keyPath})
	require.NoError(t, err)
	assert.False(t, id.SelfSigned)
	assert.Equal(t, gen.CertPEM, id.CertPEM)
}

func TestLoad_IncompletePair(t *testing.T) {
	_, err := Load(Options{CertFile: "server.crt"})
	assert.ErrorIs(t, err, ErrIncompletePair)

	_, err = Load(Options{KeyFile: "server.key"})
	assert.ErrorIs(t, err, ErrIncompletePair)
}

func TestLoad_MissingExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(Options{CertFile: filepath.Join(dir, "a.crt"), KeyFile: filepath.Join(dir, "a.key")})
	assert.Error(t, err)
}

func TestGenerateSelfSigned_Subject(t *testing.T) {
	id, err := GenerateSelfSigned(DefaultHosts, DefaultValidity, time.Now())
	require.NoError(t, err)

	cert, err := id.Certificate()
	require.NoError(t, err)
	assert.Equal(t, "localhost", cert.Subject.CommonName)
	assert.Contains(t, cert.DNSNames, "localhost")

	var ips []string
	for _, ip := range cert.IPAddresses {
		ips = append(ips, ip.String())
	}
	assert.ElementsMatch(t, []string{"127.0.0.1", "::1"}, ips)

	validity := cert.NotAfter.Sub(cert.NotBefore)
	assert.InDelta(t, float64(DefaultValidity+time.Hour), float64(validity), float64(time.Minute))
}

func TestFingerprint(t *testing.T) {
	id, err := GenerateSelfSigned(DefaultHosts, time.Hour, time.Now())
	require.NoError(t, err)

	fp, err := id.Fingerprint()
	require.NoError(t, err)
	assert.Len(t, fp, 95)
	assert.Regexp(t, regexp.MustCompile(`^([0-9A-F]{2}:){31}[0-9A-F]{2}$`), fp)

	again, err := id.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp, again)

	_, err = (&Identity{CertPEM: []byte("nope")}).Fingerprint()
	assert.Error(t, err)
}

func TestServerConfig(t *testing.T) {
	id, err := GenerateSelfSigned(DefaultHosts, time.Hour, time.Now())
	require.NoError(t, err)

	cfg, err := id.ServerConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)

	_, err = (&Identity{CertPEM: id.CertPEM, KeyPEM: []byte("bad")}).ServerConfig()
	assert.Error(t, err)
}
