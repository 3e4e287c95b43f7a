package api

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateCACert returns a self-signed CA cert and key in PEM form.
func generateCACert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0600))
	return p
}

func TestLoadClientCertificate(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateCACert(t)
	certPath := writeFile(t, dir, "client.crt", certPEM)
	keyPath := writeFile(t, dir, "client.key", keyPEM)
	caPath := writeFile(t, dir, "ca.crt", certPEM)

	hc, err := LoadClientCertificate(certPath, keyPath, caPath, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, hc.Timeout)
}

func TestLoadClientCertificate_MissingKeyPair(t *testing.T) {
	_, err := LoadClientCertificate("nope.crt", "nope.key", "nope.pem", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load client cert/key")
}

func TestLoadClientCertificate_InvalidCA(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateCACert(t)
	certPath := writeFile(t, dir, "client.crt", certPEM)
	keyPath := writeFile(t, dir, "client.key", keyPEM)
	caPath := writeFile(t, dir, "ca.crt", []byte("invalid pem"))

	_, err := LoadClientCertificate(certPath, keyPath, caPath, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse CA cert")
}

func TestNewEnrollmentClient_ReadCAError(t *testing.T) {
	_, err := NewEnrollmentClient("nonexistent.pem", time.Second)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
