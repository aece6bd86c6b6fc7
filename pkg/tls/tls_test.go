// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	gotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSelfSigned writes a self-signed CA certificate and its key into dir.
func writeSelfSigned(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "syncmq-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestLoadTLSConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir)
	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o600))

	t.Run("disabled", func(t *testing.T) {
		cfg, err := LoadTLSConfig(&Config{})
		require.NoError(t, err)
		assert.Nil(t, cfg)

		cfg, err = LoadTLSConfig(nil)
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("server certificate", func(t *testing.T) {
		cfg, err := LoadTLSConfig(&Config{CertFile: certFile, KeyFile: keyFile})
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Len(t, cfg.Certificates, 1)
		assert.Nil(t, cfg.ClientCAs)
		assert.Equal(t, uint16(gotls.VersionTLS12), cfg.MinVersion)
		assert.Equal(t, "TLS", SecurityStatus(cfg))
	})

	t.Run("mutual tls", func(t *testing.T) {
		cfg, err := LoadTLSConfig(&Config{CertFile: certFile, KeyFile: keyFile, ClientCAFile: certFile, ServerCAFile: certFile})
		require.NoError(t, err)
		require.NotNil(t, cfg.ClientCAs)
		require.NotNil(t, cfg.RootCAs)
		assert.Equal(t, gotls.RequireAndVerifyClientCert, cfg.ClientAuth)
		assert.Nil(t, cfg.VerifyPeerCertificate)
		assert.Equal(t, "TLS and RequireAndVerifyClientCert", SecurityStatus(cfg))
	})

	t.Run("ocsp installs verifier", func(t *testing.T) {
		c := &Config{CertFile: certFile, KeyFile: keyFile, ClientCAFile: certFile}
		c.OCSP.ResponderURL = "http://127.0.0.1:1/ocsp"
		cfg, err := LoadTLSConfig(c)
		require.NoError(t, err)
		assert.NotNil(t, cfg.VerifyPeerCertificate)
	})

	t.Run("key without cert", func(t *testing.T) {
		_, err := LoadTLSConfig(&Config{KeyFile: keyFile})
		assert.ErrorIs(t, err, errMissingKey)
	})

	t.Run("missing files", func(t *testing.T) {
		_, err := LoadTLSConfig(&Config{CertFile: filepath.Join(dir, "nope"), KeyFile: keyFile})
		assert.ErrorIs(t, err, errLoadCerts)

		_, err = LoadTLSConfig(&Config{CertFile: certFile, KeyFile: keyFile, ClientCAFile: filepath.Join(dir, "nope")})
		assert.ErrorIs(t, err, errLoadClientCA)

		_, err = LoadTLSConfig(&Config{CertFile: certFile, KeyFile: keyFile, ServerCAFile: filepath.Join(dir, "nope")})
		assert.ErrorIs(t, err, errLoadServerCA)
	})

	t.Run("bad ca pem", func(t *testing.T) {
		_, err := LoadTLSConfig(&Config{CertFile: certFile, KeyFile: keyFile, ClientCAFile: garbage})
		assert.ErrorIs(t, err, errAppendCA)
	})
}

func TestSecurityStatus(t *testing.T) {
	assert.Equal(t, "no TLS", SecurityStatus(nil))
	assert.Equal(t, "no server certificates", SecurityStatus(&gotls.Config{}))
}
