// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ocsp checks peer certificates against an OCSP responder.
package ocsp

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/absmach/syncmq/pkg/tls/verifier"
	"golang.org/x/crypto/ocsp"
)

const defaultTimeout = 5 * time.Second

var (
	errParseIssuerCrt    = errors.New("failed to parse issuer certificate")
	errCreateOCSPReq     = errors.New("failed to create OCSP request")
	errCreateOCSPHTTPReq = errors.New("failed to create OCSP HTTP request")
	errOCSPReq           = errors.New("OCSP request failed")
	errOCSPReadResp      = errors.New("failed to read OCSP response")
	errParseOCSPResp     = errors.New("failed to parse OCSP response for certificate")
	errIssuerCert        = errors.New("issuer certificate is neither in the chain nor referenced by AIA")
	errNoOCSPURL         = errors.New("no OCSP responder configured or present in certificate AIA")
	errOCSPServerFailed  = errors.New("OCSP server failed")
	errOCSPUnknown       = errors.New("OCSP status unknown")
	errCertRevoked       = errors.New("certificate revoked")
	errRetrieveIssuerCrt = errors.New("failed to retrieve issuer certificate")
	errIssuerCrtPEM      = errors.New("failed to decode issuer certificate PEM")
	errParseCert         = errors.New("failed to parse certificate")
	errClientCrt         = errors.New("client certificate not received")
)

// Config enables OCSP checks. Depth limits how many certificates of a raw
// chain are checked; zero checks them all.
type Config struct {
	Enable       bool          `yaml:"enable"`
	Depth        uint          `yaml:"depth"`
	ResponderURL string        `yaml:"responder_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Enabled reports whether OCSP checks are on.
func (c Config) Enabled() bool {
	return c.Enable || c.ResponderURL != ""
}

// Verifier queries an OCSP responder for each peer certificate.
type Verifier struct {
	cfg    Config
	client *http.Client
}

var _ verifier.Verifier = (*Verifier)(nil)

// New creates an OCSP verifier.
func New(cfg Config) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Verifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (v *Verifier) VerifyPeerCertificate(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	switch {
	case len(verifiedChains) > 0:
		for _, chain := range verifiedChains {
			if err := v.verifyChain(chain); err != nil {
				return err
			}
		}
		return nil
	case len(rawCerts) > 0:
		certs, err := parseCertificates(rawCerts)
		if err != nil {
			return err
		}
		return v.verifyRaw(certs)
	default:
		return errClientCrt
	}
}

func (v *Verifier) verifyRaw(certs []*x509.Certificate) error {
	for i, cert := range certs {
		if err := v.verify(cert, findIssuer(cert.Issuer, certs)); err != nil {
			return err
		}
		if i+1 == int(v.cfg.Depth) {
			return nil
		}
	}
	return nil
}

// verifyChain checks a chain ordered leaf first; the last entry is its own issuer.
func (v *Verifier) verifyChain(chain []*x509.Certificate) error {
	for i, cert := range chain {
		issuer := cert
		if i+1 < len(chain) {
			issuer = chain[i+1]
		}
		if err := v.verify(cert, issuer); err != nil {
			return err
		}
	}
	return nil
}

func (v *Verifier) verify(cert, issuer *x509.Certificate) error {
	switch {
	case isRootCA(cert):
		issuer = cert
	case issuer == nil:
		if len(cert.IssuingCertificateURL) == 0 {
			return fmt.Errorf("%w: common name %s serial %x", errIssuerCert, cert.Subject.CommonName, cert.SerialNumber)
		}
		var err error
		if issuer, err = v.fetchIssuer(cert.IssuingCertificateURL[0]); err != nil {
			return err
		}
	}

	responder := v.cfg.ResponderURL
	if responder == "" {
		if len(cert.OCSPServer) == 0 {
			return fmt.Errorf("%w: common name %s serial %x", errNoOCSPURL, cert.Subject.CommonName, cert.SerialNumber)
		}
		responder = cert.OCSPServer[0]
	}

	body, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return errors.Join(errCreateOCSPReq, err)
	}

	req, err := http.NewRequest(http.MethodPost, responder, bytes.NewReader(body))
	if err != nil {
		return errors.Join(errCreateOCSPHTTPReq, err)
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := v.client.Do(req)
	if err != nil {
		return errors.Join(errOCSPReq, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Join(errOCSPReadResp, err)
	}
	parsed, err := ocsp.ParseResponseForCert(raw, cert, issuer)
	if err != nil {
		return errors.Join(errParseOCSPResp, err)
	}

	switch parsed.Status {
	case ocsp.Good:
		return nil
	case ocsp.Revoked:
		return fmt.Errorf("%w: common name %s serial %x revoked at %v", errCertRevoked, cert.Subject.CommonName, cert.SerialNumber, parsed.RevokedAt)
	case ocsp.ServerFailed:
		return errOCSPServerFailed
	default:
		return errOCSPUnknown
	}
}

func (v *Verifier) fetchIssuer(url string) (*x509.Certificate, error) {
	resp, err := v.client.Get(url)
	if err != nil {
		return nil, errors.Join(errRetrieveIssuerCrt, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Join(errRetrieveIssuerCrt, err)
	}

	der := body
	if block, _ := pem.Decode(body); block != nil {
		der = block.Bytes
	} else if len(body) == 0 {
		return nil, errIssuerCrtPEM
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.Join(errParseIssuerCrt, err)
	}
	return cert, nil
}

func findIssuer(subject pkix.Name, certs []*x509.Certificate) *x509.Certificate {
	for _, cert := range certs {
		if cert.Subject.SerialNumber != "" && subject.SerialNumber != "" {
			if cert.Subject.SerialNumber == subject.SerialNumber {
				return cert
			}
			continue
		}
		if cert.Subject.String() == subject.String() {
			return cert
		}
	}
	return nil
}

func isRootCA(cert *x509.Certificate) bool {
	if !cert.IsCA {
		return false
	}
	if len(cert.AuthorityKeyId) > 0 && len(cert.SubjectKeyId) > 0 && bytes.Equal(cert.AuthorityKeyId, cert.SubjectKeyId) {
		return true
	}
	return cert.Issuer.String() == cert.Subject.String()
}

func parseCertificates(rawCerts [][]byte) ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return nil, errors.Join(errParseCert, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}
