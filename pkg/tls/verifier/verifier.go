// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package verifier chains additional peer certificate checks onto the
// standard chain verification.
package verifier

import "crypto/x509"

// Verifier checks a peer certificate chain after the TLS handshake has
// verified it against the configured CAs.
type Verifier interface {
	VerifyPeerCertificate(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error
}

// NewValidator returns a tls.Config VerifyPeerCertificate callback that
// runs every verifier in order and fails on the first error.
func NewValidator(verifiers []Verifier) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
		for _, v := range verifiers {
			if err := v.VerifyPeerCertificate(rawCerts, verifiedChains); err != nil {
				return err
			}
		}
		return nil
	}
}
