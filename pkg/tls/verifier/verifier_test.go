// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package verifier

import (
	"crypto/x509"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type verifierFunc func([][]byte, [][]*x509.Certificate) error

func (f verifierFunc) VerifyPeerCertificate(raw [][]byte, chains [][]*x509.Certificate) error {
	return f(raw, chains)
}

func TestNewValidator(t *testing.T) {
	errFirst := errors.New("first")
	var calls []string

	ok := verifierFunc(func([][]byte, [][]*x509.Certificate) error {
		calls = append(calls, "ok")
		return nil
	})
	fail := verifierFunc(func([][]byte, [][]*x509.Certificate) error {
		calls = append(calls, "fail")
		return errFirst
	})

	assert.NoError(t, NewValidator(nil)(nil, nil))

	err := NewValidator([]Verifier{ok, fail, ok})(nil, nil)
	assert.ErrorIs(t, err, errFirst)
	assert.Equal(t, []string{"ok", "fail"}, calls)
}
