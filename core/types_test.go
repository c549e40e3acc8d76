package core

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsencrypt/pebble-pki/signature"
	"github.com/letsencrypt/pebble-pki/x509"
)

var testTime = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	signer *signature.Signer
	cert   *Certificate
}

func newCert(t *testing.T, issuer *fixture, cn string, serial int64) *fixture {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	s, err := signature.NewSigner(key, nil)
	require.NoError(t, err)
	spki, err := x509.NewSPKI(key.Public())
	require.NoError(t, err)

	signer, issuerName := s, x509.CommonNameOnly(cn)
	var parent *Certificate
	if issuer != nil {
		signer, issuerName, parent = issuer.signer, issuer.cert.Cert.Subject(), issuer.cert
	}
	cert, err := x509.TBSCertificate{
		Version:      x509.Version3,
		SerialNumber: big.NewInt(serial),
		Issuer:       issuerName,
		Validity:     x509.Validity{NotBefore: testTime, NotAfter: testTime.Add(time.Hour)},
		Subject:      x509.CommonNameOnly(cn),
		PublicKey:    spki,
	}.Sign(signer)
	require.NoError(t, err)
	return &fixture{signer: s, cert: NewCertificate(cert, parent)}
}

func TestSerialID(t *testing.T) {
	assert.Equal(t, "01", SerialID(big.NewInt(1)))
	assert.Equal(t, "0100", SerialID(big.NewInt(256)))
}

func TestChain(t *testing.T) {
	root := newCert(t, nil, "root", 1)
	inter := newCert(t, root, "intermediate", 2)
	leaf := newCert(t, inter, "leaf", 258)

	assert.Equal(t, "0102", leaf.cert.ID)

	certs, err := ParsePEMCertificates(leaf.cert.Chain())
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.True(t, certs[0].Equal(leaf.cert.Cert))
	assert.True(t, certs[1].Equal(inter.cert.Cert))

	intermediates := leaf.cert.Intermediates()
	require.Len(t, intermediates, 1)
	assert.True(t, intermediates[0].Equal(inter.cert.Cert))

	assert.Empty(t, root.cert.Intermediates())
	certs, err = ParsePEMCertificates(root.cert.Chain())
	require.NoError(t, err)
	assert.Len(t, certs, 1)
}

func TestParsePEMCertificates(t *testing.T) {
	root := newCert(t, nil, "root", 1)

	other := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}})
	certs, err := ParsePEMCertificates(append(other, root.cert.PEM()...))
	require.NoError(t, err)
	assert.Len(t, certs, 1)

	_, err = ParsePEMCertificates(other)
	assert.Error(t, err)

	bad := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{0x30, 0x01}})
	_, err = ParsePEMCertificates(bad)
	assert.Error(t, err)
}

func TestEntry(t *testing.T) {
	leaf := newCert(t, nil, "leaf", 7)
	revokedAt := testTime.Add(time.Minute)

	entry, err := RevokedCertificate{Certificate: leaf.cert, RevokedAt: revokedAt}.Entry()
	require.NoError(t, err)
	assert.Equal(t, 0, entry.SerialNumber.Cmp(big.NewInt(7)))
	assert.Equal(t, revokedAt, entry.RevocationDate)
	assert.Empty(t, entry.Extensions)
	_, ok := entry.Reason()
	assert.False(t, ok)

	entry, err = RevokedCertificate{
		Certificate: leaf.cert,
		RevokedAt:   revokedAt,
		Reason:      x509.ReasonSuperseded,
	}.Entry()
	require.NoError(t, err)
	reason, ok := entry.Reason()
	require.True(t, ok)
	assert.Equal(t, x509.ReasonSuperseded, reason)
}

func TestRandomString(t *testing.T) {
	a, b := RandomString(16), RandomString(16)
	assert.Len(t, a, 22)
	assert.NotEqual(t, a, b)
}
