package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/signature"
	"github.com/letsencrypt/pebble-pki/x509"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// tlsFeature is the must-staple extension, which has no typed interpreter.
var (
	tlsFeatureOID   = asn1.OID(1, 3, 6, 1, 5, 5, 7, 1, 24)
	tlsFeatureValue = []byte{0x30, 0x03, 0x02, 0x01, 0x05}
)

func fakeClock() clock.FakeClock {
	clk := clock.NewFake()
	clk.Set(testTime)
	return clk
}

func newKey(t *testing.T) crypto.Signer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

type testCA struct {
	key  crypto.Signer
	cert *x509.Certificate
}

func newTestCA(t *testing.T, clk clock.Clock) testCA {
	t.Helper()
	key := newKey(t)
	cert, err := SelfSigned(key, x509.CommonNameOnly("Test CA"), Policy{
		Validity: 10 * 365 * 24 * time.Hour,
		Clock:    clk,
	})
	require.NoError(t, err)
	return testCA{key: key, cert: cert}
}

func newRequest(t *testing.T, key crypto.Signer, subject x509.Name, exts ...x509.Extension) *x509.CertificationRequest {
	t.Helper()
	spki, err := x509.NewSPKI(key.Public())
	require.NoError(t, err)
	info := x509.CertificationRequestInfo{Subject: subject, PublicKey: spki}
	if len(exts) > 0 {
		attr, err := x509.NewExtensionRequest(exts)
		require.NoError(t, err)
		info.Attributes = []x509.Attribute{attr}
	}
	s, err := signature.NewSigner(key, nil)
	require.NoError(t, err)
	csr, err := info.Sign(s)
	require.NoError(t, err)
	return csr
}

func ext(t *testing.T, v x509.ExtensionValue, critical bool) x509.Extension {
	t.Helper()
	e, err := x509.NewExtension(v, critical)
	require.NoError(t, err)
	return e
}

func san(names ...string) x509.SubjectAltName {
	var s x509.SubjectAltName
	for _, n := range names {
		s.Names = append(s.Names, x509.DNS(n))
	}
	return s
}

func leafPolicy(t *testing.T, clk clock.Clock) Policy {
	t.Helper()
	p, err := DefaultProfile.Policy()
	require.NoError(t, err)
	p.Clock = clk
	return p
}

func TestSelfSigned(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)

	assert.True(t, ca.cert.IsCA())
	assert.True(t, ca.cert.SelfIssued())
	assert.Equal(t, x509.KeyID(ca.cert.TBS.PublicKey), ca.cert.SubjectKeyID())
	ku, ok, err := ca.cert.KeyUsage()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ku&x509.KeyUsageCertSign != 0)
	require.NoError(t, signature.VerifyCertificate(ca.cert, ca.key.Public()))

	_, err = SelfSigned(newKey(t), nil, Policy{Validity: time.Hour})
	assert.ErrorIs(t, err, ErrPolicyViolation)

	notCA := ext(t, x509.BasicConstraints{}, true)
	_, err = SelfSigned(newKey(t), x509.CommonNameOnly("x"), Policy{Validity: time.Hour, Extensions: []x509.Extension{notCA}})
	assert.ErrorIs(t, err, ErrPolicyViolation)
}

func TestIssue(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)
	leafKey := newKey(t)
	csr := newRequest(t, leafKey, x509.CommonNameOnly("example.com"), ext(t, san("example.com", "www.example.com"), false))

	policy := leafPolicy(t, clk)
	cert, err := Issue(csr, ca.key, ca.cert, policy)
	require.NoError(t, err)

	require.NoError(t, signature.VerifyCertificate(cert, ca.key.Public()))
	assert.True(t, cert.Issuer().Equal(ca.cert.Subject()))
	assert.Equal(t, "example.com", cert.Subject().CommonName())
	assert.False(t, cert.IsCA())
	assert.Equal(t, ca.cert.SubjectKeyID(), cert.AuthorityKeyID())
	assert.Equal(t, x509.KeyID(csr.Info.PublicKey), cert.SubjectKeyID())

	names, ok, err := cert.SubjectAltName()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"example.com", "www.example.com"}, names.DNSNames())

	wantNotBefore := testTime.Add(-DefaultProfile.Backdate)
	assert.Equal(t, wantNotBefore, cert.TBS.Validity.NotBefore)
	assert.Equal(t, wantNotBefore.Add(DefaultProfile.Validity-time.Second), cert.TBS.Validity.NotAfter)
	assert.Positive(t, cert.SerialNumber().Sign())
	assert.LessOrEqual(t, len(cert.SerialNumber().Bytes()), 20)
}

func TestIssueProofOfPossession(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)
	csr := newRequest(t, newKey(t), x509.CommonNameOnly("example.com"))

	// Swap in a different key after signing.
	other, err := x509.NewSPKI(newKey(t).Public())
	require.NoError(t, err)
	csr.Info.PublicKey = other

	_, err = Issue(csr, ca.key, ca.cert, leafPolicy(t, clk))
	assert.ErrorIs(t, err, ErrInvalidProofOfPossession)
}

func TestIssueWrongCAKey(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)
	csr := newRequest(t, newKey(t), x509.CommonNameOnly("example.com"))

	_, err := Issue(csr, newKey(t), ca.cert, leafPolicy(t, clk))
	assert.ErrorIs(t, err, signature.ErrKeyMismatch)
}

func TestIssuePassesThroughUnknownExtensions(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)

	tests := []struct {
		name string
		exts []x509.Extension
		want bool
	}{
		{"none", nil, false},
		{"must-staple", []x509.Extension{{ID: tlsFeatureOID, Value: tlsFeatureValue}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			csr := newRequest(t, newKey(t), x509.CommonNameOnly("example.com"), tc.exts...)
			cert, err := Issue(csr, ca.key, ca.cert, leafPolicy(t, clk))
			require.NoError(t, err)
			got, ok := x509.FindExtension(cert.TBS.Extensions, tlsFeatureOID)
			assert.Equal(t, tc.want, ok)
			if tc.want {
				assert.Equal(t, tlsFeatureValue, got.Value)
				assert.False(t, got.Critical)
			}
		})
	}
}

func TestIssueCriticalRequested(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)
	critical := x509.Extension{ID: tlsFeatureOID, Critical: true, Value: tlsFeatureValue}
	csr := newRequest(t, newKey(t), x509.CommonNameOnly("example.com"), critical)

	policy := leafPolicy(t, clk)
	_, err := Issue(csr, ca.key, ca.cert, policy)
	assert.ErrorIs(t, err, ErrPolicyViolation)

	policy.AllowedCritical = []asn1.ObjectIdentifier{tlsFeatureOID}
	cert, err := Issue(csr, ca.key, ca.cert, policy)
	require.NoError(t, err)
	got, ok := x509.FindExtension(cert.TBS.Extensions, tlsFeatureOID)
	require.True(t, ok)
	assert.True(t, got.Critical)
}

func TestIssuePrecedence(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)
	requested := ext(t, x509.ExtKeyUsage{x509.OIDExtKeyUsageCodeSigning}, false)
	csr := newRequest(t, newKey(t), x509.CommonNameOnly("example.com"), requested)

	tests := []struct {
		precedence Precedence
		want       x509.ExtKeyUsage
	}{
		{PolicyWins, x509.ExtKeyUsage{x509.OIDExtKeyUsageServerAuth, x509.OIDExtKeyUsageClientAuth}},
		{RequestWins, x509.ExtKeyUsage{x509.OIDExtKeyUsageCodeSigning}},
	}
	for _, tc := range tests {
		t.Run(tc.precedence.String(), func(t *testing.T) {
			policy := leafPolicy(t, clk)
			policy.Precedence = tc.precedence
			cert, err := Issue(csr, ca.key, ca.cert, policy)
			require.NoError(t, err)
			eku, ok, err := x509.Find[x509.ExtKeyUsage](cert.TBS.Extensions)
			require.NoError(t, err)
			require.True(t, ok)
			require.Len(t, eku, len(tc.want))
			for i := range tc.want {
				assert.True(t, tc.want[i].Equal(eku[i]), "got %s, want %s", eku[i], tc.want[i])
			}
		})
	}
}

func TestIssueRejectsRequestedCA(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)
	csr := newRequest(t, newKey(t), x509.CommonNameOnly("sub CA"), ext(t, x509.BasicConstraints{IsCA: true}, false))

	policy := leafPolicy(t, clk)
	policy.Precedence = RequestWins
	_, err := Issue(csr, ca.key, ca.cert, policy)
	assert.ErrorIs(t, err, ErrPolicyViolation)
}

func TestIssueIgnoresRequestedKeyIdentifiers(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)
	bogus := ext(t, x509.SubjectKeyID([]byte("not the key id")), false)
	csr := newRequest(t, newKey(t), x509.CommonNameOnly("example.com"), bogus)

	policy := leafPolicy(t, clk)
	policy.Precedence = RequestWins
	cert, err := Issue(csr, ca.key, ca.cert, policy)
	require.NoError(t, err)
	assert.Equal(t, x509.KeyID(csr.Info.PublicKey), cert.SubjectKeyID())
}

func TestIssueEmptySubject(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)

	csr := newRequest(t, newKey(t), nil)
	_, err := Issue(csr, ca.key, ca.cert, leafPolicy(t, clk))
	assert.ErrorIs(t, err, ErrPolicyViolation)

	csr = newRequest(t, newKey(t), nil, ext(t, san("example.com"), false))
	cert, err := Issue(csr, ca.key, ca.cert, leafPolicy(t, clk))
	require.NoError(t, err)
	got, ok := x509.FindExtension(cert.TBS.Extensions, x509.OIDExtensionSubjectAltName)
	require.True(t, ok)
	assert.True(t, got.Critical)
}

func TestIssueValidity(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)
	csr := newRequest(t, newKey(t), x509.CommonNameOnly("example.com"))

	policy := leafPolicy(t, clk)
	policy.Validity = 0
	_, err := Issue(csr, ca.key, ca.cert, policy)
	assert.ErrorIs(t, err, ErrPolicyViolation)

	policy.Validity = 20 * 365 * 24 * time.Hour
	_, err = Issue(csr, ca.key, ca.cert, policy)
	assert.ErrorIs(t, err, ErrPolicyViolation)
}

func TestIssueNotCA(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)
	leafKey := newKey(t)
	leaf, err := Issue(newRequest(t, leafKey, x509.CommonNameOnly("leaf")), ca.key, ca.cert, leafPolicy(t, clk))
	require.NoError(t, err)

	csr := newRequest(t, newKey(t), x509.CommonNameOnly("example.com"))
	_, err = Issue(csr, leafKey, leaf, leafPolicy(t, clk))
	assert.ErrorIs(t, err, ErrPolicyViolation)
}

type fixedSerials struct{ n *big.Int }

func (f fixedSerials) NextSerial() (*big.Int, error) { return f.n, nil }

func TestIssueSerials(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)
	csr := newRequest(t, newKey(t), x509.CommonNameOnly("example.com"))

	policy := leafPolicy(t, clk)
	policy.Serials = fixedSerials{big.NewInt(4242)}
	cert, err := Issue(csr, ca.key, ca.cert, policy)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), cert.SerialNumber().Int64())

	for _, bad := range []*big.Int{big.NewInt(0), big.NewInt(-1), new(big.Int).Lsh(big.NewInt(1), 160)} {
		policy.Serials = fixedSerials{bad}
		_, err := Issue(csr, ca.key, ca.cert, policy)
		assert.Error(t, err, "serial %s", bad)
	}
}

func TestSerialSources(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		n, err := RandomSerials{}.NextSerial()
		require.NoError(t, err)
		assert.Positive(t, n.Sign())
		assert.LessOrEqual(t, n.BitLen(), 159)
		seen[n.String()] = true
	}
	assert.Len(t, seen, 100)

	c := NewCounterSerials(0)
	first, err := c.NextSerial()
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Int64())
	second, err := c.NextSerial()
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Int64())
}
