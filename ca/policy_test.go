package ca

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/signature"
	"github.com/letsencrypt/pebble-pki/x509"
)

const profilesYAML = `
profiles:
  server:
    validity: 720h
    extKeyUsage: [serverAuth, serverAuth]
    crlDistributionPoints: ["http://crl.example/1.crl"]
  sub-ca:
    ca: true
    maxPathLen: 0
    validity: 43800h
    backdate: 0s
    precedence: request-wins
    signatureAlgorithm: ECDSA-SHA384
    allowedCritical: ["1.3.6.1.5.5.7.1.24"]
`

func TestParseProfiles(t *testing.T) {
	profiles, err := ParseProfiles([]byte(profilesYAML))
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	server := profiles["server"]
	assert.Equal(t, 720*time.Hour, server.Validity)
	assert.Equal(t, DefaultProfile.Backdate, server.Backdate)
	assert.Equal(t, DefaultProfile.KeyUsage, server.KeyUsage)
	assert.Equal(t, "policy-wins", server.Precedence)

	policy, err := server.Policy()
	require.NoError(t, err)
	assert.Equal(t, PolicyWins, policy.Precedence)
	eku, ok, err := x509.Find[x509.ExtKeyUsage](policy.Extensions)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, eku, 1)
	assert.True(t, eku[0].Equal(x509.OIDExtKeyUsageServerAuth))
	dps, ok, err := x509.Find[x509.CRLDistributionPoints](policy.Extensions)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"http://crl.example/1.crl"}, dps.URIs())

	sub := profiles["sub-ca"]
	policy, err = sub.Policy()
	require.NoError(t, err)
	assert.Equal(t, RequestWins, policy.Precedence)
	// A zero backdate is indistinguishable from an unset one.
	assert.Equal(t, DefaultProfile.Backdate, policy.Backdate)
	require.NotNil(t, policy.Algorithm)
	assert.Equal(t, "ECDSA-SHA384", policy.Algorithm.Name)
	assert.True(t, policy.allowsCritical(asn1.OID(1, 3, 6, 1, 5, 5, 7, 1, 24)))

	bcExt, ok := x509.FindExtension(policy.Extensions, x509.OIDExtensionBasicConstraints)
	require.True(t, ok)
	assert.True(t, bcExt.Critical)
	bc, _, err := x509.Find[x509.BasicConstraints](policy.Extensions)
	require.NoError(t, err)
	assert.True(t, bc.IsCA)
	require.NotNil(t, bc.MaxPathLen)
	assert.Equal(t, 0, *bc.MaxPathLen)
	ku, _, err := x509.Find[x509.KeyUsage](policy.Extensions)
	require.NoError(t, err)
	assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageCertSign|x509.KeyUsageCRLSign, ku)
}

func TestProfilePolicyErrors(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
	}{
		{"precedence", Profile{Precedence: "first-wins"}},
		{"keyUsage", Profile{KeyUsage: []string{"everything"}}},
		{"extKeyUsage", Profile{ExtKeyUsage: []string{"gaming"}}},
		{"algorithm", Profile{SignatureAlgorithm: "ROT13"}},
		{"allowedCritical", Profile{AllowedCritical: []string{"not.an.oid"}}},
		{"pathLen", Profile{CA: true, MaxPathLen: func() *int { n := -1; return &n }()}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.profile.Policy()
			assert.Error(t, err)
		})
	}
}

func TestLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profilesYAML), 0o600))
	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	assert.Contains(t, profiles, "server")

	_, err = LoadProfiles(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseProfiles([]byte("profiles: [1, 2"))
	assert.Error(t, err)
}

func TestParsePrecedence(t *testing.T) {
	for _, s := range []string{"", "policy-wins", "POLICY-WINS"} {
		p, err := ParsePrecedence(s)
		require.NoError(t, err)
		assert.Equal(t, PolicyWins, p)
	}
	p, err := ParsePrecedence("request-wins")
	require.NoError(t, err)
	assert.Equal(t, RequestWins, p)
	_, err = ParsePrecedence("coin-flip")
	assert.Error(t, err)
}

func TestProfileSignatureAlgorithm(t *testing.T) {
	clk := fakeClock()
	ca := newTestCA(t, clk)
	profile := DefaultProfile
	profile.SignatureAlgorithm = "ECDSA-SHA384"
	policy, err := profile.Policy()
	require.NoError(t, err)
	policy.Clock = clk

	cert, err := Issue(newRequest(t, newKey(t), x509.CommonNameOnly("example.com")), ca.key, ca.cert, policy)
	require.NoError(t, err)
	alg, err := signature.Lookup(cert.SignatureAlgorithm)
	require.NoError(t, err)
	assert.Equal(t, "ECDSA-SHA384", alg.Name)
}
