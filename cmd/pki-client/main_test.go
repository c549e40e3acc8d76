package main

import (
	"crypto"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/jmhodges/clock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsencrypt/pebble-pki/ca"
	"github.com/letsencrypt/pebble-pki/core"
	"github.com/letsencrypt/pebble-pki/db"
	"github.com/letsencrypt/pebble-pki/wfe"
	"github.com/letsencrypt/pebble-pki/x509"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	log := logrus.NewEntry(logger)
	store := db.NewMemoryStore()
	policy, err := ca.DefaultProfile.Policy()
	require.NoError(t, err)
	authority, err := ca.New(log, store, clock.New(), policy, ca.Options{})
	require.NoError(t, err)
	ts := httptest.NewServer(wfe.New(log, authority, store, wfe.Config{}).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestIssueRevokeVerify(t *testing.T) {
	for _, keyType := range []string{"ecdsa", "ed25519"} {
		t.Run(keyType, func(t *testing.T) {
			ts := newTestServer(t)
			c, err := newClient(ts.URL + "/dir")
			require.NoError(t, err)

			key, err := generateKey(keyType)
			require.NoError(t, err)
			chain, location, err := c.issue(key, []string{"example.com", "www.example.com"})
			require.NoError(t, err)
			assert.Contains(t, location, "/cert/")

			certs, err := core.ParsePEMCertificates(chain)
			require.NoError(t, err)
			require.Len(t, certs, 2)
			san, ok, err := certs[0].SubjectAltName()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []string{"example.com", "www.example.com"}, san.DNSNames())

			v, err := c.verify(chain)
			require.NoError(t, err)
			assert.True(t, v.Valid)
			assert.Len(t, v.Path, 3)

			require.NoError(t, c.revoke(key, certs[0], int(x509.ReasonKeyCompromise)))
			_, err = c.verify(chain)
			assert.ErrorContains(t, err, "Revoked")

			assert.ErrorContains(t, c.revoke(key, certs[0], -1), "alreadyRevoked")
		})
	}
}

func TestRevokeWrongKey(t *testing.T) {
	c, err := newClient(newTestServer(t).URL + "/dir")
	require.NoError(t, err)
	key, err := generateKey("ecdsa")
	require.NoError(t, err)
	chain, _, err := c.issue(key, []string{"example.com"})
	require.NoError(t, err)
	certs, err := core.ParsePEMCertificates(chain)
	require.NoError(t, err)

	other, err := generateKey("ecdsa")
	require.NoError(t, err)
	assert.ErrorContains(t, c.revoke(other, certs[0], -1), "unauthorized")
}

func TestIssueNoNames(t *testing.T) {
	c, err := newClient(newTestServer(t).URL + "/dir")
	require.NoError(t, err)
	key, err := generateKey("ecdsa")
	require.NoError(t, err)
	_, _, err = c.issue(key, nil)
	assert.Error(t, err)
}

func TestKeyFile(t *testing.T) {
	for _, keyType := range []string{"ecdsa", "ed25519"} {
		key, err := generateKey(keyType)
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "key.jwk")
		require.NoError(t, saveKey(path, key))
		loaded, err := loadKey(path)
		require.NoError(t, err)
		assert.True(t, loaded.Public().(interface{ Equal(crypto.PublicKey) bool }).Equal(key.Public()), keyType)
	}

	_, err := generateKey("rsa")
	assert.Error(t, err)
}
