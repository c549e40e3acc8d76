package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsencrypt/pebble-pki/ca"
	"github.com/letsencrypt/pebble-pki/cmd"
	"github.com/letsencrypt/pebble-pki/db"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadConfig(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "pki": {
    "listenAddress": "127.0.0.1:0",
    "keyType": "ed25519",
    "crlValidity": "2h",
    "caa": {"resolver": "127.0.0.1:8053", "identity": "pki.example"},
    "nonceLifetime": "90s"
  }
}`)
	var c config
	require.NoError(t, cmd.ReadConfigFile(path, &c))
	assert.Equal(t, "ed25519", c.PKI.KeyType)
	assert.Equal(t, 2*time.Hour, c.PKI.CRLValidity.Duration)
	assert.Equal(t, 90*time.Second, c.PKI.NonceLifetime.Duration)
	assert.Zero(t, c.PKI.RequestTimeout.Duration)
	assert.Equal(t, "pki.example", c.PKI.CAA.Identity)

	bad := writeFile(t, "bad.json", `{"pki": {"crlValidity": "two hours"}}`)
	assert.Error(t, cmd.ReadConfigFile(bad, &c))
}

func TestLoadPolicy(t *testing.T) {
	policy, err := loadPolicy("", "")
	require.NoError(t, err)
	assert.Equal(t, ca.DefaultProfile.Validity, policy.Validity)

	path := writeFile(t, "profiles.yaml", `
profiles:
  short:
    validity: 24h
    precedence: request-wins
`)
	policy, err = loadPolicy(path, "short")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, policy.Validity)
	assert.Equal(t, ca.RequestWins, policy.Precedence)
	assert.Equal(t, ca.DefaultProfile.Backdate, policy.Backdate)

	_, err = loadPolicy(path, "missing")
	assert.ErrorContains(t, err, "missing")
	_, err = loadPolicy(filepath.Join(t.TempDir(), "absent.yaml"), "short")
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	store, err := openStore("")
	require.NoError(t, err)
	assert.IsType(t, &db.MemoryStore{}, store)

	store, err = openStore(filepath.Join(t.TempDir(), "pki.db"))
	require.NoError(t, err)
	assert.IsType(t, &db.BoltStore{}, store)
	require.NoError(t, store.Close())
}

func TestNewServer(t *testing.T) {
	logger, _ := test.NewNullLogger()
	var c config
	c.PKI.Database = filepath.Join(t.TempDir(), "pki.db")

	srv, store, err := newServer(c, logrus.NewEntry(logger), clock.New())
	require.NoError(t, err)
	defer store.Close()

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/roots")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "BEGIN CERTIFICATE")

	c.PKI.KeyType = "dsa"
	c.PKI.Database = ""
	_, _, err = newServer(c, logrus.NewEntry(logger), clock.New())
	assert.Error(t, err)
}
