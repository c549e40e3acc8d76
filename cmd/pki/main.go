package main

import (
	"fmt"
	"net/http"
	"os"
	"runtime"

	"github.com/go-errors/errors"
	"github.com/integrii/flaggy"
	"github.com/jmhodges/clock"
	"github.com/sirupsen/logrus"

	"github.com/letsencrypt/pebble-pki/ca"
	"github.com/letsencrypt/pebble-pki/caa"
	"github.com/letsencrypt/pebble-pki/cmd"
	"github.com/letsencrypt/pebble-pki/db"
	"github.com/letsencrypt/pebble-pki/wfe"
)

var version = "unversioned"

type config struct {
	PKI struct {
		ListenAddress string
		// Database is a bbolt file. Certificates are kept in memory when
		// it is empty.
		Database string
		KeyType  string
		// Profiles is a YAML file of issuance profiles; Profile names the
		// one used for end-entity certificates.
		Profiles    string
		Profile     string
		CRLValidity cmd.Duration

		CAA struct {
			Resolver string
			Identity string
		}

		RequestTimeout cmd.Duration
		NonceLifetime  cmd.Duration
		CRLCacheTTL    cmd.Duration
	}
}

func main() {
	configFile := "test/config/pki-config.json"
	flaggy.SetName("pki")
	flaggy.SetDescription("A small certificate authority with an HTTP API")
	flaggy.String(&configFile, "c", "config", "File path to the pki configuration file")
	flaggy.SetVersion(fmt.Sprintf("%s\nOS: %s\nArch: %s", version, runtime.GOOS, runtime.GOARCH))
	flaggy.Parse()

	logger := cmd.NewLogger(os.Stdout, "pki", cmd.LogLevel(logrus.InfoLevel))

	var c config
	err := cmd.ReadConfigFile(configFile, &c)
	cmd.FailOnError(err, "Reading JSON config file into config structure")

	srv, store, err := newServer(c, logger, clock.New())
	if err != nil {
		logger.Fatal(errors.Wrap(err, 0).ErrorStack())
	}
	go cmd.CatchSignals(func() {
		logger.Info("Shutting down")
		_ = srv.Close()
		_ = store.Close()
	})

	logger.Infof("pki running, listening on: %s", c.PKI.ListenAddress)
	err = srv.ListenAndServe()
	if err != http.ErrServerClosed {
		cmd.FailOnError(err, "Calling ListenAndServe()")
	}
}

func newServer(c config, logger *logrus.Entry, clk clock.Clock) (*http.Server, db.Store, error) {
	policy, err := loadPolicy(c.PKI.Profiles, c.PKI.Profile)
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(c.PKI.Database)
	if err != nil {
		return nil, nil, err
	}

	opts := ca.Options{
		KeyType:     c.PKI.KeyType,
		CRLValidity: c.PKI.CRLValidity.Duration,
	}
	if c.PKI.CAA.Resolver != "" {
		opts.CAA = caa.New(c.PKI.CAA.Resolver, c.PKI.CAA.Identity, logger.WithField("component", "caa"))
	}

	authority, err := ca.New(logger.WithField("component", "ca"), store, clk, policy, opts)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	frontEnd := wfe.New(logger.WithField("component", "wfe"), authority, store, wfe.Config{
		RequestTimeout: c.PKI.RequestTimeout.Duration,
		NonceLifetime:  c.PKI.NonceLifetime.Duration,
		CRLCacheTTL:    c.PKI.CRLCacheTTL.Duration,
	})

	return &http.Server{
		Addr:    c.PKI.ListenAddress,
		Handler: frontEnd.Handler(),
	}, store, nil
}

// loadPolicy builds the end-entity policy from the named profile, or from
// ca.DefaultProfile when no profile file is configured.
func loadPolicy(path, name string) (ca.Policy, error) {
	if path == "" {
		return ca.DefaultProfile.Policy()
	}
	profiles, err := ca.LoadProfiles(path)
	if err != nil {
		return ca.Policy{}, err
	}
	profile, ok := profiles[name]
	if !ok {
		return ca.Policy{}, fmt.Errorf("profile %q not found in %s", name, path)
	}
	return profile.Policy()
}

func openStore(path string) (db.Store, error) {
	if path == "" {
		return db.NewMemoryStore(), nil
	}
	store, err := db.NewBoltStore(path, nil)
	if err != nil {
		return nil, err
	}
	return store, nil
}
