// Package ca issues certificates from certification requests and runs the
// certificate authority behind the web front end: a root, an intermediate
// that signs end-entity certificates, revocation and CRL generation.
package ca

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
	"github.com/jmhodges/clock"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/letsencrypt/pebble-pki/chain"
	"github.com/letsencrypt/pebble-pki/core"
	"github.com/letsencrypt/pebble-pki/db"
	"github.com/letsencrypt/pebble-pki/signature"
	"github.com/letsencrypt/pebble-pki/x509"
)

const (
	rootCAPrefix         = "Pebble PKI Root CA "
	intermediateCAPrefix = "Pebble PKI Intermediate CA "

	rootValidity         = 30 * 365 * 24 * time.Hour
	intermediateValidity = 10 * 365 * 24 * time.Hour
	defaultCRLValidity   = 24 * time.Hour
)

var (
	ErrMalformedRequest = errors.New("ca: malformed certification request")
	ErrAlreadyRevoked   = errors.New("ca: certificate already revoked")
	ErrBadReason        = errors.New("ca: unknown revocation reason")
	ErrNotRevocable     = errors.New("ca: certificate was not issued by the intermediate")
)

// CAAChecker is consulted for the DNS names of every request.
type CAAChecker interface {
	Check(ctx context.Context, names []string) error
}

type Options struct {
	// KeyType is one of rsa, ecdsa, ed25519, mldsa44, mldsa65 or mldsa87.
	// The default is ecdsa.
	KeyType     string
	CRLValidity time.Duration
	CAA         CAAChecker
}

type CAImpl struct {
	log    *logrus.Entry
	db     db.Store
	clk    clock.Clock
	policy Policy
	opts   Options

	crlNumbers *CounterSerials

	root         *issuer
	intermediate *issuer
}

type issuer struct {
	signer *signature.Signer
	cert   *core.Certificate
}

// makeKey creates a new CA private key of the given type.
func makeKey(keyType string) (crypto.Signer, error) {
	switch keyType {
	case "rsa":
		return rsa.GenerateKey(rand.Reader, 2048)
	case "", "ecdsa":
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "ed25519":
		_, key, err := ed25519.GenerateKey(rand.Reader)
		return key, err
	case "mldsa44":
		_, key, err := mldsa44.GenerateKey(rand.Reader)
		return key, err
	case "mldsa65":
		_, key, err := mldsa65.GenerateKey(rand.Reader)
		return key, err
	case "mldsa87":
		_, key, err := mldsa87.GenerateKey(rand.Reader)
		return key, err
	}
	return nil, fmt.Errorf("unknown key type %q", keyType)
}

func newIssuer(key crypto.Signer, cert *x509.Certificate, parent *core.Certificate) (*issuer, error) {
	s, err := signature.NewSigner(key, nil)
	if err != nil {
		return nil, err
	}
	return &issuer{signer: s, cert: core.NewCertificate(cert, parent)}, nil
}

// caName appends a short key fingerprint so that names differ between runs.
func caName(prefix string, pub crypto.PublicKey) (x509.Name, error) {
	spki, err := x509.NewSPKI(pub)
	if err != nil {
		return nil, err
	}
	return x509.CommonNameOnly(prefix + hex.EncodeToString(x509.KeyID(spki)[:3])), nil
}

func (ca *CAImpl) newRootIssuer() error {
	rk, err := makeKey(ca.opts.KeyType)
	if err != nil {
		return fmt.Errorf("creating root private key: %w", err)
	}
	name, err := caName(rootCAPrefix, rk.Public())
	if err != nil {
		return err
	}
	rc, err := SelfSigned(rk, name, Policy{
		Validity: rootValidity,
		Serials:  ca.db,
		Clock:    ca.clk,
	})
	if err != nil {
		return fmt.Errorf("creating root certificate: %w", err)
	}
	if ca.root, err = newIssuer(rk, rc, nil); err != nil {
		return err
	}
	if err := ca.db.AddCertificate(ca.root.cert); err != nil {
		return err
	}
	ca.log.WithField("serial", ca.root.cert.ID).Info("Generated new root issuer")
	return nil
}

func (ca *CAImpl) newIntermediateIssuer() error {
	if ca.root == nil {
		return errors.New("newIntermediateIssuer() called before newRootIssuer()")
	}

	ik, err := makeKey(ca.opts.KeyType)
	if err != nil {
		return fmt.Errorf("creating intermediate private key: %w", err)
	}
	name, err := caName(intermediateCAPrefix, ik.Public())
	if err != nil {
		return err
	}
	spki, err := x509.NewSPKI(ik.Public())
	if err != nil {
		return err
	}
	self, err := signature.NewSigner(ik, nil)
	if err != nil {
		return err
	}
	csr, err := x509.CertificationRequestInfo{Subject: name, PublicKey: spki}.Sign(self)
	if err != nil {
		return err
	}

	profile := Profile{CA: true, MaxPathLen: lo.ToPtr(0), Validity: intermediateValidity}
	policy, err := profile.Policy()
	if err != nil {
		return err
	}
	policy.Serials, policy.Clock, policy.Backdate = ca.db, ca.clk, 0

	ic, err := Issue(csr, ca.root.signer.Key, ca.root.cert.Cert, policy)
	if err != nil {
		return fmt.Errorf("creating intermediate certificate: %w", err)
	}
	if ca.intermediate, err = newIssuer(ik, ic, ca.root.cert); err != nil {
		return err
	}
	if err := ca.db.AddCertificate(ca.intermediate.cert); err != nil {
		return err
	}
	ca.log.WithField("serial", ca.intermediate.cert.ID).Info("Generated new intermediate issuer")
	return nil
}

// New bootstraps a fresh root and intermediate. End-entity certificates
// are issued under policy; a policy without a serial source draws serials
// from the store.
func New(log *logrus.Entry, store db.Store, clk clock.Clock, policy Policy, opts Options) (*CAImpl, error) {
	if policy.Serials == nil {
		policy.Serials = store
	}
	if policy.Clock == nil {
		policy.Clock = clk
	}
	if opts.CRLValidity == 0 {
		opts.CRLValidity = defaultCRLValidity
	}
	ca := &CAImpl{
		log:        log,
		db:         store,
		clk:        clk,
		policy:     policy,
		opts:       opts,
		crlNumbers: NewCounterSerials(1),
	}
	if err := ca.newRootIssuer(); err != nil {
		return nil, err
	}
	if err := ca.newIntermediateIssuer(); err != nil {
		return nil, err
	}
	return ca, nil
}

func (ca *CAImpl) Root() *core.Certificate         { return ca.root.cert }
func (ca *CAImpl) Intermediate() *core.Certificate { return ca.intermediate.cert }

// IssueRequest issues and stores a certificate for a DER certification
// request.
func (ca *CAImpl) IssueRequest(ctx context.Context, der []byte) (*core.Certificate, error) {
	csr, err := x509.ParseCertificationRequest(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if err := signature.VerifyRequest(csr); err != nil {
		return nil, &Error{Code: CodeInvalidProofOfPossession, Cause: err}
	}

	if ca.opts.CAA != nil {
		names, err := requestedDNSNames(csr)
		if err != nil {
			return nil, err
		}
		if err := ca.opts.CAA.Check(ctx, names); err != nil {
			return nil, &Error{Code: CodePolicyViolation, Message: "CAA check failed", Cause: err}
		}
	}

	cert, err := Issue(csr, ca.intermediate.signer.Key, ca.intermediate.cert.Cert, ca.policy)
	if err != nil {
		return nil, err
	}
	newCert := core.NewCertificate(cert, ca.intermediate.cert)
	if err := ca.db.AddCertificate(newCert); err != nil {
		return nil, err
	}
	ca.log.WithFields(logrus.Fields{
		"serial":  newCert.ID,
		"subject": cert.Subject().String(),
	}).Info("Issued certificate")
	return newCert, nil
}

// requestedDNSNames collects the names CAA applies to: dNSName SANs and a
// subject common name.
func requestedDNSNames(csr *x509.CertificationRequest) ([]string, error) {
	exts, err := csr.RequestedExtensions()
	if err != nil {
		return nil, &Error{Code: CodePolicyViolation, Message: "malformed extensionRequest", Cause: err}
	}
	san, _, err := x509.Find[x509.SubjectAltName](exts)
	if err != nil {
		return nil, &Error{Code: CodePolicyViolation, Message: "malformed subjectAltName", Cause: err}
	}
	names := san.DNSNames()
	if cn := csr.Info.Subject.CommonName(); cn != "" {
		names = append(names, cn)
	}
	return lo.Uniq(names), nil
}

// Revoke records serial as revoked. Only certificates the intermediate
// issued can be revoked.
func (ca *CAImpl) Revoke(serial *big.Int, reason x509.CRLReason) (*core.RevokedCertificate, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("%w %d", ErrBadReason, reason)
	}
	cert, err := ca.db.GetCertificateBySerial(serial)
	if err != nil {
		return nil, err
	}
	if cert.Issuer == nil || cert.Issuer.ID != ca.intermediate.cert.ID {
		return nil, fmt.Errorf("%w: %s", ErrNotRevocable, cert.ID)
	}
	if _, err := ca.db.GetRevokedCertificateBySerial(serial); err == nil {
		return nil, ErrAlreadyRevoked
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	rc := &core.RevokedCertificate{
		Certificate: cert,
		RevokedAt:   ca.clk.Now().UTC().Truncate(time.Second),
		Reason:      reason,
	}
	if err := ca.db.RevokeCertificate(rc); err != nil {
		return nil, err
	}
	ca.log.WithFields(logrus.Fields{"serial": cert.ID, "reason": int(reason)}).Info("Revoked certificate")
	return rc, nil
}

// CRL signs a fresh CRL for the intermediate. Every call gets the next
// cRLNumber.
func (ca *CAImpl) CRL() (*x509.CertificateList, error) {
	revoked, err := ca.db.RevokedCertificates()
	if err != nil {
		return nil, err
	}
	var entries []x509.RevokedCertificate
	for _, rc := range revoked {
		if rc.Certificate.Issuer == nil || rc.Certificate.Issuer.ID != ca.intermediate.cert.ID {
			continue
		}
		entry, err := rc.Entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	number, err := ca.crlNumbers.NextSerial()
	if err != nil {
		return nil, err
	}
	var exts []x509.Extension
	for _, v := range []x509.ExtensionValue{
		authorityKeyID(ca.intermediate.cert.Cert),
		x509.CRLNumber{Number: number},
	} {
		if exts, err = withExtension(exts, v, false); err != nil {
			return nil, err
		}
	}

	now := ca.clk.Now().UTC().Truncate(time.Second)
	crl, err := x509.TBSCertList{
		Issuer:              ca.intermediate.cert.Cert.Subject(),
		ThisUpdate:          now,
		NextUpdate:          now.Add(ca.opts.CRLValidity),
		RevokedCertificates: entries,
		Extensions:          exts,
	}.Sign(ca.intermediate.signer)
	if err != nil {
		return nil, err
	}
	ca.log.WithFields(logrus.Fields{"number": number.String(), "entries": len(entries)}).Debug("Signed CRL")
	return crl, nil
}

// Validator checks chains against this CA's root and, when crl is not
// nil, its revocations.
func (ca *CAImpl) Validator(crl *x509.CertificateList) *chain.Validator {
	v := &chain.Validator{
		Roots: chain.NewPool(ca.root.cert.Cert),
		Clock: ca.clk,
	}
	if crl != nil {
		v.CRLs = []*x509.CertificateList{crl}
	}
	return v
}
