// Package chain builds and checks a certification path from a leaf to a
// trust anchor.
package chain

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/pebble-pki/signature"
	"github.com/letsencrypt/pebble-pki/x509"
)

// DefaultMaxDepth bounds a path, anchor included, when Validator.MaxDepth
// is zero.
const DefaultMaxDepth = 8

var errDeprecated = errors.New("deprecated signature algorithm")

// Validator holds everything a path is checked against. The zero value
// trusts nothing.
type Validator struct {
	Roots *Pool
	// CRLs are consulted for every certificate whose issuer signed one of
	// them. A CRL whose signature does not verify is ignored.
	CRLs []*x509.CertificateList
	// MaxDepth is the longest path accepted, counting the leaf and the
	// trust anchor.
	MaxDepth         int
	Clock            clock.Clock
	RejectDeprecated bool
}

func (v *Validator) now() time.Time {
	if v.Clock == nil {
		return clock.New().Now()
	}
	return v.Clock.Now()
}

func (v *Validator) maxDepth() int {
	if v.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return v.MaxDepth
}

// Validate walks from leaf to a trust anchor, choosing issuers among the
// roots and then the intermediates by subject name. It returns the path,
// leaf first and anchor last.
//
// For each certificate and its issuer it checks the signature, the
// validity period, that a non-anchor issuer is a CA allowed to sign
// certificates, every pathLenConstraint above it, and revocation. Any
// certificate with a critical extension that has no registered decoder
// is rejected.
func (v *Validator) Validate(leaf *x509.Certificate, intermediates []*x509.Certificate) ([]*x509.Certificate, error) {
	now := v.now()
	pool := NewPool(intermediates...)
	path := []*x509.Certificate{leaf}
	visited := map[string]bool{string(encoding(leaf)): true}

	cur := leaf
	for {
		depth := len(path) - 1
		if err := checkExtensions(cur, depth); err != nil {
			return nil, err
		}
		if err := checkTime(cur, depth, now); err != nil {
			return nil, err
		}
		if v.Roots.Contains(cur) {
			return path, nil
		}
		if len(path) >= v.maxDepth() {
			return nil, newError(CodePathLengthExceeded, depth, cur,
				fmt.Sprintf("no trust anchor within %d certificates", v.maxDepth()))
		}

		parent, err := v.findIssuer(cur, depth, pool, visited)
		if err != nil {
			return nil, err
		}
		anchor := v.Roots.Contains(parent)
		if !anchor {
			if err := checkCA(parent, depth+1); err != nil {
				return nil, err
			}
		}
		if err := checkPathLen(parent, path, depth+1); err != nil {
			return nil, err
		}
		if err := v.checkRevoked(cur, parent, depth); err != nil {
			return nil, err
		}

		visited[string(encoding(parent))] = true
		path = append(path, parent)
		cur = parent
	}
}

// findIssuer prefers roots over intermediates and, among candidates with
// the right subject, those whose key identifier matches.
func (v *Validator) findIssuer(cur *x509.Certificate, depth int, pool *Pool, visited map[string]bool) (*x509.Certificate, error) {
	var candidates []*x509.Certificate
	candidates = append(candidates, v.Roots.bySubject(cur.Issuer())...)
	candidates = append(candidates, pool.bySubject(cur.Issuer())...)

	aki := cur.AuthorityKeyID()
	var preferred, rest []*x509.Certificate
	for _, c := range candidates {
		if visited[string(encoding(c))] {
			continue
		}
		if aki != nil && bytes.Equal(aki, c.SubjectKeyID()) {
			preferred = append(preferred, c)
		} else {
			rest = append(rest, c)
		}
	}
	candidates = append(preferred, rest...)
	if len(candidates) == 0 {
		return nil, newError(CodeUnknownIssuer, depth, cur, "no certificate for issuer "+cur.Issuer().String())
	}

	var lastErr error
	for _, c := range candidates {
		if lastErr = v.checkSignature(cur, c); lastErr == nil {
			return c, nil
		}
	}
	e := newError(CodeSignatureMismatch, depth, cur, "")
	e.Cause = lastErr
	return nil, e
}

func (v *Validator) checkSignature(child, parent *x509.Certificate) error {
	if v.RejectDeprecated {
		alg, err := signature.Lookup(child.SignatureAlgorithm)
		if err != nil {
			return err
		}
		if alg.Deprecated {
			return fmt.Errorf("%w: %s", errDeprecated, alg)
		}
	}
	pub, err := parent.PublicKey()
	if err != nil {
		return err
	}
	return signature.VerifyCertificate(child, pub)
}

func checkExtensions(c *x509.Certificate, depth int) error {
	for _, ext := range c.TBS.Extensions {
		if !ext.Critical {
			continue
		}
		if !x509.Registered(ext.ID) {
			return newError(CodeUnsupportedCriticalExtension, depth, c, ext.ID.String())
		}
		if _, err := ext.Decode(); err != nil {
			e := newError(CodeUnsupportedCriticalExtension, depth, c, ext.ID.String())
			e.Cause = err
			return e
		}
	}
	return nil
}

func checkTime(c *x509.Certificate, depth int, now time.Time) error {
	switch {
	case now.Before(c.TBS.Validity.NotBefore):
		return newError(CodeNotYetValid, depth, c, "valid from "+c.TBS.Validity.NotBefore.Format(time.RFC3339))
	case now.After(c.TBS.Validity.NotAfter):
		return newError(CodeExpired, depth, c, "expired at "+c.TBS.Validity.NotAfter.Format(time.RFC3339))
	}
	return nil
}

func checkCA(c *x509.Certificate, depth int) error {
	bc, ok, err := c.BasicConstraints()
	if err != nil || !ok || !bc.IsCA {
		e := newError(CodeNotACA, depth, c, "basicConstraints does not assert cA")
		e.Cause = err
		return e
	}
	ku, ok, err := c.KeyUsage()
	if err != nil {
		e := newError(CodeNotACA, depth, c, "")
		e.Cause = err
		return e
	}
	if ok && !ku.Has(x509.KeyUsageCertSign) {
		return newError(CodeNotACA, depth, c, "keyUsage lacks keyCertSign")
	}
	return nil
}

// checkPathLen counts the non-self-issued intermediates between parent and
// the leaf, which is what pathLenConstraint limits.
func checkPathLen(parent *x509.Certificate, below []*x509.Certificate, depth int) error {
	bc, ok, err := parent.BasicConstraints()
	if err != nil || !ok {
		return nil
	}
	limit, set := bc.PathLen()
	if !set {
		return nil
	}
	n := 0
	for _, c := range below[1:] {
		if !c.SelfIssued() {
			n++
		}
	}
	if n > limit {
		return newError(CodePathLengthExceeded, depth, parent,
			fmt.Sprintf("%d intermediates below a pathLenConstraint of %d", n, limit))
	}
	return nil
}

func (v *Validator) checkRevoked(c, issuer *x509.Certificate, depth int) error {
	if len(v.CRLs) == 0 {
		return nil
	}
	pub, err := issuer.PublicKey()
	if err != nil {
		return nil
	}
	for _, crl := range v.CRLs {
		if !crl.TBS.Issuer.Equal(issuer.Subject()) {
			continue
		}
		if signature.VerifyCRL(crl, pub) != nil {
			continue
		}
		entry, found := crl.Lookup(c.SerialNumber())
		if !found {
			continue
		}
		if reason, ok := entry.Reason(); ok && reason == x509.ReasonRemoveFromCRL {
			continue
		}
		return newError(CodeRevoked, depth, c,
			"serial "+c.SerialNumber().Text(16)+" revoked at "+entry.RevocationDate.Format(time.RFC3339))
	}
	return nil
}

func newError(code Code, depth int, c *x509.Certificate, msg string) *Error {
	return &Error{
		Code:    code,
		Depth:   depth,
		Subject: c.Subject().String(),
		Serial:  c.SerialNumber(),
		Message: msg,
	}
}
