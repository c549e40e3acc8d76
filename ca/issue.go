package ca

import (
	"bytes"
	"crypto"
	"fmt"
	"math/big"
	"time"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/signature"
	"github.com/letsencrypt/pebble-pki/x509"
)

// Issue signs a certificate for the subject and key of csr.
//
// The request's self-signature is checked before anything else in it is
// read. Its requested extensions are merged with the policy's: a request
// may not mark an extension critical unless the policy allows it, may not
// ask for a CA certificate, and loses or wins conflicts according to
// policy.Precedence. Key identifiers are always computed here.
func Issue(csr *x509.CertificationRequest, caKey crypto.Signer, caCert *x509.Certificate, policy Policy) (*x509.Certificate, error) {
	if err := signature.VerifyRequest(csr); err != nil {
		return nil, &Error{Code: CodeInvalidProofOfPossession, Cause: err}
	}
	if !caCert.IsCA() {
		return nil, violation("issuer %q is not a CA", caCert.Subject())
	}
	if err := sameKey(caCert.TBS.PublicKey, caKey.Public()); err != nil {
		return nil, err
	}

	requested, err := csr.RequestedExtensions()
	if err != nil {
		return nil, &Error{Code: CodePolicyViolation, Message: "malformed extensionRequest", Cause: err}
	}
	exts, err := policy.compose(requested)
	if err != nil {
		return nil, err
	}

	subject := csr.Info.Subject
	if len(subject) == 0 {
		// RFC 5280 section 4.2.1.6: with an empty subject the SAN carries
		// the identity and must be critical.
		i := indexOf(exts, x509.OIDExtensionSubjectAltName)
		if i < 0 {
			return nil, violation("request has neither a subject nor subjectAltName")
		}
		exts[i].Critical = true
	}

	if exts, err = withExtension(exts, x509.SubjectKeyID(x509.KeyID(csr.Info.PublicKey)), false); err != nil {
		return nil, err
	}
	if exts, err = withExtension(exts, authorityKeyID(caCert), false); err != nil {
		return nil, err
	}

	tbs, err := policy.tbs(subject, caCert.Subject(), csr.Info.PublicKey, exts)
	if err != nil {
		return nil, err
	}
	if tbs.Validity.NotAfter.After(caCert.TBS.Validity.NotAfter) {
		return nil, violation("validity ends %s, after the issuer's %s",
			tbs.Validity.NotAfter.Format(time.RFC3339), caCert.TBS.Validity.NotAfter.Format(time.RFC3339))
	}
	return policy.sign(tbs, caKey)
}

// SelfSigned creates a trust anchor for key. The certificate asserts cA
// with keyCertSign and cRLSign; policy extensions replace these defaults.
func SelfSigned(key crypto.Signer, subject x509.Name, policy Policy) (*x509.Certificate, error) {
	if len(subject) == 0 {
		return nil, violation("a trust anchor needs a subject")
	}
	spki, err := x509.NewSPKI(key.Public())
	if err != nil {
		return nil, err
	}

	var exts []x509.Extension
	defaults := []x509.ExtensionValue{
		x509.BasicConstraints{IsCA: true},
		x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}
	for _, v := range defaults {
		if exts, err = withExtension(exts, v, true); err != nil {
			return nil, err
		}
	}
	for _, ext := range policy.Extensions {
		exts = replace(exts, ext)
	}
	if exts, err = withExtension(exts, x509.SubjectKeyID(x509.KeyID(spki)), false); err != nil {
		return nil, err
	}
	if bc, _, err := x509.Find[x509.BasicConstraints](exts); err != nil || !bc.IsCA {
		return nil, violation("policy removes cA from a trust anchor")
	}

	tbs, err := policy.tbs(subject, subject, spki, exts)
	if err != nil {
		return nil, err
	}
	return policy.sign(tbs, key)
}

// compose merges requested extensions into the policy's own.
func (p Policy) compose(requested []x509.Extension) ([]x509.Extension, error) {
	out := append([]x509.Extension(nil), p.Extensions...)
	for _, ext := range requested {
		if ext.Critical && !p.allowsCritical(ext.ID) {
			return nil, violation("request marks extension %s critical", ext.ID)
		}
		if computed(ext.ID) {
			continue
		}
		i := indexOf(out, ext.ID)
		if i >= 0 && p.Precedence == PolicyWins {
			continue
		}
		if err := checkRequested(ext); err != nil {
			return nil, err
		}
		if i >= 0 {
			out[i] = ext
		} else {
			out = append(out, ext)
		}
	}
	return out, nil
}

// computed extensions are derived from the keys and never taken from a
// request.
func computed(oid asn1.ObjectIdentifier) bool {
	return oid.Equal(x509.OIDExtensionSubjectKeyID) || oid.Equal(x509.OIDExtensionAuthorityKeyID)
}

func checkRequested(ext x509.Extension) error {
	v, err := ext.Decode()
	if err != nil {
		return &Error{Code: CodePolicyViolation, Message: "malformed requested extension", Cause: err}
	}
	if bc, ok := v.(x509.BasicConstraints); ok && bc.IsCA {
		return violation("request asks for a CA certificate")
	}
	return nil
}

func (p Policy) tbs(subject, issuer x509.Name, spki x509.SubjectPublicKeyInfo, exts []x509.Extension) (x509.TBSCertificate, error) {
	if p.Validity <= 0 {
		return x509.TBSCertificate{}, violation("validity %s is not positive", p.Validity)
	}
	serial, err := p.serials().NextSerial()
	if err != nil {
		return x509.TBSCertificate{}, fmt.Errorf("allocating serial: %w", err)
	}
	if serial.Sign() <= 0 || len(serial.Bytes()) > 20 {
		return x509.TBSCertificate{}, fmt.Errorf("serial source returned %s", serial)
	}
	notBefore := p.now().Add(-p.Backdate).UTC().Truncate(time.Second)
	return x509.TBSCertificate{
		Version:      x509.Version3,
		SerialNumber: new(big.Int).Set(serial),
		Issuer:       issuer,
		Validity: x509.Validity{
			NotBefore: notBefore,
			NotAfter:  notBefore.Add(p.Validity - time.Second),
		},
		Subject:    subject,
		PublicKey:  spki,
		Extensions: exts,
	}, nil
}

func (p Policy) sign(tbs x509.TBSCertificate, key crypto.Signer) (*x509.Certificate, error) {
	s, err := signature.NewSigner(key, p.Algorithm)
	if err != nil {
		return nil, err
	}
	return tbs.Sign(s)
}

func sameKey(spki x509.SubjectPublicKeyInfo, pub crypto.PublicKey) error {
	want, err := x509.MarshalSPKI(spki)
	if err != nil {
		return err
	}
	have, err := x509.NewSPKI(pub)
	if err != nil {
		return err
	}
	got, err := x509.MarshalSPKI(have)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		return fmt.Errorf("%w: CA key does not match the CA certificate", signature.ErrKeyMismatch)
	}
	return nil
}

func authorityKeyID(caCert *x509.Certificate) x509.AuthorityKeyID {
	if ski := caCert.SubjectKeyID(); len(ski) > 0 {
		return x509.AuthorityKeyID{KeyID: ski}
	}
	return x509.AuthorityKeyID{KeyID: x509.KeyID(caCert.TBS.PublicKey)}
}

func indexOf(exts []x509.Extension, oid asn1.ObjectIdentifier) int {
	for i, e := range exts {
		if e.ID.Equal(oid) {
			return i
		}
	}
	return -1
}

func replace(exts []x509.Extension, ext x509.Extension) []x509.Extension {
	if i := indexOf(exts, ext.ID); i >= 0 {
		exts[i] = ext
		return exts
	}
	return append(exts, ext)
}

func withExtension(exts []x509.Extension, v x509.ExtensionValue, critical bool) ([]x509.Extension, error) {
	ext, err := x509.NewExtension(v, critical)
	if err != nil {
		return nil, err
	}
	return replace(exts, ext), nil
}
