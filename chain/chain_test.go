package chain

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/signature"
	"github.com/letsencrypt/pebble-pki/x509"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type node struct {
	signer *signature.Signer
	cert   *x509.Certificate
}

type template struct {
	ca        bool
	pathLen   *int
	noBC      bool
	notBefore time.Time
	notAfter  time.Time
	extra     []x509.Extension
	serial    int64
}

var nextSerial int64 = 1000

// issue creates a certificate for cn signed by parent, or self-signed when
// parent is nil.
func issue(t *testing.T, parent *node, cn string, tmpl template) *node {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	s, err := signature.NewSigner(key, nil)
	require.NoError(t, err)
	return issueWithKey(t, parent, s, cn, tmpl)
}

func issueWithKey(t *testing.T, parent *node, s *signature.Signer, cn string, tmpl template) *node {
	t.Helper()
	spki, err := x509.NewSPKI(s.Key.Public())
	require.NoError(t, err)

	if tmpl.notBefore.IsZero() {
		tmpl.notBefore = testTime.Add(-time.Hour)
	}
	if tmpl.notAfter.IsZero() {
		tmpl.notAfter = testTime.Add(24 * time.Hour)
	}
	if tmpl.serial == 0 {
		nextSerial++
		tmpl.serial = nextSerial
	}

	ski := x509.KeyID(spki)
	var exts []x509.Extension
	add := func(v x509.ExtensionValue, critical bool) {
		ext, err := x509.NewExtension(v, critical)
		require.NoError(t, err)
		exts = append(exts, ext)
	}
	add(x509.SubjectKeyID(ski), false)
	if !tmpl.noBC {
		add(x509.BasicConstraints{IsCA: tmpl.ca, MaxPathLen: tmpl.pathLen}, true)
	}
	if tmpl.ca {
		add(x509.KeyUsageCertSign|x509.KeyUsageCRLSign, true)
	} else {
		add(x509.KeyUsageDigitalSignature, true)
	}

	issuerName := x509.CommonNameOnly(cn)
	signer := s
	if parent != nil {
		issuerName = parent.cert.Subject()
		signer = parent.signer
		add(x509.AuthorityKeyID{KeyID: parent.cert.SubjectKeyID()}, false)
	}
	exts = append(exts, tmpl.extra...)

	cert, err := x509.TBSCertificate{
		Version:      x509.Version3,
		SerialNumber: big.NewInt(tmpl.serial),
		Issuer:       issuerName,
		Validity:     x509.Validity{NotBefore: tmpl.notBefore, NotAfter: tmpl.notAfter},
		Subject:      x509.CommonNameOnly(cn),
		PublicKey:    spki,
		Extensions:   exts,
	}.Sign(signer)
	require.NoError(t, err)
	return &node{signer: s, cert: cert}
}

func fakeClock() clock.FakeClock {
	fc := clock.NewFake()
	fc.Set(testTime)
	return fc
}

func subjects(path []*x509.Certificate) []string {
	return lo.Map(path, func(c *x509.Certificate, _ int) string { return c.Subject().CommonName() })
}

func TestValidateSelfSignedRoot(t *testing.T) {
	root := issue(t, nil, "Root", template{ca: true})
	v := &Validator{Roots: NewPool(root.cert), Clock: fakeClock()}

	path, err := v.Validate(root.cert, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Root"}, subjects(path))
}

func TestValidateThreeLevelChain(t *testing.T) {
	root := issue(t, nil, "Root", template{ca: true})
	inter := issue(t, root, "Intermediate", template{ca: true, pathLen: lo.ToPtr(0)})
	leaf := issue(t, inter, "leaf.example", template{})

	v := &Validator{Roots: NewPool(root.cert), Clock: fakeClock()}
	path, err := v.Validate(leaf.cert, []*x509.Certificate{inter.cert})
	require.NoError(t, err)
	assert.Equal(t, []string{"leaf.example", "Intermediate", "Root"}, subjects(path))

	_, err = v.Validate(leaf.cert, nil)
	assert.ErrorIs(t, err, ErrUnknownIssuer)
}

func TestValidateTime(t *testing.T) {
	root := issue(t, nil, "Root", template{ca: true})
	leaf := issue(t, root, "leaf", template{})
	fc := fakeClock()
	v := &Validator{Roots: NewPool(root.cert), Clock: fc}

	_, err := v.Validate(leaf.cert, nil)
	require.NoError(t, err)

	fc.Add(48 * time.Hour)
	_, err = v.Validate(leaf.cert, nil)
	var chainErr *Error
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, CodeExpired, chainErr.Code)
	assert.Equal(t, 0, chainErr.Depth)

	fc.Set(testTime.Add(-2 * time.Hour))
	_, err = v.Validate(leaf.cert, nil)
	assert.ErrorIs(t, err, ErrNotYetValid)

	// Boundaries are inclusive.
	fc.Set(leaf.cert.TBS.Validity.NotAfter)
	_, err = v.Validate(leaf.cert, nil)
	assert.NoError(t, err)
}

func TestValidateExpiredIntermediate(t *testing.T) {
	root := issue(t, nil, "Root", template{ca: true})
	inter := issue(t, root, "Intermediate", template{ca: true, notAfter: testTime.Add(-time.Minute)})
	leaf := issue(t, inter, "leaf", template{})

	v := &Validator{Roots: NewPool(root.cert), Clock: fakeClock()}
	_, err := v.Validate(leaf.cert, []*x509.Certificate{inter.cert})
	var chainErr *Error
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, CodeExpired, chainErr.Code)
	assert.Equal(t, 1, chainErr.Depth)
}

func TestValidateMaxDepth(t *testing.T) {
	root := issue(t, nil, "Root", template{ca: true})
	inters := []*x509.Certificate{}
	parent := root
	for _, cn := range []string{"I1", "I2", "I3"} {
		parent = issue(t, parent, cn, template{ca: true})
		inters = append(inters, parent.cert)
	}
	leaf := issue(t, parent, "leaf", template{})

	// leaf, I3, I2, I1, Root
	v := &Validator{Roots: NewPool(root.cert), Clock: fakeClock(), MaxDepth: 5}
	path, err := v.Validate(leaf.cert, inters)
	require.NoError(t, err)
	assert.Len(t, path, 5)

	v.MaxDepth = 4
	_, err = v.Validate(leaf.cert, inters)
	assert.ErrorIs(t, err, ErrPathLengthExceeded)
}

func TestValidateCriticalExtensions(t *testing.T) {
	root := issue(t, nil, "Root", template{ca: true})
	private := asn1.OID(1, 3, 6, 1, 4, 1, 44947, 1, 1)

	critical := issue(t, root, "critical", template{extra: []x509.Extension{{ID: private, Critical: true, Value: []byte{0x05, 0x00}}}})
	plain := issue(t, root, "plain", template{extra: []x509.Extension{{ID: private, Value: []byte{0x05, 0x00}}}})

	v := &Validator{Roots: NewPool(root.cert), Clock: fakeClock()}
	_, err := v.Validate(critical.cert, nil)
	assert.ErrorIs(t, err, ErrUnsupportedCriticalExtension)
	_, err = v.Validate(plain.cert, nil)
	assert.NoError(t, err)

	// A registered critical extension that does not decode is just as fatal.
	broken := issue(t, root, "broken", template{extra: []x509.Extension{{ID: x509.OIDExtensionExtendedKeyUsage, Critical: true, Value: []byte{0x05, 0x00}}}})
	_, err = v.Validate(broken.cert, nil)
	assert.ErrorIs(t, err, ErrUnsupportedCriticalExtension)
}

func TestValidateNotACA(t *testing.T) {
	root := issue(t, nil, "Root", template{ca: true})
	endEntity := issue(t, root, "not a ca", template{})
	leaf := issue(t, endEntity, "leaf", template{})
	v := &Validator{Roots: NewPool(root.cert), Clock: fakeClock()}

	_, err := v.Validate(leaf.cert, []*x509.Certificate{endEntity.cert})
	var chainErr *Error
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, CodeNotACA, chainErr.Code)
	assert.Equal(t, 1, chainErr.Depth)

	noBC := issue(t, root, "no constraints", template{noBC: true})
	leaf = issue(t, noBC, "leaf", template{})
	_, err = v.Validate(leaf.cert, []*x509.Certificate{noBC.cert})
	assert.ErrorIs(t, err, ErrNotACA)
}

func TestValidatePathLenConstraint(t *testing.T) {
	root := issue(t, nil, "Root", template{ca: true, pathLen: lo.ToPtr(0)})
	v := &Validator{Roots: NewPool(root.cert), Clock: fakeClock()}

	direct := issue(t, root, "direct", template{})
	_, err := v.Validate(direct.cert, nil)
	require.NoError(t, err)

	inter := issue(t, root, "Intermediate", template{ca: true})
	leaf := issue(t, inter, "leaf", template{})
	_, err = v.Validate(leaf.cert, []*x509.Certificate{inter.cert})
	var chainErr *Error
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, CodePathLengthExceeded, chainErr.Code)
	assert.Equal(t, 2, chainErr.Depth)
}

func TestValidateRevoked(t *testing.T) {
	root := issue(t, nil, "Root", template{ca: true})
	leaf := issue(t, root, "leaf", template{})
	other := issue(t, root, "other", template{})

	reason, err := x509.NewExtension(x509.ReasonKeyCompromise, false)
	require.NoError(t, err)
	crl, err := x509.TBSCertList{
		Issuer:     root.cert.Subject(),
		ThisUpdate: testTime,
		RevokedCertificates: []x509.RevokedCertificate{{
			SerialNumber:   leaf.cert.SerialNumber(),
			RevocationDate: testTime,
			Extensions:     []x509.Extension{reason},
		}},
	}.Sign(root.signer)
	require.NoError(t, err)

	v := &Validator{Roots: NewPool(root.cert), Clock: fakeClock(), CRLs: []*x509.CertificateList{crl}}
	_, err = v.Validate(leaf.cert, nil)
	assert.ErrorIs(t, err, ErrRevoked)
	_, err = v.Validate(other.cert, nil)
	assert.NoError(t, err)

	// A CRL the issuer did not sign is ignored.
	impostor := issue(t, nil, "Root", template{ca: true})
	forged, err := x509.TBSCertList{
		Issuer:              root.cert.Subject(),
		ThisUpdate:          testTime,
		RevokedCertificates: []x509.RevokedCertificate{{SerialNumber: other.cert.SerialNumber(), RevocationDate: testTime}},
	}.Sign(impostor.signer)
	require.NoError(t, err)
	v.CRLs = []*x509.CertificateList{forged}
	_, err = v.Validate(other.cert, nil)
	assert.NoError(t, err)
}

func TestValidateSignatureMismatch(t *testing.T) {
	root := issue(t, nil, "Root", template{ca: true})
	impostor := issue(t, nil, "Root", template{ca: true})
	leaf := issue(t, impostor, "leaf", template{})

	v := &Validator{Roots: NewPool(root.cert), Clock: fakeClock()}
	_, err := v.Validate(leaf.cert, nil)
	var chainErr *Error
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, CodeSignatureMismatch, chainErr.Code)
	assert.ErrorIs(t, err, signature.ErrBadSignature)
}

func TestValidateRejectDeprecated(t *testing.T) {
	root := issue(t, nil, "Root", template{ca: true})
	legacy := &signature.Signer{Key: root.signer.Key, Alg: signature.ECDSAWithSHA1, Rand: rand.Reader}
	leaf := issue(t, &node{signer: legacy, cert: root.cert}, "legacy", template{})

	v := &Validator{Roots: NewPool(root.cert), Clock: fakeClock()}
	_, err := v.Validate(leaf.cert, nil)
	require.NoError(t, err)

	v.RejectDeprecated = true
	_, err = v.Validate(leaf.cert, nil)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestValidateCycleTerminates(t *testing.T) {
	root := issue(t, nil, "Root", template{ca: true})
	aSigner := issue(t, nil, "A", template{ca: true}).signer
	bSigner := issue(t, nil, "B", template{ca: true}).signer

	// A is certified by B and B by A; neither reaches Root.
	bSelf := issueWithKey(t, nil, bSigner, "B", template{ca: true})
	aByB := issueWithKey(t, bSelf, aSigner, "A", template{ca: true})
	bByA := issueWithKey(t, aByB, bSigner, "B", template{ca: true})
	leaf := issue(t, aByB, "leaf", template{})

	v := &Validator{Roots: NewPool(root.cert), Clock: fakeClock()}
	_, err := v.Validate(leaf.cert, []*x509.Certificate{aByB.cert, bByA.cert})
	assert.ErrorIs(t, err, ErrUnknownIssuer)
}

func TestPool(t *testing.T) {
	root := issue(t, nil, "Root", template{ca: true})
	p := NewPool(root.cert, root.cert)
	assert.Equal(t, 1, p.Len())

	reparsed, err := x509.ParseCertificate(root.cert.Raw)
	require.NoError(t, err)
	assert.True(t, p.Contains(reparsed))
	assert.Len(t, p.bySubject(x509.CommonNameOnly("root")), 1)

	var nilPool *Pool
	assert.False(t, nilPool.Contains(root.cert))
	assert.Zero(t, nilPool.Len())
}
