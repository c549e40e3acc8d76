// Package signature selects, produces and checks signatures over DER
// to-be-signed structures.
//
// The set of algorithms is closed. An AlgorithmIdentifier is resolved
// through a fixed table keyed by OID; RSA-PSS additionally reads its hash
// and salt length from the identifier's parameters.
package signature

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"io"

	// Registered for crypto.Hash.New.
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"

	mldsa "github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/schema"
	"github.com/letsencrypt/pebble-pki/x509"
)

// KeyType is the family of public key an algorithm works with.
type KeyType int

const (
	RSA KeyType = iota + 1
	ECDSA
	Ed25519
	MLDSA44
	MLDSA65
	MLDSA87
)

func (k KeyType) String() string {
	switch k {
	case RSA:
		return "RSA"
	case ECDSA:
		return "ECDSA"
	case Ed25519:
		return "Ed25519"
	case MLDSA44:
		return "ML-DSA-44"
	case MLDSA65:
		return "ML-DSA-65"
	case MLDSA87:
		return "ML-DSA-87"
	}
	return fmt.Sprintf("KeyType(%d)", int(k))
}

// Algorithm is one signature adapter. Hash is zero for algorithms that sign
// the message directly.
type Algorithm struct {
	Name    string
	OID     asn1.ObjectIdentifier
	Params  asn1.Value
	KeyType KeyType
	Hash    crypto.Hash

	PSS        bool
	SaltLength int

	// Deprecated algorithms still verify, but a chain validator can be
	// told to refuse them.
	Deprecated bool
}

func (a *Algorithm) String() string { return a.Name }

// Identifier is the AlgorithmIdentifier written into signed documents.
func (a *Algorithm) Identifier() x509.AlgorithmIdentifier {
	return x509.AlgorithmIdentifier{Algorithm: a.OID, Parameters: a.Params}
}

var (
	oidSHA1WithRSA     = asn1.OID(1, 2, 840, 113549, 1, 1, 5)
	oidSHA256WithRSA   = asn1.OID(1, 2, 840, 113549, 1, 1, 11)
	oidSHA384WithRSA   = asn1.OID(1, 2, 840, 113549, 1, 1, 12)
	oidSHA512WithRSA   = asn1.OID(1, 2, 840, 113549, 1, 1, 13)
	oidRSAPSS          = asn1.OID(1, 2, 840, 113549, 1, 1, 10)
	oidECDSAWithSHA1   = asn1.OID(1, 2, 840, 10045, 4, 1)
	oidECDSAWithSHA256 = asn1.OID(1, 2, 840, 10045, 4, 3, 2)
	oidECDSAWithSHA384 = asn1.OID(1, 2, 840, 10045, 4, 3, 3)
	oidECDSAWithSHA512 = asn1.OID(1, 2, 840, 10045, 4, 3, 4)
)

var (
	SHA1WithRSA   = &Algorithm{Name: "SHA1-RSA", OID: oidSHA1WithRSA, Params: asn1.Null{}, KeyType: RSA, Hash: crypto.SHA1, Deprecated: true}
	SHA256WithRSA = &Algorithm{Name: "SHA256-RSA", OID: oidSHA256WithRSA, Params: asn1.Null{}, KeyType: RSA, Hash: crypto.SHA256}
	SHA384WithRSA = &Algorithm{Name: "SHA384-RSA", OID: oidSHA384WithRSA, Params: asn1.Null{}, KeyType: RSA, Hash: crypto.SHA384}
	SHA512WithRSA = &Algorithm{Name: "SHA512-RSA", OID: oidSHA512WithRSA, Params: asn1.Null{}, KeyType: RSA, Hash: crypto.SHA512}

	SHA256WithRSAPSS = newPSS(crypto.SHA256)
	SHA384WithRSAPSS = newPSS(crypto.SHA384)
	SHA512WithRSAPSS = newPSS(crypto.SHA512)

	ECDSAWithSHA1   = &Algorithm{Name: "ECDSA-SHA1", OID: oidECDSAWithSHA1, KeyType: ECDSA, Hash: crypto.SHA1, Deprecated: true}
	ECDSAWithSHA256 = &Algorithm{Name: "ECDSA-SHA256", OID: oidECDSAWithSHA256, KeyType: ECDSA, Hash: crypto.SHA256}
	ECDSAWithSHA384 = &Algorithm{Name: "ECDSA-SHA384", OID: oidECDSAWithSHA384, KeyType: ECDSA, Hash: crypto.SHA384}
	ECDSAWithSHA512 = &Algorithm{Name: "ECDSA-SHA512", OID: oidECDSAWithSHA512, KeyType: ECDSA, Hash: crypto.SHA512}

	PureEd25519 = &Algorithm{Name: "Ed25519", OID: x509.OIDPublicKeyEd25519, KeyType: Ed25519}

	PureMLDSA44 = &Algorithm{Name: "ML-DSA-44", OID: x509.OIDPublicKeyMLDSA44, KeyType: MLDSA44}
	PureMLDSA65 = &Algorithm{Name: "ML-DSA-65", OID: x509.OIDPublicKeyMLDSA65, KeyType: MLDSA65}
	PureMLDSA87 = &Algorithm{Name: "ML-DSA-87", OID: x509.OIDPublicKeyMLDSA87, KeyType: MLDSA87}
)

// resolver turns the parameters of an identifier into an adapter.
type resolver func(params asn1.Value) (*Algorithm, error)

func fixed(a *Algorithm) resolver {
	return func(params asn1.Value) (*Algorithm, error) {
		switch {
		case params == nil && a.Params == nil:
			return a, nil
		// RFC 4055 requires NULL, but absent parameters are common enough
		// in the wild to accept on input.
		case a.KeyType == RSA && params == nil:
			return a, nil
		case params != nil && a.Params != nil && asn1.Equal(params, a.Params):
			return a, nil
		}
		return nil, schema.Invalid("bad parameters for %s", a.Name)
	}
}

var algorithms = schema.NewTable("SignatureAlgorithm",
	schema.Entry[resolver]{OID: oidSHA1WithRSA, Value: fixed(SHA1WithRSA)},
	schema.Entry[resolver]{OID: oidSHA256WithRSA, Value: fixed(SHA256WithRSA)},
	schema.Entry[resolver]{OID: oidSHA384WithRSA, Value: fixed(SHA384WithRSA)},
	schema.Entry[resolver]{OID: oidSHA512WithRSA, Value: fixed(SHA512WithRSA)},
	schema.Entry[resolver]{OID: oidRSAPSS, Value: resolvePSS},
	schema.Entry[resolver]{OID: oidECDSAWithSHA1, Value: fixed(ECDSAWithSHA1)},
	schema.Entry[resolver]{OID: oidECDSAWithSHA256, Value: fixed(ECDSAWithSHA256)},
	schema.Entry[resolver]{OID: oidECDSAWithSHA384, Value: fixed(ECDSAWithSHA384)},
	schema.Entry[resolver]{OID: oidECDSAWithSHA512, Value: fixed(ECDSAWithSHA512)},
	schema.Entry[resolver]{OID: x509.OIDPublicKeyEd25519, Value: fixed(PureEd25519)},
	schema.Entry[resolver]{OID: x509.OIDPublicKeyMLDSA44, Value: fixed(PureMLDSA44)},
	schema.Entry[resolver]{OID: x509.OIDPublicKeyMLDSA65, Value: fixed(PureMLDSA65)},
	schema.Entry[resolver]{OID: x509.OIDPublicKeyMLDSA87, Value: fixed(PureMLDSA87)},
)

// Lookup resolves an AlgorithmIdentifier. An OID outside the table fails
// with schema.ErrUnknownAlgorithm carrying the identifier.
func Lookup(ai x509.AlgorithmIdentifier) (*Algorithm, error) {
	raw, err := x509.AlgorithmIdentifierCodec.Encode(ai)
	if err != nil {
		return nil, err
	}
	resolve, err := algorithms.Resolve(ai.Algorithm, raw)
	if err != nil {
		return nil, err
	}
	return resolve(ai.Parameters)
}

// ForKey picks the default algorithm for pub: SHA-256 with RSA, the hash
// matching the curve size for ECDSA, and the pure scheme otherwise.
func ForKey(pub crypto.PublicKey) (*Algorithm, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return SHA256WithRSA, nil
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return ECDSAWithSHA256, nil
		case elliptic.P384():
			return ECDSAWithSHA384, nil
		case elliptic.P521():
			return ECDSAWithSHA512, nil
		}
		return nil, fmt.Errorf("%w: curve %s", ErrUnsupportedKey, k.Curve.Params().Name)
	case ed25519.PublicKey:
		return PureEd25519, nil
	case *mldsa44.PublicKey:
		return PureMLDSA44, nil
	case *mldsa65.PublicKey:
		return PureMLDSA65, nil
	case *mldsa87.PublicKey:
		return PureMLDSA87, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
}

var byName = map[string]*Algorithm{}

func init() {
	for _, a := range []*Algorithm{
		SHA1WithRSA, SHA256WithRSA, SHA384WithRSA, SHA512WithRSA,
		SHA256WithRSAPSS, SHA384WithRSAPSS, SHA512WithRSAPSS,
		ECDSAWithSHA1, ECDSAWithSHA256, ECDSAWithSHA384, ECDSAWithSHA512,
		PureEd25519, PureMLDSA44, PureMLDSA65, PureMLDSA87,
	} {
		byName[a.Name] = a
	}
}

// ByName finds an algorithm by its Name, as used in configuration files.
func ByName(name string) (*Algorithm, error) {
	if a, ok := byName[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("signature: unknown algorithm name %q", name)
}

func keyTypeOf(pub crypto.PublicKey) KeyType {
	switch pub.(type) {
	case *rsa.PublicKey:
		return RSA
	case *ecdsa.PublicKey:
		return ECDSA
	case ed25519.PublicKey:
		return Ed25519
	case *mldsa44.PublicKey:
		return MLDSA44
	case *mldsa65.PublicKey:
		return MLDSA65
	case *mldsa87.PublicKey:
		return MLDSA87
	}
	return 0
}

func (a *Algorithm) digest(msg []byte) []byte {
	if a.Hash == 0 {
		return msg
	}
	h := a.Hash.New()
	h.Write(msg)
	return h.Sum(nil)
}

// Sign signs tbs with key and checks the result before returning it, so a
// misbehaving crypto.Signer cannot produce an unverifiable document.
func (a *Algorithm) Sign(rand io.Reader, key crypto.Signer, tbs []byte) ([]byte, error) {
	if kt := keyTypeOf(key.Public()); kt != a.KeyType {
		return nil, fmt.Errorf("%w: %s key for %s", ErrKeyMismatch, kt, a.Name)
	}
	var opts crypto.SignerOpts = a.Hash
	if a.PSS {
		opts = &rsa.PSSOptions{SaltLength: a.SaltLength, Hash: a.Hash}
	}
	sig, err := key.Sign(rand, a.digest(tbs), opts)
	if err != nil {
		return nil, err
	}
	if !a.Verify(tbs, sig, key.Public()) {
		return nil, ErrSignerMisbehaved
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature of tbs under pub.
func (a *Algorithm) Verify(tbs, sig []byte, pub crypto.PublicKey) bool {
	if keyTypeOf(pub) != a.KeyType {
		return false
	}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if a.PSS {
			return rsa.VerifyPSS(k, a.Hash, a.digest(tbs), sig, &rsa.PSSOptions{SaltLength: a.SaltLength}) == nil
		}
		return rsa.VerifyPKCS1v15(k, a.Hash, a.digest(tbs), sig) == nil
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(k, a.digest(tbs), sig)
	case ed25519.PublicKey:
		return ed25519.Verify(k, tbs, sig)
	case mldsa.PublicKey:
		return k.Scheme().Verify(k, tbs, sig, nil)
	}
	return false
}
