package x509

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"math/big"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/schema"
)

// AlgorithmIdentifier names an algorithm and carries its parameters.
// Parameters is nil when the field is absent, which is different from an
// explicit NULL.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.Value
}

// Equal compares identifiers by their encodings.
func (a AlgorithmIdentifier) Equal(b AlgorithmIdentifier) bool {
	if !a.Algorithm.Equal(b.Algorithm) {
		return false
	}
	if a.Parameters == nil || b.Parameters == nil {
		return a.Parameters == nil && b.Parameters == nil
	}
	return asn1.Equal(a.Parameters, b.Parameters)
}

var algorithmIdentifierRecord = &schema.Record[AlgorithmIdentifier]{
	Name: "AlgorithmIdentifier",
	Fields: []schema.Field[AlgorithmIdentifier]{
		schema.Bind("algorithm", schema.OID, func(a *AlgorithmIdentifier) *asn1.ObjectIdentifier { return &a.Algorithm }),
		schema.Bind("parameters", schema.Any, func(a *AlgorithmIdentifier) *asn1.Value { return &a.Parameters }, schema.OptionalField()),
	},
}

// AlgorithmIdentifierCodec is exported for packages that embed an
// AlgorithmIdentifier in their own records.
var AlgorithmIdentifierCodec = schema.Nested(algorithmIdentifierRecord)

type SubjectPublicKeyInfo struct {
	Algorithm AlgorithmIdentifier
	PublicKey asn1.BitString
}

var spkiRecord = &schema.Record[SubjectPublicKeyInfo]{
	Name: "SubjectPublicKeyInfo",
	Fields: []schema.Field[SubjectPublicKeyInfo]{
		schema.Bind("algorithm", AlgorithmIdentifierCodec, func(s *SubjectPublicKeyInfo) *AlgorithmIdentifier { return &s.Algorithm }),
		schema.Bind("subjectPublicKey", schema.Bits, func(s *SubjectPublicKeyInfo) *asn1.BitString { return &s.PublicKey }),
	},
}

// MarshalSPKI returns the DER encoding of spki.
func MarshalSPKI(spki SubjectPublicKeyInfo) ([]byte, error) {
	return spkiRecord.Marshal(&spki)
}

func ParseSPKI(b []byte) (SubjectPublicKeyInfo, error) {
	var spki SubjectPublicKeyInfo
	err := spkiRecord.Unmarshal(b, &spki)
	return spki, err
}

type rsaPublicKey struct {
	N *big.Int
	E *big.Int
}

var rsaPublicKeyRecord = &schema.Record[rsaPublicKey]{
	Name: "RSAPublicKey",
	Fields: []schema.Field[rsaPublicKey]{
		schema.Bind("modulus", schema.BigInt, func(k *rsaPublicKey) **big.Int { return &k.N }),
		schema.Bind("publicExponent", schema.BigInt, func(k *rsaPublicKey) **big.Int { return &k.E }),
	},
}

type keyParser func(params asn1.Value, key []byte) (crypto.PublicKey, error)

var publicKeyAlgorithms = schema.NewTable("SubjectPublicKeyInfo",
	schema.Entry[keyParser]{OID: OIDPublicKeyRSA, Value: parseRSAKey},
	schema.Entry[keyParser]{OID: OIDPublicKeyECDSA, Value: parseECDSAKey},
	schema.Entry[keyParser]{OID: OIDPublicKeyEd25519, Value: parseEd25519Key},
	schema.Entry[keyParser]{OID: OIDPublicKeyMLDSA44, Value: mldsaParser(mldsa44.Scheme())},
	schema.Entry[keyParser]{OID: OIDPublicKeyMLDSA65, Value: mldsaParser(mldsa65.Scheme())},
	schema.Entry[keyParser]{OID: OIDPublicKeyMLDSA87, Value: mldsaParser(mldsa87.Scheme())},
)

var namedCurves = schema.NewTable("NamedCurve",
	schema.Entry[elliptic.Curve]{OID: OIDNamedCurveP256, Value: elliptic.P256()},
	schema.Entry[elliptic.Curve]{OID: OIDNamedCurveP384, Value: elliptic.P384()},
	schema.Entry[elliptic.Curve]{OID: OIDNamedCurveP521, Value: elliptic.P521()},
)

// ParsePublicKey interprets the key through the closed table of supported key
// algorithms. An unknown algorithm fails with schema.ErrUnknownAlgorithm and
// the error carries the AlgorithmIdentifier.
func (spki SubjectPublicKeyInfo) ParsePublicKey() (crypto.PublicKey, error) {
	raw, err := algorithmIdentifierRecord.Project(&spki.Algorithm)
	if err != nil {
		return nil, err
	}
	parse, err := publicKeyAlgorithms.Resolve(spki.Algorithm.Algorithm, raw)
	if err != nil {
		return nil, err
	}
	if spki.PublicKey.BitLength%8 != 0 {
		return nil, schema.Invalid("public key is not a whole number of octets")
	}
	return parse(spki.Algorithm.Parameters, spki.PublicKey.Bytes)
}

func parseRSAKey(params asn1.Value, key []byte) (crypto.PublicKey, error) {
	if _, ok := params.(asn1.Null); !ok {
		return nil, schema.Invalid("RSA key parameters must be NULL")
	}
	var k rsaPublicKey
	if err := rsaPublicKeyRecord.Unmarshal(key, &k); err != nil {
		return nil, err
	}
	if k.N.Sign() <= 0 || k.E.Sign() <= 0 || !k.E.IsInt64() || k.E.Int64() > 1<<31-1 {
		return nil, schema.Invalid("malformed RSA key")
	}
	return &rsa.PublicKey{N: k.N, E: int(k.E.Int64())}, nil
}

func parseECDSAKey(params asn1.Value, key []byte) (crypto.PublicKey, error) {
	oid, ok := params.(asn1.ObjectIdentifier)
	if !ok {
		return nil, schema.Invalid("EC key parameters must be a named curve")
	}
	curve, err := namedCurves.Resolve(oid, oid)
	if err != nil {
		return nil, err
	}
	x, y := elliptic.Unmarshal(curve, key) //nolint:staticcheck // the ecdh package has no ecdsa conversion
	if x == nil {
		return nil, schema.Invalid("EC point is not on %s", curve.Params().Name)
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func parseEd25519Key(params asn1.Value, key []byte) (crypto.PublicKey, error) {
	if params != nil {
		return nil, schema.Invalid("Ed25519 key parameters must be absent")
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, schema.Invalid("Ed25519 key is %d bytes", len(key))
	}
	return ed25519.PublicKey(key), nil
}

func mldsaParser(scheme sign.Scheme) keyParser {
	return func(params asn1.Value, key []byte) (crypto.PublicKey, error) {
		if params != nil {
			return nil, schema.Invalid("%s key parameters must be absent", scheme.Name())
		}
		pub, err := scheme.UnmarshalBinaryPublicKey(key)
		if err != nil {
			return nil, schema.Invalid("%s key: %s", scheme.Name(), err)
		}
		return pub, nil
	}
}

// NewSPKI encodes pub. Supported keys are RSA, ECDSA on P-256, P-384 and
// P-521, Ed25519 and ML-DSA.
func NewSPKI(pub crypto.PublicKey) (SubjectPublicKeyInfo, error) {
	var (
		alg AlgorithmIdentifier
		key []byte
		err error
	)
	switch k := pub.(type) {
	case *rsa.PublicKey:
		alg = AlgorithmIdentifier{Algorithm: OIDPublicKeyRSA, Parameters: asn1.Null{}}
		key, err = rsaPublicKeyRecord.Marshal(&rsaPublicKey{N: k.N, E: big.NewInt(int64(k.E))})
	case *ecdsa.PublicKey:
		var curve asn1.ObjectIdentifier
		switch k.Curve {
		case elliptic.P256():
			curve = OIDNamedCurveP256
		case elliptic.P384():
			curve = OIDNamedCurveP384
		case elliptic.P521():
			curve = OIDNamedCurveP521
		default:
			return SubjectPublicKeyInfo{}, schema.Invalid("unsupported curve %s", k.Curve.Params().Name)
		}
		alg = AlgorithmIdentifier{Algorithm: OIDPublicKeyECDSA, Parameters: curve}
		key = elliptic.Marshal(k.Curve, k.X, k.Y) //nolint:staticcheck // matches the uncompressed form the parser reads
	case ed25519.PublicKey:
		alg = AlgorithmIdentifier{Algorithm: OIDPublicKeyEd25519}
		key = []byte(k)
	case sign.PublicKey:
		oid, ok := mldsaOID(k.Scheme())
		if !ok {
			return SubjectPublicKeyInfo{}, schema.Invalid("unsupported scheme %s", k.Scheme().Name())
		}
		alg = AlgorithmIdentifier{Algorithm: oid}
		key, err = k.MarshalBinary()
	default:
		return SubjectPublicKeyInfo{}, schema.Invalid("unsupported public key type %T", pub)
	}
	if err != nil {
		return SubjectPublicKeyInfo{}, err
	}
	return SubjectPublicKeyInfo{Algorithm: alg, PublicKey: asn1.NewBitString(key)}, nil
}

func mldsaOID(s sign.Scheme) (asn1.ObjectIdentifier, bool) {
	switch s.Name() {
	case mldsa44.Scheme().Name():
		return OIDPublicKeyMLDSA44, true
	case mldsa65.Scheme().Name():
		return OIDPublicKeyMLDSA65, true
	case mldsa87.Scheme().Name():
		return OIDPublicKeyMLDSA87, true
	}
	return nil, false
}
