package signature

import (
	"crypto"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/schema"
	"github.com/letsencrypt/pebble-pki/x509"
)

var (
	oidSHA1   = asn1.OID(1, 3, 14, 3, 2, 26)
	oidSHA256 = asn1.OID(2, 16, 840, 1, 101, 3, 4, 2, 1)
	oidSHA384 = asn1.OID(2, 16, 840, 1, 101, 3, 4, 2, 2)
	oidSHA512 = asn1.OID(2, 16, 840, 1, 101, 3, 4, 2, 3)
	oidMGF1   = asn1.OID(1, 2, 840, 113549, 1, 1, 8)
)

var hashes = schema.NewTable("HashAlgorithm",
	schema.Entry[crypto.Hash]{OID: oidSHA1, Value: crypto.SHA1},
	schema.Entry[crypto.Hash]{OID: oidSHA256, Value: crypto.SHA256},
	schema.Entry[crypto.Hash]{OID: oidSHA384, Value: crypto.SHA384},
	schema.Entry[crypto.Hash]{OID: oidSHA512, Value: crypto.SHA512},
)

func hashOID(h crypto.Hash) asn1.ObjectIdentifier {
	for _, oid := range hashes.OIDs() {
		if v, _ := hashes.Lookup(oid); v == h {
			return oid
		}
	}
	return nil
}

// pssParameters is RSASSA-PSS-params from RFC 4055. Absent hash and mask
// generation identifiers mean SHA-1.
type pssParameters struct {
	Hash         x509.AlgorithmIdentifier
	MGF          x509.AlgorithmIdentifier
	SaltLength   int
	TrailerField int
}

var pssParametersRecord = &schema.Record[pssParameters]{
	Name: "RSASSA-PSS-params",
	Fields: []schema.Field[pssParameters]{
		schema.Bind("hashAlgorithm", x509.AlgorithmIdentifierCodec, func(p *pssParameters) *x509.AlgorithmIdentifier { return &p.Hash }, schema.OptionalField(), schema.Explicit(0)),
		schema.Bind("maskGenAlgorithm", x509.AlgorithmIdentifierCodec, func(p *pssParameters) *x509.AlgorithmIdentifier { return &p.MGF }, schema.OptionalField(), schema.Explicit(1)),
		schema.BindDefault("saltLength", schema.Int, func(p *pssParameters) *int { return &p.SaltLength }, 20, schema.Explicit(2)),
		schema.BindDefault("trailerField", schema.Int, func(p *pssParameters) *int { return &p.TrailerField }, 1, schema.Explicit(3)),
	},
}

// newPSS builds the adapter Go and most CAs emit: hash and MGF1 hash equal,
// salt as long as the digest.
func newPSS(h crypto.Hash) *Algorithm {
	hashID := x509.AlgorithmIdentifier{Algorithm: hashOID(h), Parameters: asn1.Null{}}
	mgfParams, err := x509.AlgorithmIdentifierCodec.Encode(hashID)
	if err != nil {
		panic(err)
	}
	params, err := pssParametersRecord.Project(&pssParameters{
		Hash:         hashID,
		MGF:          x509.AlgorithmIdentifier{Algorithm: oidMGF1, Parameters: mgfParams},
		SaltLength:   h.Size(),
		TrailerField: 1,
	})
	if err != nil {
		panic(err)
	}
	return &Algorithm{
		Name:       h.String() + "-RSAPSS",
		OID:        oidRSAPSS,
		Params:     params,
		KeyType:    RSA,
		Hash:       h,
		PSS:        true,
		SaltLength: h.Size(),
	}
}

func resolvePSS(params asn1.Value) (*Algorithm, error) {
	if params == nil {
		return nil, schema.Invalid("RSASSA-PSS requires parameters")
	}
	var p pssParameters
	if err := pssParametersRecord.Lift(params, &p); err != nil {
		return nil, err
	}
	if p.TrailerField != 1 {
		return nil, schema.Invalid("unsupported PSS trailer field %d", p.TrailerField)
	}
	hash := crypto.SHA1
	if p.Hash.Algorithm != nil {
		h, err := hashes.Resolve(p.Hash.Algorithm, params)
		if err != nil {
			return nil, err
		}
		hash = h
	}
	mgfHash := crypto.SHA1
	if p.MGF.Algorithm != nil {
		if !p.MGF.Algorithm.Equal(oidMGF1) {
			return nil, schema.Invalid("unsupported mask generation function %s", p.MGF.Algorithm)
		}
		inner, err := x509.AlgorithmIdentifierCodec.Decode(p.MGF.Parameters)
		if err != nil {
			return nil, err
		}
		if mgfHash, err = hashes.Resolve(inner.Algorithm, params); err != nil {
			return nil, err
		}
	}
	// crypto/rsa always uses the message hash for MGF1.
	if mgfHash != hash {
		return nil, schema.Invalid("MGF1 hash %s differs from message hash %s", mgfHash, hash)
	}
	if p.SaltLength < 0 {
		return nil, schema.Invalid("negative PSS salt length")
	}
	return &Algorithm{
		Name:       hash.String() + "-RSAPSS",
		OID:        oidRSAPSS,
		Params:     params,
		KeyType:    RSA,
		Hash:       hash,
		PSS:        true,
		SaltLength: p.SaltLength,
		Deprecated: hash == crypto.SHA1,
	}, nil
}
