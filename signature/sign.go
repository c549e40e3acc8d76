package signature

import (
	"crypto"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/letsencrypt/pebble-pki/x509"
)

var (
	ErrUnsupportedKey = errors.New("signature: unsupported key")
	ErrKeyMismatch    = errors.New("signature: key does not match algorithm")
	// ErrSignerMisbehaved means a crypto.Signer returned a signature that
	// does not verify under its own public key.
	ErrSignerMisbehaved = errors.New("signature: signer returned an invalid signature")
	ErrBadSignature     = errors.New("signature: verification failed")
	// ErrAlgorithmMismatch means the identifier inside the signed part
	// differs from the outer one.
	ErrAlgorithmMismatch = errors.New("signature: inner and outer algorithm identifiers differ")
)

// Signer binds a key to an algorithm and satisfies x509.Signer.
type Signer struct {
	Key  crypto.Signer
	Alg  *Algorithm
	Rand io.Reader
}

// NewSigner returns a signer for key. A nil alg selects ForKey's default.
func NewSigner(key crypto.Signer, alg *Algorithm) (*Signer, error) {
	if alg == nil {
		var err error
		if alg, err = ForKey(key.Public()); err != nil {
			return nil, err
		}
	}
	if kt := keyTypeOf(key.Public()); kt != alg.KeyType {
		return nil, fmt.Errorf("%w: %s key for %s", ErrKeyMismatch, kt, alg.Name)
	}
	return &Signer{Key: key, Alg: alg, Rand: rand.Reader}, nil
}

func (s *Signer) Algorithm() x509.AlgorithmIdentifier { return s.Alg.Identifier() }

func (s *Signer) SignTBS(tbs []byte) ([]byte, error) {
	return s.Alg.Sign(s.Rand, s.Key, tbs)
}

// VerifyCertificate checks cert's signature under pub. The signed bytes are
// always the canonical encoding of cert.TBS, never cert.Raw.
func VerifyCertificate(cert *x509.Certificate, pub crypto.PublicKey) error {
	if !cert.SignatureAlgorithm.Equal(cert.TBS.Signature) {
		return ErrAlgorithmMismatch
	}
	tbs, err := cert.TBSBytes()
	if err != nil {
		return err
	}
	return verify(cert.SignatureAlgorithm, tbs, cert.Signature.Bytes, cert.Signature.BitLength, pub)
}

// VerifyRequest checks the self-signature of a CSR, the proof that the
// requester holds the private key.
func VerifyRequest(csr *x509.CertificationRequest) error {
	pub, err := csr.PublicKey()
	if err != nil {
		return err
	}
	tbs, err := csr.TBSBytes()
	if err != nil {
		return err
	}
	return verify(csr.SignatureAlgorithm, tbs, csr.Signature.Bytes, csr.Signature.BitLength, pub)
}

func VerifyCRL(crl *x509.CertificateList, pub crypto.PublicKey) error {
	if !crl.SignatureAlgorithm.Equal(crl.TBS.Signature) {
		return ErrAlgorithmMismatch
	}
	tbs, err := crl.TBSBytes()
	if err != nil {
		return err
	}
	return verify(crl.SignatureAlgorithm, tbs, crl.Signature.Bytes, crl.Signature.BitLength, pub)
}

func verify(ai x509.AlgorithmIdentifier, tbs, sig []byte, bitLength int, pub crypto.PublicKey) error {
	alg, err := Lookup(ai)
	if err != nil {
		return err
	}
	if bitLength != 8*len(sig) {
		return fmt.Errorf("%w: signature is not a whole number of octets", ErrBadSignature)
	}
	if keyTypeOf(pub) != alg.KeyType {
		return fmt.Errorf("%w: %s key for %s", ErrKeyMismatch, keyTypeOf(pub), alg.Name)
	}
	if !alg.Verify(tbs, sig, pub) {
		return ErrBadSignature
	}
	return nil
}
