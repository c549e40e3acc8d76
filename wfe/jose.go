package wfe

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"gopkg.in/square/go-jose.v2"

	"github.com/letsencrypt/pebble-pki/api"
	"github.com/letsencrypt/pebble-pki/x509"
)

const maxRequestSize = 1 << 20

func algorithmForKey(key *jose.JSONWebKey) (string, error) {
	switch k := key.Key.(type) {
	case *rsa.PublicKey:
		return string(jose.RS256), nil
	case *ecdsa.PublicKey:
		switch k.Params().Name {
		case "P-256":
			return string(jose.ES256), nil
		case "P-384":
			return string(jose.ES384), nil
		case "P-521":
			return string(jose.ES512), nil
		}
	case ed25519.PublicKey:
		return string(jose.EdDSA), nil
	}
	return "", fmt.Errorf("no signature algorithms suitable for given key type: %T", key.Key)
}

// checkAlgorithm requires that the JWS header names the one algorithm we
// accept for the key's type, and that the JWK, if it names an algorithm,
// names the same one. parsedJws must have exactly one signature.
func checkAlgorithm(key *jose.JSONWebKey, parsedJws *jose.JSONWebSignature) *api.ProblemDetails {
	algorithm, err := algorithmForKey(key)
	if err != nil {
		return api.BadPublicKeyProblem(err.Error())
	}
	jwsAlgorithm := parsedJws.Signatures[0].Header.Algorithm
	if jwsAlgorithm != algorithm {
		return api.BadSignatureAlgorithmProblem(fmt.Sprintf(
			"signature type '%s' in JWS header is not supported, expected one of RS256, ES256, ES384, ES512 or EdDSA",
			jwsAlgorithm))
	}
	if key.Algorithm != "" && key.Algorithm != algorithm {
		return api.BadPublicKeyProblem(fmt.Sprintf(
			"algorithm '%s' on JWK is unacceptable", key.Algorithm))
	}
	return nil
}

// keyDigest is the padded standard base64 SHA-256 of a key's
// SubjectPublicKeyInfo.
func keyDigest(key crypto.PublicKey) (string, error) {
	switch t := key.(type) {
	case *jose.JSONWebKey:
		if t == nil {
			return "", fmt.Errorf("cannot compute digest of nil key")
		}
		return keyDigest(t.Key)
	case jose.JSONWebKey:
		return keyDigest(t.Key)
	default:
		spki, err := x509.NewSPKI(key)
		if err != nil {
			return "", err
		}
		keyDER, err := x509.MarshalSPKI(spki)
		if err != nil {
			return "", err
		}
		spkiDigest := sha256.Sum256(keyDER)
		return base64.StdEncoding.EncodeToString(spkiDigest[:]), nil
	}
}

// keyDigestEquals determines whether two public keys have the same digest.
func keyDigestEquals(j, k crypto.PublicKey) bool {
	digestJ, errJ := keyDigest(j)
	digestK, errK := keyDigest(k)
	// Keys that don't have a valid digest are never equal, so nil keys
	// are not equal.
	if errJ != nil || errK != nil {
		return false
	}
	return digestJ == digestK
}

// verifyPOST authenticates a JWS request body signed by an embedded JWK.
// The protected header must carry a nonce we issued and the URL the
// request was sent to.
func (wfe *WebFrontEndImpl) verifyPOST(request *http.Request, endpoint string) ([]byte, *jose.JSONWebKey, *api.ProblemDetails) {
	if request.Body == nil {
		return nil, nil, api.MalformedProblem("no body on POST")
	}
	bodyBytes, err := io.ReadAll(io.LimitReader(request.Body, maxRequestSize))
	if err != nil {
		return nil, nil, api.InternalErrorProblem("unable to read request body")
	}

	parsedJWS, err := jose.ParseSigned(string(bodyBytes))
	if err != nil {
		return nil, nil, api.MalformedProblem("parse error reading JWS")
	}
	if len(parsedJWS.Signatures) != 1 {
		return nil, nil, api.MalformedProblem("JWS must carry exactly one signature")
	}
	header := parsedJWS.Signatures[0].Header

	key := header.JSONWebKey
	if key == nil || !key.Valid() {
		return nil, nil, api.MalformedProblem("JWS header must embed a valid JWK")
	}
	if header.KeyID != "" {
		return nil, nil, api.MalformedProblem("JWS header must not carry both jwk and kid")
	}
	if prob := checkAlgorithm(key, parsedJWS); prob != nil {
		return nil, nil, prob
	}

	if header.Nonce == "" {
		return nil, nil, api.BadNonceProblem("JWS has no anti-replay nonce")
	}
	if !wfe.nonce.validNonce(header.Nonce) {
		return nil, nil, api.BadNonceProblem(fmt.Sprintf("JWS has an invalid anti-replay nonce: %q", header.Nonce))
	}

	headerURL, ok := header.ExtraHeaders[jose.HeaderKey("url")].(string)
	if !ok || headerURL == "" {
		return nil, nil, api.MalformedProblem("JWS header parameter 'url' required")
	}
	if expected := wfe.relativeEndpoint(request, endpoint); headerURL != expected {
		return nil, nil, api.MalformedProblem(fmt.Sprintf(
			"JWS header parameter 'url' incorrect. Expected %q, got %q", expected, headerURL))
	}

	payload, err := parsedJWS.Verify(key)
	if err != nil {
		return nil, nil, api.MalformedProblem("JWS verification error")
	}
	return payload, key, nil
}
