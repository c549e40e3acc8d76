package main

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"

	"github.com/integrii/flaggy"
	"gopkg.in/square/go-jose.v2"

	"github.com/letsencrypt/pebble-pki/api"
	"github.com/letsencrypt/pebble-pki/cmd"
	"github.com/letsencrypt/pebble-pki/core"
	"github.com/letsencrypt/pebble-pki/signature"
	"github.com/letsencrypt/pebble-pki/x509"
)

const (
	version       = "0.0.1"
	userAgentBase = "pki-client"

	pkcs10Type = "application/pkcs10"
	joseType   = "application/jose+json"
	pemType    = "application/x-pem-file"
)

func userAgent() string {
	return fmt.Sprintf(
		"%s %s (%s; %s)",
		userAgentBase, version, runtime.GOOS, runtime.GOARCH)
}

type client struct {
	directory map[string]string
	http      *http.Client
	nonce     string
}

func newClient(server string) (*client, error) {
	c := &client{http: &http.Client{}}
	if err := c.updateDirectory(server); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *client) updateDirectory(server string) error {
	respBody, _, err := c.do(http.MethodGet, server, "", nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(respBody, &c.directory)
}

func (c *client) endpoint(resource string) (string, error) {
	u, ok := c.directory[resource]
	if !ok || u == "" {
		return "", fmt.Errorf("missing %q entry in server directory", resource)
	}
	return u, nil
}

// Nonce satisfies the JWS "NonceSource" interface
func (c *client) Nonce() (string, error) {
	if c.nonce == "" {
		nonceURL, err := c.endpoint(api.ResourceNonce)
		if err != nil {
			return "", err
		}
		if _, _, err := c.do(http.MethodHead, nonceURL, "", nil); err != nil {
			return "", err
		}
	}
	n := c.nonce
	c.nonce = ""
	if n == "" {
		return "", fmt.Errorf("did not receive a fresh nonce from %s", api.ResourceNonce)
	}
	return n, nil
}

func (c *client) do(method, url, contentType string, body []byte) ([]byte, *http.Response, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", userAgent())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if n := resp.Header.Get("Replay-Nonce"); n != "" {
		c.nonce = n
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 400 {
		return respBody, resp, fmt.Errorf("%s %s: %s: %s", method, url, resp.Status, respBody)
	}
	return respBody, resp, nil
}

func generateKey(keyType string) (crypto.Signer, error) {
	switch keyType {
	case "", "ecdsa":
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "ed25519":
		_, key, err := ed25519.GenerateKey(rand.Reader)
		return key, err
	}
	return nil, fmt.Errorf("unsupported key type %q", keyType)
}

// newRequest builds a DER PKCS #10 request for names. The first name is
// also the subject common name.
func newRequest(key crypto.Signer, names []string) ([]byte, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one name is required")
	}
	spki, err := x509.NewSPKI(key.Public())
	if err != nil {
		return nil, err
	}
	var san x509.SubjectAltName
	for _, n := range names {
		san.Names = append(san.Names, x509.DNS(n))
	}
	sanExt, err := x509.NewExtension(san, false)
	if err != nil {
		return nil, err
	}
	attr, err := x509.NewExtensionRequest([]x509.Extension{sanExt})
	if err != nil {
		return nil, err
	}
	signer, err := signature.NewSigner(key, nil)
	if err != nil {
		return nil, err
	}
	csr, err := x509.CertificationRequestInfo{
		Subject:    x509.CommonNameOnly(names[0]),
		PublicKey:  spki,
		Attributes: []x509.Attribute{attr},
	}.Sign(signer)
	if err != nil {
		return nil, err
	}
	return csr.Raw, nil
}

func (c *client) issue(key crypto.Signer, names []string) ([]byte, string, error) {
	der, err := newRequest(key, names)
	if err != nil {
		return nil, "", err
	}
	issueURL, err := c.endpoint(api.ResourceIssue)
	if err != nil {
		return nil, "", err
	}
	chain, resp, err := c.do(http.MethodPost, issueURL, pkcs10Type, der)
	if err != nil {
		return nil, "", err
	}
	return chain, resp.Header.Get("Location"), nil
}

func algorithmFor(key crypto.Signer) (jose.SignatureAlgorithm, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		if k.Curve == elliptic.P256() {
			return jose.ES256, nil
		}
	case ed25519.PrivateKey:
		return jose.EdDSA, nil
	}
	return "", fmt.Errorf("no JWS algorithm for %T", key)
}

func (c *client) revoke(key crypto.Signer, cert *x509.Certificate, reason int) error {
	revokeURL, err := c.endpoint(api.ResourceRevoke)
	if err != nil {
		return err
	}
	alg, err := algorithmFor(key)
	if err != nil {
		return err
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: alg, Key: key},
		(&jose.SignerOptions{NonceSource: c, EmbedJWK: true}).WithHeader("url", revokeURL))
	if err != nil {
		return err
	}

	req := api.RevokeRequest{Serial: core.SerialID(cert.SerialNumber())}
	if reason >= 0 {
		req.Reason = &reason
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return err
	}
	_, _, err = c.do(http.MethodPost, revokeURL, joseType, []byte(jws.FullSerialize()))
	return err
}

func (c *client) verify(chain []byte) (*api.Verification, error) {
	verifyURL, err := c.endpoint(api.ResourceVerify)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(api.VerifyRequest{Chain: string(chain), CheckRevocation: true})
	if err != nil {
		return nil, err
	}
	respBody, _, err := c.do(http.MethodPost, verifyURL, "application/json", body)
	if err != nil {
		return nil, err
	}
	var v api.Verification
	if err := json.Unmarshal(respBody, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Keys are stored as private JWKs.
func saveKey(path string, key crypto.Signer) error {
	data, err := json.Marshal(jose.JSONWebKey{Key: key})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func loadKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, err
	}
	key, ok := jwk.Key.(crypto.Signer)
	if !ok || jwk.IsPublic() {
		return nil, fmt.Errorf("%s does not hold a private key", path)
	}
	return key, nil
}

func loadLeaf(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	certs, err := core.ParsePEMCertificates(data)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

func main() {
	var (
		server   = "http://localhost:14000/dir"
		keyPath  = "key.jwk"
		certPath = "cert.pem"
		keyType  = "ecdsa"
		names    []string
		reason   = -1
	)

	flaggy.SetName("pki-client")
	flaggy.SetDescription("Requests, revokes and verifies certificates")
	flaggy.String(&server, "s", "server", "Directory address of the pki server")
	flaggy.SetVersion(version)

	issueCmd := flaggy.NewSubcommand("issue")
	issueCmd.Description = "Generate a key and request a certificate for it"
	issueCmd.StringSlice(&names, "n", "name", "DNS name to request, repeatable")
	issueCmd.String(&keyType, "t", "key-type", "ecdsa or ed25519")
	issueCmd.String(&keyPath, "k", "key", "Where to write the private key")
	issueCmd.String(&certPath, "o", "out", "Where to write the certificate chain")
	flaggy.AttachSubcommand(issueCmd, 1)

	revokeCmd := flaggy.NewSubcommand("revoke")
	revokeCmd.Description = "Revoke a certificate, authenticated by its key"
	revokeCmd.String(&keyPath, "k", "key", "Private key of the certificate")
	revokeCmd.String(&certPath, "c", "cert", "Certificate to revoke")
	revokeCmd.Int(&reason, "r", "reason", "CRL reason code")
	flaggy.AttachSubcommand(revokeCmd, 1)

	verifyCmd := flaggy.NewSubcommand("verify")
	verifyCmd.Description = "Validate a certificate chain against the server's root"
	verifyCmd.String(&certPath, "c", "cert", "Certificate chain to verify")
	flaggy.AttachSubcommand(verifyCmd, 1)

	flaggy.Parse()

	c, err := newClient(server)
	cmd.FailOnError(err, fmt.Sprintf("Failed to read directory from %q", server))

	switch {
	case issueCmd.Used:
		key, err := generateKey(keyType)
		cmd.FailOnError(err, "Generating key")
		chain, location, err := c.issue(key, names)
		cmd.FailOnError(err, "Requesting certificate")
		cmd.FailOnError(saveKey(keyPath, key), "Writing key")
		cmd.FailOnError(os.WriteFile(certPath, chain, 0o644), "Writing certificate")
		fmt.Printf("Certificate %s written to %s\n", location, certPath)
	case revokeCmd.Used:
		key, err := loadKey(keyPath)
		cmd.FailOnError(err, "Reading key")
		cert, err := loadLeaf(certPath)
		cmd.FailOnError(err, "Reading certificate")
		cmd.FailOnError(c.revoke(key, cert, reason), "Revoking certificate")
		fmt.Printf("Certificate %s revoked\n", core.SerialID(cert.SerialNumber()))
	case verifyCmd.Used:
		chain, err := os.ReadFile(certPath)
		cmd.FailOnError(err, "Reading certificate chain")
		v, err := c.verify(chain)
		cmd.FailOnError(err, "Verifying certificate chain")
		out, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(out))
	default:
		flaggy.ShowHelpAndExit("a subcommand is required")
	}
}
