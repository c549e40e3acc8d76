package core

import (
	"bytes"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/letsencrypt/pebble-pki/x509"
)

// Certificate is an issued certificate as the service stores it.
type Certificate struct {
	ID     string
	Cert   *x509.Certificate
	DER    []byte
	Issuer *Certificate
}

// SerialID is the storage key for a serial number: lowercase hex of its
// big-endian bytes.
func SerialID(serial *big.Int) string {
	return hex.EncodeToString(serial.Bytes())
}

func NewCertificate(cert *x509.Certificate, issuer *Certificate) *Certificate {
	return &Certificate{
		ID:     SerialID(cert.SerialNumber()),
		Cert:   cert,
		DER:    cert.Raw,
		Issuer: issuer,
	}
}

func (c Certificate) PEM() []byte {
	var buf bytes.Buffer

	err := pem.Encode(&buf, &pem.Block{
		Type:  "CERTIFICATE",
		Bytes: c.DER,
	})
	if err != nil {
		panic(fmt.Sprintf("Unable to encode certificate %q to PEM: %s",
			c.ID, err.Error()))
	}

	return buf.Bytes()
}

// Chain returns the PEM certificate followed by its issuers, stopping
// before the self-signed root.
func (c Certificate) Chain() []byte {
	chain := make([][]byte, 0)

	chain = append(chain, c.PEM())

	issuer := c.Issuer
	for {
		// the root has no issuer and is left out
		if issuer == nil || issuer.Issuer == nil {
			break
		}
		chain = append(chain, issuer.PEM())
		issuer = issuer.Issuer
	}

	return bytes.Join(chain, []byte{})
}

// Intermediates lists the parsed issuers above c, root excluded.
func (c Certificate) Intermediates() []*x509.Certificate {
	var out []*x509.Certificate
	for issuer := c.Issuer; issuer != nil && issuer.Issuer != nil; issuer = issuer.Issuer {
		out = append(out, issuer.Cert)
	}
	return out
}

type RevokedCertificate struct {
	Certificate *Certificate
	RevokedAt   time.Time
	Reason      x509.CRLReason
}

// Entry is the CRL entry for r. An unspecified reason is left out, as RFC
// 5280 section 5.3.1 asks.
func (r RevokedCertificate) Entry() (x509.RevokedCertificate, error) {
	entry := x509.RevokedCertificate{
		SerialNumber:   r.Certificate.Cert.SerialNumber(),
		RevocationDate: r.RevokedAt,
	}
	if r.Reason != x509.ReasonUnspecified {
		ext, err := x509.NewExtension(r.Reason, false)
		if err != nil {
			return entry, err
		}
		entry.Extensions = []x509.Extension{ext}
	}
	return entry, nil
}

// ParsePEMCertificates reads every CERTIFICATE block in data.
func ParsePEMCertificates(data []byte) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no CERTIFICATE blocks found")
	}
	return out, nil
}
