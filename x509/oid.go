package x509

import (
	stdasn1 "encoding/asn1"

	"github.com/cloudflare/circl/pki"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"

	"github.com/letsencrypt/pebble-pki/asn1"
)

// Attribute types used in distinguished names.
var (
	OIDCommonName         = asn1.OID(2, 5, 4, 3)
	OIDSerialNumber       = asn1.OID(2, 5, 4, 5)
	OIDCountry            = asn1.OID(2, 5, 4, 6)
	OIDLocality           = asn1.OID(2, 5, 4, 7)
	OIDProvince           = asn1.OID(2, 5, 4, 8)
	OIDStreetAddress      = asn1.OID(2, 5, 4, 9)
	OIDOrganization       = asn1.OID(2, 5, 4, 10)
	OIDOrganizationalUnit = asn1.OID(2, 5, 4, 11)
	OIDPostalCode         = asn1.OID(2, 5, 4, 17)
	OIDEmailAddress       = asn1.OID(1, 2, 840, 113549, 1, 9, 1)
	OIDDomainComponent    = asn1.OID(0, 9, 2342, 19200300, 100, 1, 25)
)

// Extensions, RFC 5280 section 4.2 and 5.2.
var (
	OIDExtensionSubjectKeyID          = asn1.OID(2, 5, 29, 14)
	OIDExtensionKeyUsage              = asn1.OID(2, 5, 29, 15)
	OIDExtensionSubjectAltName        = asn1.OID(2, 5, 29, 17)
	OIDExtensionBasicConstraints      = asn1.OID(2, 5, 29, 19)
	OIDExtensionCRLNumber             = asn1.OID(2, 5, 29, 20)
	OIDExtensionReasonCode            = asn1.OID(2, 5, 29, 21)
	OIDExtensionCRLDistributionPoints = asn1.OID(2, 5, 29, 31)
	OIDExtensionAuthorityKeyID        = asn1.OID(2, 5, 29, 35)
	OIDExtensionExtendedKeyUsage      = asn1.OID(2, 5, 29, 37)

	// OIDExtensionRequest is the PKCS #9 attribute carrying requested
	// extensions in a CSR.
	OIDExtensionRequest = asn1.OID(1, 2, 840, 113549, 1, 9, 14)
)

// Extended key usage purposes.
var (
	OIDExtKeyUsageAny             = asn1.OID(2, 5, 29, 37, 0)
	OIDExtKeyUsageServerAuth      = asn1.OID(1, 3, 6, 1, 5, 5, 7, 3, 1)
	OIDExtKeyUsageClientAuth      = asn1.OID(1, 3, 6, 1, 5, 5, 7, 3, 2)
	OIDExtKeyUsageCodeSigning     = asn1.OID(1, 3, 6, 1, 5, 5, 7, 3, 3)
	OIDExtKeyUsageEmailProtection = asn1.OID(1, 3, 6, 1, 5, 5, 7, 3, 4)
	OIDExtKeyUsageTimeStamping    = asn1.OID(1, 3, 6, 1, 5, 5, 7, 3, 8)
	OIDExtKeyUsageOCSPSigning     = asn1.OID(1, 3, 6, 1, 5, 5, 7, 3, 9)
)

// Public key algorithms and named curves.
var (
	OIDPublicKeyRSA     = asn1.OID(1, 2, 840, 113549, 1, 1, 1)
	OIDPublicKeyECDSA   = asn1.OID(1, 2, 840, 10045, 2, 1)
	OIDPublicKeyEd25519 = asn1.OID(1, 3, 101, 112)

	// ML-DSA uses one OID for both the key and the signature algorithm.
	OIDPublicKeyMLDSA44 = fromStdOID(mldsa44.Scheme().(pki.CertificateScheme).Oid())
	OIDPublicKeyMLDSA65 = fromStdOID(mldsa65.Scheme().(pki.CertificateScheme).Oid())
	OIDPublicKeyMLDSA87 = fromStdOID(mldsa87.Scheme().(pki.CertificateScheme).Oid())

	OIDNamedCurveP256 = asn1.OID(1, 2, 840, 10045, 3, 1, 7)
	OIDNamedCurveP384 = asn1.OID(1, 3, 132, 0, 34)
	OIDNamedCurveP521 = asn1.OID(1, 3, 132, 0, 35)
)

func fromStdOID(oid stdasn1.ObjectIdentifier) asn1.ObjectIdentifier {
	out := make(asn1.ObjectIdentifier, len(oid))
	for i, arc := range oid {
		out[i] = uint64(arc)
	}
	return out
}
