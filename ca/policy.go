package ca

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/imdario/mergo"
	"github.com/jmhodges/clock"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/signature"
	"github.com/letsencrypt/pebble-pki/x509"
)

// Precedence decides which side wins when a request and the policy both
// supply an extension with the same OID.
type Precedence int

const (
	PolicyWins Precedence = iota
	RequestWins
)

func (p Precedence) String() string {
	if p == RequestWins {
		return "request-wins"
	}
	return "policy-wins"
}

func ParsePrecedence(s string) (Precedence, error) {
	switch strings.ToLower(s) {
	case "", "policy-wins":
		return PolicyWins, nil
	case "request-wins":
		return RequestWins, nil
	}
	return PolicyWins, fmt.Errorf("unknown precedence %q", s)
}

// Policy is everything Issue needs besides the request and the CA.
type Policy struct {
	// Validity is the length of the validity period. NotBefore is the
	// current time less Backdate.
	Validity time.Duration
	Backdate time.Duration

	// Serials defaults to RandomSerials.
	Serials SerialSource

	// Extensions are added to every certificate issued under the policy.
	Extensions []x509.Extension
	// AllowedCritical lists the extensions a request may mark critical.
	AllowedCritical []asn1.ObjectIdentifier
	Precedence      Precedence

	// Algorithm defaults to signature.ForKey of the CA key.
	Algorithm *signature.Algorithm
	Clock     clock.Clock
}

func (p Policy) now() time.Time {
	if p.Clock == nil {
		return clock.New().Now()
	}
	return p.Clock.Now()
}

func (p Policy) serials() SerialSource {
	if p.Serials == nil {
		return RandomSerials{}
	}
	return p.Serials
}

func (p Policy) allowsCritical(oid asn1.ObjectIdentifier) bool {
	return lo.ContainsBy(p.AllowedCritical, func(o asn1.ObjectIdentifier) bool { return o.Equal(oid) })
}

// Profile is the YAML form of a Policy.
type Profile struct {
	Validity   time.Duration `yaml:"validity"`
	Backdate   time.Duration `yaml:"backdate"`
	Precedence string        `yaml:"precedence"`

	CA         bool `yaml:"ca"`
	MaxPathLen *int `yaml:"maxPathLen"`

	KeyUsage              []string `yaml:"keyUsage"`
	ExtKeyUsage           []string `yaml:"extKeyUsage"`
	CRLDistributionPoints []string `yaml:"crlDistributionPoints"`
	AllowedCritical       []string `yaml:"allowedCritical"`
	SignatureAlgorithm    string   `yaml:"signatureAlgorithm"`
}

// DefaultProfile fills whatever a loaded profile leaves unset.
var DefaultProfile = Profile{
	Validity:    90 * 24 * time.Hour,
	Backdate:    time.Hour,
	Precedence:  PolicyWins.String(),
	KeyUsage:    []string{"digitalSignature"},
	ExtKeyUsage: []string{"serverAuth", "clientAuth"},
}

type profileFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads a YAML file of the form
//
//	profiles:
//	  server:
//	    validity: 2160h
//	    extKeyUsage: [serverAuth]
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseProfiles(data)
}

func ParseProfiles(data []byte) (map[string]Profile, error) {
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	for name, p := range f.Profiles {
		if err := mergo.Merge(&p, DefaultProfile); err != nil {
			return nil, err
		}
		f.Profiles[name] = p
	}
	return f.Profiles, nil
}

var keyUsageNames = map[string]x509.KeyUsage{
	"digitalSignature":  x509.KeyUsageDigitalSignature,
	"contentCommitment": x509.KeyUsageContentCommitment,
	"keyEncipherment":   x509.KeyUsageKeyEncipherment,
	"dataEncipherment":  x509.KeyUsageDataEncipherment,
	"keyAgreement":      x509.KeyUsageKeyAgreement,
	"keyCertSign":       x509.KeyUsageCertSign,
	"cRLSign":           x509.KeyUsageCRLSign,
	"encipherOnly":      x509.KeyUsageEncipherOnly,
	"decipherOnly":      x509.KeyUsageDecipherOnly,
}

var extKeyUsageNames = map[string]asn1.ObjectIdentifier{
	"any":             x509.OIDExtKeyUsageAny,
	"serverAuth":      x509.OIDExtKeyUsageServerAuth,
	"clientAuth":      x509.OIDExtKeyUsageClientAuth,
	"codeSigning":     x509.OIDExtKeyUsageCodeSigning,
	"emailProtection": x509.OIDExtKeyUsageEmailProtection,
	"timeStamping":    x509.OIDExtKeyUsageTimeStamping,
	"OCSPSigning":     x509.OIDExtKeyUsageOCSPSigning,
}

// Policy turns the profile into the extensions it describes. A CA profile
// always gets keyCertSign and cRLSign.
func (p Profile) Policy() (Policy, error) {
	prec, err := ParsePrecedence(p.Precedence)
	if err != nil {
		return Policy{}, err
	}
	policy := Policy{
		Validity:   p.Validity,
		Backdate:   p.Backdate,
		Precedence: prec,
	}
	if p.SignatureAlgorithm != "" {
		if policy.Algorithm, err = signature.ByName(p.SignatureAlgorithm); err != nil {
			return Policy{}, err
		}
	}
	for _, s := range p.AllowedCritical {
		oid, err := asn1.ParseOID(s)
		if err != nil {
			return Policy{}, fmt.Errorf("allowedCritical: %w", err)
		}
		policy.AllowedCritical = append(policy.AllowedCritical, oid)
	}

	var exts []x509.ExtensionValue
	if p.CA {
		if p.MaxPathLen != nil && *p.MaxPathLen < 0 {
			return Policy{}, fmt.Errorf("negative maxPathLen %d", *p.MaxPathLen)
		}
		exts = append(exts, x509.BasicConstraints{IsCA: true, MaxPathLen: p.MaxPathLen})
	}

	var ku x509.KeyUsage
	for _, name := range p.KeyUsage {
		bit, ok := keyUsageNames[name]
		if !ok {
			return Policy{}, fmt.Errorf("unknown keyUsage %q", name)
		}
		ku |= bit
	}
	if p.CA {
		ku |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}
	if ku != 0 {
		exts = append(exts, ku)
	}

	if len(p.ExtKeyUsage) > 0 {
		var eku x509.ExtKeyUsage
		for _, name := range lo.Uniq(p.ExtKeyUsage) {
			oid, ok := extKeyUsageNames[name]
			if !ok {
				return Policy{}, fmt.Errorf("unknown extKeyUsage %q", name)
			}
			eku = append(eku, oid)
		}
		exts = append(exts, eku)
	}

	if len(p.CRLDistributionPoints) > 0 {
		names := lo.Map(p.CRLDistributionPoints, func(u string, _ int) x509.GeneralName { return x509.URI(u) })
		exts = append(exts, x509.CRLDistributionPoints{{Name: x509.DistributionPointName{FullName: names}}})
	}

	for _, v := range exts {
		critical := false
		switch v.(type) {
		case x509.BasicConstraints, x509.KeyUsage:
			critical = true
		}
		ext, err := x509.NewExtension(v, critical)
		if err != nil {
			return Policy{}, err
		}
		policy.Extensions = append(policy.Extensions, ext)
	}
	return policy, nil
}
