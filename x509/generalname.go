package x509

import (
	"net"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/der"
	"github.com/letsencrypt/pebble-pki/schema"
)

// GeneralNameKind is the context tag number of a GeneralName choice.
type GeneralNameKind uint32

const (
	OtherName GeneralNameKind = iota
	RFC822Name
	DNSName
	X400Address
	DirectoryName
	EDIPartyName
	URIName
	IPAddressName
	RegisteredIDName
)

// GeneralName is one alternative of the GeneralName CHOICE. Text holds
// rfc822Name, dNSName and uniformResourceIdentifier. The otherName,
// x400Address and ediPartyName forms are kept undecoded in Raw.
type GeneralName struct {
	Kind      GeneralNameKind
	Text      string
	IP        net.IP
	Directory Name
	ID        asn1.ObjectIdentifier
	Raw       asn1.Value
}

func DNS(name string) GeneralName { return GeneralName{Kind: DNSName, Text: name} }
func Email(addr string) GeneralName { return GeneralName{Kind: RFC822Name, Text: addr} }
func URI(uri string) GeneralName { return GeneralName{Kind: URIName, Text: uri} }
func Directory(n Name) GeneralName { return GeneralName{Kind: DirectoryName, Directory: n} }
func RegisteredID(oid asn1.ObjectIdentifier) GeneralName {
	return GeneralName{Kind: RegisteredIDName, ID: oid}
}

// IP uses the four byte form for IPv4 addresses.
func IP(ip net.IP) GeneralName {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return GeneralName{Kind: IPAddressName, IP: ip}
}

var generalNameCodec = schema.Codec[GeneralName]{
	Encode: func(g GeneralName) (asn1.Value, error) {
		n := uint32(g.Kind)
		switch g.Kind {
		case RFC822Name, DNSName, URIName:
			return asn1.ContextImplicit(n, asn1.IA5String(g.Text)), nil
		case DirectoryName:
			v, err := nameCodec.Encode(g.Directory)
			if err != nil {
				return nil, err
			}
			return asn1.ContextExplicit(n, v), nil
		case IPAddressName:
			if len(g.IP) != net.IPv4len && len(g.IP) != net.IPv6len {
				return nil, schema.Invalid("IP address of %d bytes", len(g.IP))
			}
			return asn1.ContextImplicit(n, asn1.OctetString(g.IP)), nil
		case RegisteredIDName:
			return asn1.ContextImplicit(n, g.ID), nil
		}
		if g.Raw == nil {
			return nil, schema.Invalid("GeneralName [%d] without raw value", n)
		}
		return g.Raw, nil
	},
	Decode: func(v asn1.Value) (GeneralName, error) {
		t, ok := v.(asn1.Tagged)
		if !ok || t.Class != der.ClassContextSpecific {
			return GeneralName{}, schema.Invalid("GeneralName must be context tagged, got %s", v.Tag())
		}
		kind := GeneralNameKind(t.Tag().Number)
		g := GeneralName{Kind: kind}
		switch kind {
		case RFC822Name, DNSName, URIName:
			inner, err := t.AsImplicit(der.TagIA5String)
			if err != nil {
				return g, err
			}
			g.Text = string(inner.(asn1.IA5String))
		case DirectoryName:
			inner, err := t.AsExplicit()
			if err != nil {
				return g, err
			}
			if g.Directory, err = nameCodec.Decode(inner); err != nil {
				return g, err
			}
		case IPAddressName:
			inner, err := t.AsImplicit(der.TagOctetString)
			if err != nil {
				return g, err
			}
			ip := []byte(inner.(asn1.OctetString))
			if len(ip) != net.IPv4len && len(ip) != net.IPv6len {
				return g, schema.Invalid("IP address of %d bytes", len(ip))
			}
			g.IP = net.IP(ip)
		case RegisteredIDName:
			inner, err := t.AsImplicit(der.TagOID)
			if err != nil {
				return g, err
			}
			g.ID = inner.(asn1.ObjectIdentifier)
		case OtherName, X400Address, EDIPartyName:
			g.Raw = t
		default:
			return g, schema.Invalid("unknown GeneralName [%d]", kind)
		}
		return g, nil
	},
}

var generalNamesCodec = schema.SequenceOf(generalNameCodec)

// String renders a name the way it would appear in a log line.
func (g GeneralName) String() string {
	switch g.Kind {
	case RFC822Name:
		return "email:" + g.Text
	case DNSName:
		return "DNS:" + g.Text
	case URIName:
		return "URI:" + g.Text
	case IPAddressName:
		return "IP:" + g.IP.String()
	case DirectoryName:
		return "DirName:" + g.Directory.String()
	case RegisteredIDName:
		return "RID:" + g.ID.String()
	}
	return "othername"
}
