// Package asn1 is a typed model of the ASN.1 values that appear in PKIX
// documents, layered on the TLV framing of package der.
//
// Every Value can be re-encoded, and re-encoding a parsed Value reproduces
// the bytes it was parsed from. Parsing rejects anything that is not the one
// valid DER encoding of its value.
package asn1

import (
	"math/big"
	"time"

	"github.com/letsencrypt/pebble-pki/der"
)

// Value is one of the variants declared in this file. The set is closed.
type Value interface {
	// Tag is the identifier the value is encoded with.
	Tag() der.Tag
	encode() (der.Node, error)
}

type Integer struct {
	Int *big.Int
}

func NewInteger(v int64) Integer { return Integer{Int: big.NewInt(v)} }

type Enumerated int64

type Boolean bool

// BitString holds BitLength bits, most significant bit of Bytes[0] first.
// Unused trailing bits of the last byte are zero.
type BitString struct {
	Bytes     []byte
	BitLength int
}

// NewBitString returns a bit string covering every bit of b.
func NewBitString(b []byte) BitString {
	return BitString{Bytes: b, BitLength: 8 * len(b)}
}

// At returns bit i, or 0 when i is out of range.
func (b BitString) At(i int) int {
	if i < 0 || i >= b.BitLength {
		return 0
	}
	return int(b.Bytes[i/8]>>(7-uint(i%8))) & 1
}

type OctetString []byte

type Null struct{}

type UTF8String string

type PrintableString string

type IA5String string

type UTCTime struct {
	time.Time
}

type GeneralizedTime struct {
	time.Time
}

// Sequence keeps its elements in declared order.
type Sequence []Value

// Set holds the elements of a SET or SET OF. When Of is true the elements
// are sorted by their encodings on output, as DER requires for SET OF.
// Parsed sets have Of false and keep wire order.
type Set struct {
	Elements []Value
	Of       bool
}

// Tagged is a value carried under an APPLICATION, CONTEXT or PRIVATE tag.
//
// Whether such a tag is explicit or implicit depends on the schema, so
// Parse returns an opaque Tagged (Inner is nil) that keeps the raw node.
// AsExplicit and AsImplicit resolve it once the caller knows which form
// applies.
type Tagged struct {
	Class    der.Class
	Number   uint32
	Explicit bool
	Inner    Value

	raw *der.Node
}

// NewExplicit wraps inner in a constructed tag.
func NewExplicit(class der.Class, number uint32, inner Value) Tagged {
	return Tagged{Class: class, Number: number, Explicit: true, Inner: inner}
}

// NewImplicit replaces the identifier of inner.
func NewImplicit(class der.Class, number uint32, inner Value) Tagged {
	return Tagged{Class: class, Number: number, Inner: inner}
}

// ContextExplicit is NewExplicit for the context-specific class.
func ContextExplicit(number uint32, inner Value) Tagged {
	return NewExplicit(der.ClassContextSpecific, number, inner)
}

// ContextImplicit is NewImplicit for the context-specific class.
func ContextImplicit(number uint32, inner Value) Tagged {
	return NewImplicit(der.ClassContextSpecific, number, inner)
}

// Application wraps inner in an explicit APPLICATION tag.
func Application(number uint32, inner Value) Tagged {
	return NewExplicit(der.ClassApplication, number, inner)
}

// Opaque reports whether t came off the wire and has not been resolved.
func (t Tagged) Opaque() bool { return t.Inner == nil && t.raw != nil }

// Node returns the TLV t was parsed from, if any.
func (t Tagged) Node() (der.Node, bool) {
	if t.raw == nil {
		return der.Node{}, false
	}
	return *t.raw, true
}

// AsExplicit returns the single value nested inside an explicit tag.
func (t Tagged) AsExplicit() (Value, error) {
	if t.Inner != nil {
		if !t.Explicit {
			return nil, valueError(t.Tag(), "tag was built as implicit")
		}
		return t.Inner, nil
	}
	if t.raw == nil {
		return nil, valueError(t.Tag(), "empty tagged value")
	}
	if !t.raw.Constructed {
		return nil, encodingError(t.raw.Tag, "explicit tag must be constructed")
	}
	inner, err := der.DecodeAll(t.raw.Content)
	if err != nil {
		return nil, err
	}
	return Parse(inner)
}

// AsImplicit reinterprets the content of t as the universal type number.
func (t Tagged) AsImplicit(number uint32) (Value, error) {
	if t.Inner != nil {
		if t.Explicit {
			return nil, valueError(t.Tag(), "tag was built as explicit")
		}
		return t.Inner, nil
	}
	if t.raw == nil {
		return nil, valueError(t.Tag(), "empty tagged value")
	}
	n := *t.raw
	n.Tag = der.Universal(number, n.Constructed)
	return Parse(n)
}

// Raw preserves a TLV whose type is outside the table above, such as a
// BMPString or an ANY field the caller has not interpreted.
type Raw struct {
	Node der.Node
}

func (v Integer) Tag() der.Tag { return der.Universal(der.TagInteger, false) }
func (v Enumerated) Tag() der.Tag { return der.Universal(der.TagEnumerated, false) }
func (v Boolean) Tag() der.Tag { return der.Universal(der.TagBoolean, false) }
func (v BitString) Tag() der.Tag { return der.Universal(der.TagBitString, false) }
func (v OctetString) Tag() der.Tag { return der.Universal(der.TagOctetString, false) }
func (v Null) Tag() der.Tag { return der.Universal(der.TagNull, false) }
func (v ObjectIdentifier) Tag() der.Tag { return der.Universal(der.TagOID, false) }
func (v UTF8String) Tag() der.Tag { return der.Universal(der.TagUTF8String, false) }
func (v PrintableString) Tag() der.Tag { return der.Universal(der.TagPrintableString, false) }
func (v IA5String) Tag() der.Tag { return der.Universal(der.TagIA5String, false) }
func (v UTCTime) Tag() der.Tag { return der.Universal(der.TagUTCTime, false) }
func (v GeneralizedTime) Tag() der.Tag { return der.Universal(der.TagGeneralizedTime, false) }
func (v Sequence) Tag() der.Tag { return der.Universal(der.TagSequence, true) }
func (v Set) Tag() der.Tag { return der.Universal(der.TagSet, true) }
func (v Raw) Tag() der.Tag { return v.Node.Tag }

func (t Tagged) Tag() der.Tag {
	if t.Inner == nil && t.raw != nil {
		return t.raw.Tag
	}
	constructed := t.Explicit
	if !constructed && t.Inner != nil {
		constructed = t.Inner.Tag().Constructed
	}
	return der.Tag{Class: t.Class, Number: t.Number, Constructed: constructed}
}
