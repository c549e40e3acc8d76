package schema

import (
	"bytes"
	"math"
	"math/big"
	"time"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/der"
)

// Codec converts between a Go value and an ASN.1 value.
type Codec[V any] struct {
	// Tags lists the identifiers the value may carry when untagged. A nil
	// list matches any element, which is how ANY fields are declared.
	Tags   []der.Tag
	Encode func(V) (asn1.Value, error)
	Decode func(asn1.Value) (V, error)
}

func universal(number uint32, constructed bool) []der.Tag {
	return []der.Tag{der.Universal(number, constructed)}
}

func mismatch(want string, got asn1.Value) error {
	return Invalid("expected %s, got %s", want, tagString(got))
}

// BigInt is INTEGER as *big.Int.
var BigInt = Codec[*big.Int]{
	Tags: universal(der.TagInteger, false),
	Encode: func(v *big.Int) (asn1.Value, error) {
		if v == nil {
			return nil, Invalid("nil INTEGER")
		}
		return asn1.Integer{Int: v}, nil
	},
	Decode: func(v asn1.Value) (*big.Int, error) {
		i, ok := v.(asn1.Integer)
		if !ok {
			return nil, mismatch("INTEGER", v)
		}
		return i.Int, nil
	},
}

// Int is INTEGER constrained to the range of int.
var Int = Codec[int]{
	Tags: universal(der.TagInteger, false),
	Encode: func(v int) (asn1.Value, error) {
		return asn1.NewInteger(int64(v)), nil
	},
	Decode: func(v asn1.Value) (int, error) {
		i, ok := v.(asn1.Integer)
		if !ok {
			return 0, mismatch("INTEGER", v)
		}
		if !i.Int.IsInt64() || i.Int.Int64() > math.MaxInt32 || i.Int.Int64() < math.MinInt32 {
			return 0, Invalid("INTEGER %s out of range", i.Int)
		}
		return int(i.Int.Int64()), nil
	},
}

var Enumerated = Codec[int]{
	Tags: universal(der.TagEnumerated, false),
	Encode: func(v int) (asn1.Value, error) {
		return asn1.Enumerated(v), nil
	},
	Decode: func(v asn1.Value) (int, error) {
		e, ok := v.(asn1.Enumerated)
		if !ok {
			return 0, mismatch("ENUMERATED", v)
		}
		return int(e), nil
	},
}

var Bool = Codec[bool]{
	Tags: universal(der.TagBoolean, false),
	Encode: func(v bool) (asn1.Value, error) {
		return asn1.Boolean(v), nil
	},
	Decode: func(v asn1.Value) (bool, error) {
		b, ok := v.(asn1.Boolean)
		if !ok {
			return false, mismatch("BOOLEAN", v)
		}
		return bool(b), nil
	},
}

var OID = Codec[asn1.ObjectIdentifier]{
	Tags: universal(der.TagOID, false),
	Encode: func(v asn1.ObjectIdentifier) (asn1.Value, error) {
		return v, nil
	},
	Decode: func(v asn1.Value) (asn1.ObjectIdentifier, error) {
		oid, ok := v.(asn1.ObjectIdentifier)
		if !ok {
			return nil, mismatch("OBJECT IDENTIFIER", v)
		}
		return oid, nil
	},
}

// Bytes is OCTET STRING.
var Bytes = Codec[[]byte]{
	Tags: universal(der.TagOctetString, false),
	Encode: func(v []byte) (asn1.Value, error) {
		return asn1.OctetString(v), nil
	},
	Decode: func(v asn1.Value) ([]byte, error) {
		o, ok := v.(asn1.OctetString)
		if !ok {
			return nil, mismatch("OCTET STRING", v)
		}
		return []byte(o), nil
	},
}

var Bits = Codec[asn1.BitString]{
	Tags: universal(der.TagBitString, false),
	Encode: func(v asn1.BitString) (asn1.Value, error) {
		return v, nil
	},
	Decode: func(v asn1.Value) (asn1.BitString, error) {
		b, ok := v.(asn1.BitString)
		if !ok {
			return asn1.BitString{}, mismatch("BIT STRING", v)
		}
		return b, nil
	},
}

// IA5 is IA5String as string.
var IA5 = Codec[string]{
	Tags: universal(der.TagIA5String, false),
	Encode: func(v string) (asn1.Value, error) {
		return asn1.IA5String(v), nil
	},
	Decode: func(v asn1.Value) (string, error) {
		s, ok := v.(asn1.IA5String)
		if !ok {
			return "", mismatch("IA5String", v)
		}
		return string(s), nil
	},
}

// Time is the PKIX Time CHOICE. Dates from 1950 through 2049 must be
// UTCTime and all others GeneralizedTime, in both directions.
var Time = Codec[time.Time]{
	Tags: []der.Tag{
		der.Universal(der.TagUTCTime, false),
		der.Universal(der.TagGeneralizedTime, false),
	},
	Encode: func(v time.Time) (asn1.Value, error) {
		if v.IsZero() {
			return nil, Invalid("zero time")
		}
		return asn1.Time(v), nil
	},
	Decode: func(v asn1.Value) (time.Time, error) {
		switch t := v.(type) {
		case asn1.UTCTime:
			return t.Time, nil
		case asn1.GeneralizedTime:
			if y := t.Year(); y >= 1950 && y < 2050 {
				return time.Time{}, Invalid("year %d must be encoded as UTCTime", y)
			}
			if t.Nanosecond() != 0 {
				return time.Time{}, Invalid("fractional seconds are not allowed")
			}
			return t.Time, nil
		}
		return time.Time{}, mismatch("Time", v)
	},
}

// Any passes values through untouched. Used for ANY DEFINED BY fields and
// for structures interpreted later.
var Any = Codec[asn1.Value]{
	Encode: func(v asn1.Value) (asn1.Value, error) {
		if v == nil {
			return nil, Invalid("nil ANY")
		}
		return v, nil
	},
	Decode: func(v asn1.Value) (asn1.Value, error) { return v, nil },
}

// Nested embeds another record as a SEQUENCE.
func Nested[R any](rec *Record[R]) Codec[R] {
	return Codec[R]{
		Tags: universal(der.TagSequence, true),
		Encode: func(r R) (asn1.Value, error) {
			return rec.Project(&r)
		},
		Decode: func(v asn1.Value) (R, error) {
			var r R
			err := rec.Lift(v, &r)
			return r, err
		},
	}
}

// Ptr adapts a codec to a pointer so that OPTIONAL structures can be nil.
func Ptr[V any](c Codec[V]) Codec[*V] {
	return Codec[*V]{
		Tags: c.Tags,
		Encode: func(v *V) (asn1.Value, error) {
			if v == nil {
				return nil, Invalid("nil value")
			}
			return c.Encode(*v)
		},
		Decode: func(v asn1.Value) (*V, error) {
			out, err := c.Decode(v)
			if err != nil {
				return nil, err
			}
			return &out, nil
		},
	}
}

// SequenceOf is SEQUENCE OF elem.
func SequenceOf[V any](elem Codec[V]) Codec[[]V] {
	return Codec[[]V]{
		Tags: universal(der.TagSequence, true),
		Encode: func(vs []V) (asn1.Value, error) {
			seq := make(asn1.Sequence, 0, len(vs))
			for _, v := range vs {
				e, err := elem.Encode(v)
				if err != nil {
					return nil, err
				}
				seq = append(seq, e)
			}
			return seq, nil
		},
		Decode: func(v asn1.Value) ([]V, error) {
			seq, ok := v.(asn1.Sequence)
			if !ok {
				return nil, mismatch("SEQUENCE OF", v)
			}
			return decodeElements(elem, seq)
		},
	}
}

// SetOf is SET OF elem. Decoding rejects elements that are not in DER
// order, since re-encoding would sort them.
func SetOf[V any](elem Codec[V]) Codec[[]V] {
	return Codec[[]V]{
		Tags: universal(der.TagSet, true),
		Encode: func(vs []V) (asn1.Value, error) {
			set := asn1.Set{Of: true, Elements: make([]asn1.Value, 0, len(vs))}
			for _, v := range vs {
				e, err := elem.Encode(v)
				if err != nil {
					return nil, err
				}
				set.Elements = append(set.Elements, e)
			}
			return set, nil
		},
		Decode: func(v asn1.Value) ([]V, error) {
			set, ok := v.(asn1.Set)
			if !ok {
				return nil, mismatch("SET OF", v)
			}
			var prev []byte
			for _, e := range set.Elements {
				b, err := asn1.Marshal(e)
				if err != nil {
					return nil, err
				}
				if prev != nil && bytes.Compare(prev, b) > 0 {
					return nil, Invalid("SET OF elements are not in DER order")
				}
				prev = b
			}
			return decodeElements(elem, set.Elements)
		},
	}
}

func decodeElements[V any](elem Codec[V], vs []asn1.Value) ([]V, error) {
	out := make([]V, 0, len(vs))
	for _, e := range vs {
		if elem.Tags != nil && !tagIn(e.Tag(), elem.Tags) {
			return nil, mismatch("element", e)
		}
		d, err := elem.Decode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func tagIn(t der.Tag, tags []der.Tag) bool {
	for _, c := range tags {
		if c.Class == t.Class && c.Number == t.Number {
			return true
		}
	}
	return false
}
