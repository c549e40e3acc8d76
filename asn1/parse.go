package asn1

import (
	"math/big"
	"unicode/utf8"

	"github.com/letsencrypt/pebble-pki/der"
)

// Parse interprets a TLV. Universal types listed in this package become
// their typed variant, other universal types become Raw, and every
// APPLICATION, CONTEXT or PRIVATE tag becomes an opaque Tagged.
func Parse(n der.Node) (Value, error) {
	if n.Class != der.ClassUniversal {
		node := n
		return Tagged{Class: n.Class, Number: n.Number, raw: &node}, nil
	}

	switch n.Number {
	case der.TagSequence, der.TagSet:
		if !n.Constructed {
			return nil, encodingError(n.Tag, "must be constructed")
		}
		children, err := n.Children()
		if err != nil {
			return nil, err
		}
		elems := make([]Value, 0, len(children))
		for _, c := range children {
			v, err := Parse(c)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		if n.Number == der.TagSet {
			return Set{Elements: elems}, nil
		}
		return Sequence(elems), nil
	case der.TagBoolean, der.TagInteger, der.TagBitString, der.TagOctetString, der.TagNull,
		der.TagOID, der.TagEnumerated, der.TagUTF8String, der.TagPrintableString,
		der.TagIA5String, der.TagUTCTime, der.TagGeneralizedTime:
		if n.Constructed {
			return nil, encodingError(n.Tag, "must be primitive")
		}
	default:
		return Raw{Node: n}, nil
	}

	switch n.Number {
	case der.TagBoolean:
		if len(n.Content) != 1 {
			return nil, encodingError(n.Tag, "boolean must be one byte")
		}
		switch n.Content[0] {
		case 0x00:
			return Boolean(false), nil
		case 0xff:
			return Boolean(true), nil
		}
		return nil, encodingError(n.Tag, "boolean byte 0x%02x is not canonical", n.Content[0])
	case der.TagInteger:
		i, err := parseBigInt(n)
		if err != nil {
			return nil, err
		}
		return Integer{Int: i}, nil
	case der.TagEnumerated:
		i, err := parseBigInt(n)
		if err != nil {
			return nil, err
		}
		if !i.IsInt64() {
			return nil, encodingError(n.Tag, "enumerated value out of range")
		}
		return Enumerated(i.Int64()), nil
	case der.TagBitString:
		return parseBitString(n)
	case der.TagOctetString:
		return OctetString(n.Content), nil
	case der.TagNull:
		if len(n.Content) != 0 {
			return nil, encodingError(n.Tag, "NULL must be empty")
		}
		return Null{}, nil
	case der.TagOID:
		return parseOID(n)
	case der.TagUTF8String:
		if !utf8.Valid(n.Content) {
			return nil, encodingError(n.Tag, "invalid UTF-8")
		}
		return UTF8String(n.Content), nil
	case der.TagPrintableString:
		if i := invalidPrintable(n.Content); i >= 0 {
			return nil, encodingError(n.Tag, "byte 0x%02x not allowed", n.Content[i])
		}
		return PrintableString(n.Content), nil
	case der.TagIA5String:
		if i := invalidIA5(n.Content); i >= 0 {
			return nil, encodingError(n.Tag, "byte 0x%02x not allowed", n.Content[i])
		}
		return IA5String(n.Content), nil
	case der.TagUTCTime:
		return parseUTCTime(n)
	default:
		return parseGeneralizedTime(n)
	}
}

func parseBigInt(n der.Node) (*big.Int, error) {
	b := n.Content
	if len(b) == 0 {
		return nil, encodingError(n.Tag, "empty integer")
	}
	if len(b) > 1 && ((b[0] == 0x00 && b[1]&0x80 == 0) || (b[0] == 0xff && b[1]&0x80 != 0)) {
		return nil, encodingError(n.Tag, "integer is not minimally encoded")
	}
	i := new(big.Int)
	if b[0]&0x80 == 0 {
		return i.SetBytes(b), nil
	}
	inv := make([]byte, len(b))
	for j := range b {
		inv[j] = ^b[j]
	}
	i.SetBytes(inv)
	i.Add(i, big.NewInt(1))
	return i.Neg(i), nil
}

func parseBitString(n der.Node) (BitString, error) {
	b := n.Content
	if len(b) == 0 {
		return BitString{}, encodingError(n.Tag, "missing unused-bits octet")
	}
	unused := int(b[0])
	if unused > 7 {
		return BitString{}, encodingError(n.Tag, "%d unused bits", unused)
	}
	if len(b) == 1 && unused != 0 {
		return BitString{}, encodingError(n.Tag, "empty bit string with %d unused bits", unused)
	}
	if unused > 0 && b[len(b)-1]&(1<<uint(unused)-1) != 0 {
		return BitString{}, encodingError(n.Tag, "padding bits are not zero")
	}
	return BitString{Bytes: b[1:], BitLength: 8*(len(b)-1) - unused}, nil
}

func invalidPrintable(b []byte) int {
	for i, c := range b {
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case c == ' ', c == '\'', c == '(', c == ')', c == '+', c == ',',
			c == '-', c == '.', c == '/', c == ':', c == '=', c == '?':
		default:
			return i
		}
	}
	return -1
}

func invalidIA5(b []byte) int {
	for i, c := range b {
		if c >= utf8.RuneSelf {
			return i
		}
	}
	return -1
}
