package asn1

import (
	"bytes"
	"math/big"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/letsencrypt/pebble-pki/der"
)

// Encode returns the TLV for v.
func Encode(v Value) (der.Node, error) {
	if v == nil {
		return der.Node{}, valueError(der.Tag{}, "nil value")
	}
	return v.encode()
}

// Marshal returns the DER encoding of v.
func Marshal(v Value) ([]byte, error) {
	n, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return der.Encode(n), nil
}

// Unmarshal parses b, which must hold exactly one value.
func Unmarshal(b []byte) (Value, error) {
	n, err := der.DecodeAll(b)
	if err != nil {
		return nil, err
	}
	return Parse(n)
}

// Equal reports whether a and b have the same encoding. Values that cannot
// be encoded are never equal.
func Equal(a, b Value) bool {
	ab, err := Marshal(a)
	if err != nil {
		return false
	}
	bb, err := Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func (v Integer) encode() (der.Node, error) {
	if v.Int == nil {
		return der.Node{}, valueError(v.Tag(), "nil integer")
	}
	return der.NewPrimitive(v.Tag(), integerBytes(v.Int)), nil
}

func (v Enumerated) encode() (der.Node, error) {
	return der.NewPrimitive(v.Tag(), integerBytes(big.NewInt(int64(v)))), nil
}

// integerBytes is the minimal two's complement form of n.
func integerBytes(n *big.Int) []byte {
	switch n.Sign() {
	case 0:
		return []byte{0x00}
	case 1:
		b := n.Bytes()
		if b[0]&0x80 != 0 {
			b = append([]byte{0x00}, b...)
		}
		return b
	}
	// -n - 1, then invert every bit.
	m := new(big.Int).Neg(n)
	m.Sub(m, big.NewInt(1))
	b := m.Bytes()
	for i := range b {
		b[i] ^= 0xff
	}
	if len(b) == 0 || b[0]&0x80 == 0 {
		b = append([]byte{0xff}, b...)
	}
	return b
}

func (v Boolean) encode() (der.Node, error) {
	if v {
		return der.NewPrimitive(v.Tag(), []byte{0xff}), nil
	}
	return der.NewPrimitive(v.Tag(), []byte{0x00}), nil
}

func (v BitString) encode() (der.Node, error) {
	if v.BitLength < 0 || (v.BitLength+7)/8 != len(v.Bytes) {
		return der.Node{}, valueError(v.Tag(), "%d bits do not fit %d bytes", v.BitLength, len(v.Bytes))
	}
	unused := (8 - v.BitLength%8) % 8
	content := make([]byte, 1+len(v.Bytes))
	content[0] = byte(unused)
	copy(content[1:], v.Bytes)
	if unused > 0 {
		content[len(content)-1] &= 0xff << uint(unused)
	}
	return der.NewPrimitive(v.Tag(), content), nil
}

func (v OctetString) encode() (der.Node, error) {
	content := []byte(v)
	if content == nil {
		content = []byte{}
	}
	return der.NewPrimitive(v.Tag(), content), nil
}

func (v Null) encode() (der.Node, error) {
	return der.NewPrimitive(v.Tag(), []byte{}), nil
}

func (v UTF8String) encode() (der.Node, error) {
	if !utf8.ValidString(string(v)) {
		return der.Node{}, valueError(v.Tag(), "invalid UTF-8")
	}
	return der.NewPrimitive(v.Tag(), []byte(v)), nil
}

func (v PrintableString) encode() (der.Node, error) {
	if i := invalidPrintable([]byte(v)); i >= 0 {
		return der.Node{}, valueError(v.Tag(), "character %s not allowed", strconv.QuoteRune(rune(v[i])))
	}
	return der.NewPrimitive(v.Tag(), []byte(v)), nil
}

func (v IA5String) encode() (der.Node, error) {
	if i := invalidIA5([]byte(v)); i >= 0 {
		return der.Node{}, valueError(v.Tag(), "non-ASCII byte at %d", i)
	}
	return der.NewPrimitive(v.Tag(), []byte(v)), nil
}

func (v Sequence) encode() (der.Node, error) {
	children := make([]der.Node, 0, len(v))
	for _, e := range v {
		n, err := Encode(e)
		if err != nil {
			return der.Node{}, err
		}
		children = append(children, n)
	}
	return der.NewConstructed(v.Tag(), children...), nil
}

func (v Set) encode() (der.Node, error) {
	encoded := make([][]byte, 0, len(v.Elements))
	for _, e := range v.Elements {
		b, err := Marshal(e)
		if err != nil {
			return der.Node{}, err
		}
		encoded = append(encoded, b)
	}
	if v.Of {
		sort.SliceStable(encoded, func(i, j int) bool {
			return bytes.Compare(encoded[i], encoded[j]) < 0
		})
	}
	content := bytes.Join(encoded, nil)
	if content == nil {
		content = []byte{}
	}
	return der.Node{Tag: v.Tag(), Content: content}, nil
}

func (t Tagged) encode() (der.Node, error) {
	if t.Inner == nil {
		if t.raw != nil {
			return *t.raw, nil
		}
		return der.Node{}, valueError(t.Tag(), "empty tagged value")
	}
	if t.Class == der.ClassUniversal {
		return der.Node{}, valueError(t.Tag(), "tagged value cannot use the universal class")
	}
	inner, err := Encode(t.Inner)
	if err != nil {
		return der.Node{}, err
	}
	if t.Explicit {
		return der.NewConstructed(t.Tag(), inner), nil
	}
	inner.Tag = t.Tag()
	return inner, nil
}

func (v Raw) encode() (der.Node, error) {
	return v.Node, nil
}
