// Package der reads and writes the tag-length-value framing of the
// Distinguished Encoding Rules. It knows nothing about the meaning of the
// values it frames; see package asn1 for that.
package der

import (
	"fmt"
	"math"

	"golang.org/x/crypto/cryptobyte"
)

// Class is the two-bit tag class of an identifier octet.
type Class uint8

const (
	ClassUniversal       Class = 0
	ClassApplication     Class = 1
	ClassContextSpecific Class = 2
	ClassPrivate         Class = 3
)

func (c Class) String() string {
	switch c {
	case ClassUniversal:
		return "UNIVERSAL"
	case ClassApplication:
		return "APPLICATION"
	case ClassContextSpecific:
		return "CONTEXT"
	case ClassPrivate:
		return "PRIVATE"
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

// Universal tag numbers used by X.509.
const (
	TagBoolean         uint32 = 1
	TagInteger         uint32 = 2
	TagBitString       uint32 = 3
	TagOctetString     uint32 = 4
	TagNull            uint32 = 5
	TagOID             uint32 = 6
	TagEnumerated      uint32 = 10
	TagUTF8String      uint32 = 12
	TagSequence        uint32 = 16
	TagSet             uint32 = 17
	TagPrintableString uint32 = 19
	TagT61String       uint32 = 20
	TagIA5String       uint32 = 22
	TagUTCTime         uint32 = 23
	TagGeneralizedTime uint32 = 24
	TagBMPString       uint32 = 30
)

const (
	classShift      = 6
	constructedBit  = 0x20
	lowTagMask      = 0x1f
	highTagMarker   = 0x1f
	continuationBit = 0x80
	longLengthBit   = 0x80

	// maxLengthOctets bounds the long-form length field. Four octets is
	// enough to describe any document this package will be handed.
	maxLengthOctets = 4
)

// Tag is the decoded identifier of a node.
type Tag struct {
	Class       Class
	Number      uint32
	Constructed bool
}

func (t Tag) String() string {
	form := "primitive"
	if t.Constructed {
		form = "constructed"
	}
	return fmt.Sprintf("[%s %d %s]", t.Class, t.Number, form)
}

// Universal returns the tag of a universal type.
func Universal(number uint32, constructed bool) Tag {
	return Tag{Class: ClassUniversal, Number: number, Constructed: constructed}
}

// Context returns a context-specific tag.
func Context(number uint32, constructed bool) Tag {
	return Tag{Class: ClassContextSpecific, Number: number, Constructed: constructed}
}

// Node is a single TLV. Content always holds exactly the number of bytes
// announced by the length field. Nodes returned by Decode alias the input
// buffer.
type Node struct {
	Tag
	Content []byte
}

// NewPrimitive returns a primitive node.
func NewPrimitive(tag Tag, content []byte) Node {
	tag.Constructed = false
	return Node{Tag: tag, Content: content}
}

// NewConstructed returns a constructed node whose content is the
// concatenated encoding of children.
func NewConstructed(tag Tag, children ...Node) Node {
	tag.Constructed = true
	var content []byte
	for _, c := range children {
		content = Append(content, c)
	}
	if content == nil {
		content = []byte{}
	}
	return Node{Tag: tag, Content: content}
}

// Decode reads one node from the front of b and reports how many bytes it
// occupied. Bytes after the node are ignored.
func Decode(b []byte) (Node, int, error) {
	s := cryptobyte.String(b)
	offset := func() int { return len(b) - len(s) }

	tag, err := readTag(&s, offset)
	if err != nil {
		return Node{}, 0, err
	}
	length, err := readLength(&s, offset)
	if err != nil {
		return Node{}, 0, err
	}
	var content []byte
	if !s.ReadBytes(&content, length) {
		return Node{}, 0, newError(CodeTruncatedInput, offset(),
			"content of %s declares %d bytes, %d available", tag, length, len(s))
	}
	return Node{Tag: tag, Content: content}, offset(), nil
}

// DecodeAll reads exactly one node and fails if any bytes follow it.
func DecodeAll(b []byte) (Node, error) {
	n, used, err := Decode(b)
	if err != nil {
		return Node{}, err
	}
	if used != len(b) {
		return Node{}, newError(CodeInvalidLength, used,
			"%d trailing bytes after outer element", len(b)-used)
	}
	return n, nil
}

func readTag(s *cryptobyte.String, offset func() int) (Tag, error) {
	var first uint8
	if !s.ReadUint8(&first) {
		return Tag{}, newError(CodeTruncatedInput, offset(), "missing identifier octet")
	}
	tag := Tag{
		Class:       Class(first >> classShift),
		Constructed: first&constructedBit != 0,
		Number:      uint32(first & lowTagMask),
	}
	if tag.Number == highTagMarker {
		tag.Number = 0
		for i := 0; ; i++ {
			var c uint8
			if !s.ReadUint8(&c) {
				return Tag{}, newError(CodeTruncatedInput, offset(), "unterminated high tag number")
			}
			if i == 0 && c == continuationBit {
				return Tag{}, newError(CodeInvalidTag, offset()-1, "high tag number has leading zero group")
			}
			if tag.Number > math.MaxUint32>>7 {
				return Tag{}, newError(CodeInvalidTag, offset()-1, "tag number overflows 32 bits")
			}
			tag.Number = tag.Number<<7 | uint32(c&^continuationBit)
			if c&continuationBit == 0 {
				break
			}
		}
		if tag.Number < highTagMarker {
			return Tag{}, newError(CodeInvalidTag, offset(),
				"tag number %d must use the single-octet form", tag.Number)
		}
	}
	if tag.Class == ClassUniversal && tag.Number == 0 {
		return Tag{}, newError(CodeInvalidTag, offset(), "universal tag 0 is reserved")
	}
	return tag, nil
}

func readLength(s *cryptobyte.String, offset func() int) (int, error) {
	var first uint8
	if !s.ReadUint8(&first) {
		return 0, newError(CodeTruncatedInput, offset(), "missing length octet")
	}
	if first&longLengthBit == 0 {
		return int(first), nil
	}
	n := int(first &^ longLengthBit)
	switch {
	case n == 0:
		return 0, newError(CodeInvalidLength, offset()-1, "indefinite length is not allowed")
	case n == 0x7f:
		return 0, newError(CodeInvalidLength, offset()-1, "reserved length octet")
	case n > maxLengthOctets:
		return 0, newError(CodeInvalidLength, offset()-1, "length field of %d octets is too large", n)
	}
	var length uint64
	for i := 0; i < n; i++ {
		var c uint8
		if !s.ReadUint8(&c) {
			return 0, newError(CodeTruncatedInput, offset(), "length field truncated")
		}
		if i == 0 && c == 0 {
			return 0, newError(CodeInvalidLength, offset()-1, "long-form length has a leading zero octet")
		}
		length = length<<8 | uint64(c)
	}
	if length < longLengthBit {
		return 0, newError(CodeInvalidLength, offset(), "length %d must use the short form", length)
	}
	if length > math.MaxInt32 {
		return 0, newError(CodeInvalidLength, offset(), "length %d is not addressable", length)
	}
	return int(length), nil
}

// Encode returns the DER framing of n.
func Encode(n Node) []byte {
	return Append(nil, n)
}

// Append appends the DER framing of n to dst.
func Append(dst []byte, n Node) []byte {
	b := cryptobyte.NewBuilder(dst)
	addTag(b, n.Tag)
	addLength(b, len(n.Content))
	b.AddBytes(n.Content)
	return b.BytesOrPanic()
}

// EncodedLen is the size of the full TLV for n.
func EncodedLen(n Node) int {
	return headerLen(n.Tag, len(n.Content)) + len(n.Content)
}

func addTag(b *cryptobyte.Builder, t Tag) {
	first := uint8(t.Class) << classShift
	if t.Constructed {
		first |= constructedBit
	}
	if t.Number < highTagMarker {
		b.AddUint8(first | uint8(t.Number))
		return
	}
	b.AddUint8(first | highTagMarker)
	groups := base128Len(t.Number)
	for i := groups - 1; i >= 0; i-- {
		c := uint8(t.Number>>(7*uint(i))) & 0x7f
		if i > 0 {
			c |= continuationBit
		}
		b.AddUint8(c)
	}
}

func addLength(b *cryptobyte.Builder, length int) {
	if length < longLengthBit {
		b.AddUint8(uint8(length))
		return
	}
	n := lengthOctets(length)
	b.AddUint8(longLengthBit | uint8(n))
	for i := n - 1; i >= 0; i-- {
		b.AddUint8(uint8(length >> (8 * uint(i))))
	}
}

func headerLen(t Tag, length int) int {
	size := 1
	if t.Number >= highTagMarker {
		size += base128Len(t.Number)
	}
	size++
	if length >= longLengthBit {
		size += lengthOctets(length)
	}
	return size
}

func base128Len(v uint32) int {
	n := 1
	for v >>= 7; v > 0; v >>= 7 {
		n++
	}
	return n
}

func lengthOctets(length int) int {
	n := 0
	for ; length > 0; length >>= 8 {
		n++
	}
	return n
}

// Children splits the content of a constructed node into its elements.
func (n Node) Children() ([]Node, error) {
	if !n.Constructed {
		return nil, newError(CodeInvalidTag, 0, "%s is primitive and has no elements", n.Tag)
	}
	var children []Node
	rest := n.Content
	consumed := 0
	for len(rest) > 0 {
		c, used, err := Decode(rest)
		if err != nil {
			if e, ok := err.(*Error); ok {
				e.Offset += consumed
			}
			return nil, err
		}
		children = append(children, c)
		rest = rest[used:]
		consumed += used
	}
	return children, nil
}
