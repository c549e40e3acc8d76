package asn1

import (
	"math"
	"strconv"
	"strings"

	"github.com/letsencrypt/pebble-pki/der"
)

// ObjectIdentifier is a sequence of arcs, for example 2.5.29.19.
type ObjectIdentifier []uint64

// OID builds an identifier from its arcs.
func OID(arcs ...uint64) ObjectIdentifier { return ObjectIdentifier(arcs) }

// ParseOID parses dotted decimal notation.
func ParseOID(s string) (ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	oid := make(ObjectIdentifier, 0, len(parts))
	for _, p := range parts {
		if p == "" || (len(p) > 1 && p[0] == '0') {
			return nil, valueError(der.Universal(der.TagOID, false), "malformed arc %q in %q", p, s)
		}
		arc, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, valueError(der.Universal(der.TagOID, false), "malformed arc %q in %q", p, s)
		}
		oid = append(oid, arc)
	}
	if err := oid.validate(); err != nil {
		return nil, err
	}
	return oid, nil
}

// MustParseOID is ParseOID for package-level tables.
func MustParseOID(s string) ObjectIdentifier {
	oid, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return oid
}

func (oid ObjectIdentifier) String() string {
	var sb strings.Builder
	for i, arc := range oid {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.FormatUint(arc, 10))
	}
	return sb.String()
}

func (oid ObjectIdentifier) Equal(other ObjectIdentifier) bool {
	if len(oid) != len(other) {
		return false
	}
	for i := range oid {
		if oid[i] != other[i] {
			return false
		}
	}
	return true
}

func (oid ObjectIdentifier) validate() error {
	if len(oid) < 2 {
		return valueError(oid.Tag(), "an object identifier needs at least two arcs")
	}
	if oid[0] > 2 || (oid[0] < 2 && oid[1] > 39) {
		return valueError(oid.Tag(), "invalid leading arcs %d.%d", oid[0], oid[1])
	}
	if oid[0] == 2 && oid[1] > math.MaxUint64-80 {
		return valueError(oid.Tag(), "second arc overflows")
	}
	return nil
}

func (oid ObjectIdentifier) encode() (der.Node, error) {
	if err := oid.validate(); err != nil {
		return der.Node{}, err
	}
	content := appendBase128(nil, oid[0]*40+oid[1])
	for _, arc := range oid[2:] {
		content = appendBase128(content, arc)
	}
	return der.NewPrimitive(oid.Tag(), content), nil
}

func appendBase128(dst []byte, v uint64) []byte {
	n := 1
	for t := v >> 7; t > 0; t >>= 7 {
		n++
	}
	for i := n - 1; i >= 0; i-- {
		c := byte(v>>(7*uint(i))) & 0x7f
		if i > 0 {
			c |= 0x80
		}
		dst = append(dst, c)
	}
	return dst
}

func parseOID(n der.Node) (ObjectIdentifier, error) {
	if len(n.Content) == 0 {
		return nil, encodingError(n.Tag, "empty object identifier")
	}
	var arcs []uint64
	rest := n.Content
	for len(rest) > 0 {
		if rest[0] == 0x80 {
			return nil, encodingError(n.Tag, "arc has a leading zero group")
		}
		var v uint64
		i := 0
		for ; ; i++ {
			if i >= len(rest) {
				return nil, encodingError(n.Tag, "unterminated arc")
			}
			if v > math.MaxUint64>>7 {
				return nil, encodingError(n.Tag, "arc overflows 64 bits")
			}
			v = v<<7 | uint64(rest[i]&0x7f)
			if rest[i]&0x80 == 0 {
				break
			}
		}
		rest = rest[i+1:]
		if arcs == nil {
			switch {
			case v < 40:
				arcs = append(arcs, 0, v)
			case v < 80:
				arcs = append(arcs, 1, v-40)
			default:
				arcs = append(arcs, 2, v-80)
			}
			continue
		}
		arcs = append(arcs, v)
	}
	return ObjectIdentifier(arcs), nil
}
