package der

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeShortForm(t *testing.T) {
	in := []byte{0x02, 0x01, 0x05, 0xff}
	n, used, err := Decode(in)
	require.NoError(t, err)
	assert.Equal(t, 3, used)
	assert.Equal(t, Universal(TagInteger, false), n.Tag)
	assert.Equal(t, []byte{0x05}, n.Content)
}

func TestDecodeLongForm(t *testing.T) {
	content := bytes.Repeat([]byte{0xab}, 300)
	in := append([]byte{0x04, 0x82, 0x01, 0x2c}, content...)
	n, used, err := Decode(in)
	require.NoError(t, err)
	assert.Equal(t, len(in), used)
	assert.Equal(t, content, n.Content)
	assert.Equal(t, in, Encode(n))
}

func TestDecodeHighTagNumber(t *testing.T) {
	// [APPLICATION 200] constructed, empty
	in := []byte{0x7f, 0x81, 0x48, 0x00}
	n, used, err := Decode(in)
	require.NoError(t, err)
	assert.Equal(t, 4, used)
	assert.Equal(t, Tag{Class: ClassApplication, Number: 200, Constructed: true}, n.Tag)
	assert.Equal(t, in, Encode(n))
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrTruncatedInput},
		{"missing length", []byte{0x30}, ErrTruncatedInput},
		{"short content", []byte{0x04, 0x03, 0x01, 0x02}, ErrTruncatedInput},
		{"truncated long length", []byte{0x04, 0x82, 0x01}, ErrTruncatedInput},
		{"indefinite", []byte{0x30, 0x80, 0x00, 0x00}, ErrInvalidLength},
		{"reserved length", []byte{0x04, 0xff}, ErrInvalidLength},
		{"long form for small length", []byte{0x04, 0x81, 0x05, 1, 2, 3, 4, 5}, ErrInvalidLength},
		{"leading zero length octet", append([]byte{0x04, 0x82, 0x00, 0x80}, make([]byte, 128)...), ErrInvalidLength},
		{"oversized length field", []byte{0x04, 0x85, 1, 0, 0, 0, 0}, ErrInvalidLength},
		{"universal zero", []byte{0x00, 0x00}, ErrInvalidTag},
		{"high form for low number", []byte{0x9f, 0x05, 0x00}, ErrInvalidTag},
		{"high form leading zero group", []byte{0x9f, 0x80, 0x40, 0x00}, ErrInvalidTag},
		{"unterminated high tag", []byte{0x9f, 0x81}, ErrTruncatedInput},
		{"tag overflow", []byte{0x9f, 0x8f, 0xff, 0xff, 0xff, 0xff, 0x7f, 0x00}, ErrInvalidTag},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Decode(tc.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestDecodeAllRejectsTrailingData(t *testing.T) {
	_, err := DecodeAll([]byte{0x05, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrInvalidLength)

	n, err := DecodeAll([]byte{0x05, 0x00})
	require.NoError(t, err)
	assert.Equal(t, TagNull, n.Number)
}

func TestEncodeMinimalLength(t *testing.T) {
	tests := []struct {
		length int
		header []byte
	}{
		{0, []byte{0x04, 0x00}},
		{127, []byte{0x04, 0x7f}},
		{128, []byte{0x04, 0x81, 0x80}},
		{255, []byte{0x04, 0x81, 0xff}},
		{256, []byte{0x04, 0x82, 0x01, 0x00}},
		{65536, []byte{0x04, 0x83, 0x01, 0x00, 0x00}},
	}
	for _, tc := range tests {
		n := NewPrimitive(Universal(TagOctetString, false), make([]byte, tc.length))
		out := Encode(n)
		assert.Equal(t, tc.header, out[:len(tc.header)], "length %d", tc.length)
		assert.Equal(t, len(out), EncodedLen(n))
	}
}

func TestChildren(t *testing.T) {
	seq := NewConstructed(Universal(TagSequence, true),
		NewPrimitive(Universal(TagInteger, false), []byte{0x01}),
		NewPrimitive(Universal(TagBoolean, false), []byte{0xff}),
	)
	assert.Equal(t, []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x01, 0x01, 0xff}, Encode(seq))

	kids, err := seq.Children()
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, TagBoolean, kids[1].Number)

	_, err = kids[0].Children()
	assert.ErrorIs(t, err, ErrInvalidTag)

	bad := Node{Tag: Universal(TagSequence, true), Content: []byte{0x02, 0x01, 0x01, 0x02, 0x05}}
	_, err = bad.Children()
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, CodeTruncatedInput, derr.Code)
	assert.Equal(t, 5, derr.Offset)
}

func TestNewConstructedEmpty(t *testing.T) {
	n := NewConstructed(Universal(TagSequence, true))
	assert.Equal(t, []byte{0x30, 0x00}, Encode(n))
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte{0x30, 0x03, 0x02, 0x01, 0x01})
	f.Add([]byte{0x7f, 0x81, 0x48, 0x00})
	f.Add([]byte{0x04, 0x81, 0x80})
	f.Fuzz(func(t *testing.T, in []byte) {
		n, used, err := Decode(in)
		if err != nil {
			return
		}
		if !bytes.Equal(Encode(n), in[:used]) {
			t.Fatalf("re-encoding %x gave %x", in[:used], Encode(n))
		}
	})
}
