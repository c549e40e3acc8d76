package asn1

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	stdx509 "crypto/x509"
	"crypto/x509/pkix"
	stdasn1 "encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsencrypt/pebble-pki/der"
)

func TestIntegerMatchesEncodingASN1(t *testing.T) {
	values := []string{"0", "1", "127", "128", "255", "256", "-1", "-128", "-129", "-256",
		"123456789012345678901234567890", "-123456789012345678901234567890"}
	for _, s := range values {
		n, ok := new(big.Int).SetString(s, 10)
		require.True(t, ok)

		want, err := stdasn1.Marshal(n)
		require.NoError(t, err)
		got, err := Marshal(Integer{Int: n})
		require.NoError(t, err)
		assert.Equal(t, want, got, s)

		v, err := Unmarshal(got)
		require.NoError(t, err)
		assert.Equal(t, 0, n.Cmp(v.(Integer).Int), s)
	}
}

func TestIntegerRejectsNonMinimal(t *testing.T) {
	for _, in := range [][]byte{
		{0x02, 0x02, 0x00, 0x01},
		{0x02, 0x02, 0xff, 0x80},
		{0x02, 0x00},
	} {
		_, err := Unmarshal(in)
		assert.ErrorIs(t, err, ErrInvalidEncoding, "%x", in)
	}
	// The minimal forms of the same magnitudes decode.
	v, err := Unmarshal([]byte{0x02, 0x01, 0x01})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.(Integer).Int.Int64())
	v, err = Unmarshal([]byte{0x02, 0x01, 0x80})
	require.NoError(t, err)
	assert.Equal(t, int64(-128), v.(Integer).Int.Int64())
}

func TestBoolean(t *testing.T) {
	v, err := Unmarshal([]byte{0x01, 0x01, 0xff})
	require.NoError(t, err)
	assert.Equal(t, Boolean(true), v)

	_, err = Unmarshal([]byte{0x01, 0x01, 0x01})
	assert.ErrorIs(t, err, ErrInvalidEncoding)
	_, err = Unmarshal([]byte{0x01, 0x02, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestBitString(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		ok   bool
		bits int
	}{
		{"empty", []byte{0x03, 0x01, 0x00}, true, 0},
		{"empty with unused", []byte{0x03, 0x01, 0x03}, false, 0},
		{"missing prefix", []byte{0x03, 0x00}, false, 0},
		{"eight unused", []byte{0x03, 0x02, 0x08, 0x00}, false, 0},
		{"nine bits", []byte{0x03, 0x03, 0x07, 0xff, 0x80}, true, 9},
		{"dirty padding", []byte{0x03, 0x02, 0x01, 0x01}, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, err := Unmarshal(tc.in)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrInvalidEncoding)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.bits, v.(BitString).BitLength)
			out, err := Marshal(v)
			require.NoError(t, err)
			assert.Equal(t, tc.in, out)
		})
	}

	bs := BitString{Bytes: []byte{0xa0}, BitLength: 3}
	assert.Equal(t, 1, bs.At(0))
	assert.Equal(t, 0, bs.At(1))
	assert.Equal(t, 1, bs.At(2))
	assert.Equal(t, 0, bs.At(5))
}

func TestObjectIdentifier(t *testing.T) {
	for _, s := range []string{"2.5.29.19", "1.2.840.113549.1.1.11", "2.999.3", "0.39", "1.3.6.1.4.1.311.60.2.1.3"} {
		oid, err := ParseOID(s)
		require.NoError(t, err)
		assert.Equal(t, s, oid.String())

		std := make(stdasn1.ObjectIdentifier, len(oid))
		for i, a := range oid {
			std[i] = int(a)
		}
		want, err := stdasn1.Marshal(std)
		require.NoError(t, err)
		got, err := Marshal(oid)
		require.NoError(t, err)
		assert.Equal(t, want, got, s)

		back, err := Unmarshal(got)
		require.NoError(t, err)
		assert.True(t, oid.Equal(back.(ObjectIdentifier)))
	}

	for _, s := range []string{"1", "3.1", "1.40", "1..2", "1.02", "a.b"} {
		_, err := ParseOID(s)
		assert.ErrorIs(t, err, ErrInvalidValue, s)
	}

	_, err := Unmarshal([]byte{0x06, 0x02, 0x80, 0x01})
	assert.ErrorIs(t, err, ErrInvalidEncoding)
	_, err = Unmarshal([]byte{0x06, 0x01, 0x81})
	assert.ErrorIs(t, err, ErrInvalidEncoding)
	_, err = Unmarshal([]byte{0x06, 0x00})
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestStrings(t *testing.T) {
	_, err := Marshal(PrintableString("a@b"))
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = Unmarshal([]byte{0x13, 0x01, '*'})
	assert.ErrorIs(t, err, ErrInvalidEncoding)
	_, err = Unmarshal([]byte{0x16, 0x01, 0xc3})
	assert.ErrorIs(t, err, ErrInvalidEncoding)
	_, err = Unmarshal([]byte{0x0c, 0x01, 0xc3})
	assert.ErrorIs(t, err, ErrInvalidEncoding)

	v, err := Unmarshal([]byte{0x0c, 0x02, 0xc3, 0xa9})
	require.NoError(t, err)
	assert.Equal(t, UTF8String("é"), v)
}

func TestTimes(t *testing.T) {
	utc := time.Date(2024, 2, 29, 12, 30, 45, 0, time.UTC)
	v := Time(utc)
	require.IsType(t, UTCTime{}, v)
	b, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "240229123045Z", string(b[2:]))

	far := time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC)
	require.IsType(t, GeneralizedTime{}, Time(far))
	old := time.Date(1949, 12, 31, 23, 59, 59, 0, time.UTC)
	require.IsType(t, GeneralizedTime{}, Time(old))

	parsed, err := Unmarshal([]byte("\x17\x0d500101000000Z"))
	require.NoError(t, err)
	assert.Equal(t, 1950, parsed.(UTCTime).Year())
	parsed, err = Unmarshal([]byte("\x17\x0d491231235959Z"))
	require.NoError(t, err)
	assert.Equal(t, 2049, parsed.(UTCTime).Year())

	gt, err := Unmarshal([]byte("\x18\x1120240101120000.5Z"))
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, time.Duration(gt.(GeneralizedTime).Nanosecond()))

	for _, bad := range []string{
		"\x17\x0b2401011200Z",        // no seconds
		"\x17\x11240101120000+0100",  // offset
		"\x17\x0d241301000000Z",      // month 13
		"\x18\x1220240101120000.50Z", // trailing zero
		"\x18\x1020240101120000.Z",   // empty fraction
		"\x18\x0e20240101120000",     // no zone
	} {
		_, err := Unmarshal([]byte(bad))
		assert.ErrorIs(t, err, ErrInvalidEncoding, "%q", bad)
	}
}

func TestSetOfSortsOnEncode(t *testing.T) {
	set := Set{Of: true, Elements: []Value{
		UTF8String("b"), NewInteger(5), UTF8String("a"),
	}}
	b, err := Marshal(set)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x31, 0x09, 0x02, 0x01, 0x05, 0x0c, 0x01, 'a', 0x0c, 0x01, 'b'}, b)

	set.Of = false
	b, err = Marshal(set)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x31, 0x09, 0x0c, 0x01, 'b', 0x02, 0x01, 0x05, 0x0c, 0x01, 'a'}, b)

	// Parsed sets keep wire order, so re-encoding reproduces the input.
	v, err := Unmarshal(b)
	require.NoError(t, err)
	again, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestTaggedResolution(t *testing.T) {
	explicit := ContextExplicit(0, NewInteger(2))
	b, err := Marshal(explicit)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xa0, 0x03, 0x02, 0x01, 0x02}, b)

	v, err := Unmarshal(b)
	require.NoError(t, err)
	tagged := v.(Tagged)
	assert.True(t, tagged.Opaque())
	inner, err := tagged.AsExplicit()
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.(Integer).Int.Int64())

	implicit := ContextImplicit(2, OctetString{0x01, 0x02})
	b, err = Marshal(implicit)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x82, 0x02, 0x01, 0x02}, b)
	v, err = Unmarshal(b)
	require.NoError(t, err)
	inner, err = v.(Tagged).AsImplicit(der.TagOctetString)
	require.NoError(t, err)
	assert.Equal(t, OctetString{0x01, 0x02}, inner)

	_, err = v.(Tagged).AsExplicit()
	assert.ErrorIs(t, err, ErrInvalidEncoding)

	// Implicitly tagged constructed types keep the constructed bit.
	seq := ContextImplicit(1, Sequence{Boolean(true)})
	b, err = Marshal(seq)
	require.NoError(t, err)
	assert.Equal(t, byte(0xa1), b[0])

	app := Application(3, UTF8String("x"))
	b, err = Marshal(app)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x63, 0x03, 0x0c, 0x01, 'x'}, b)
	v, err = Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, der.ClassApplication, v.(Tagged).Class)
	assert.True(t, Equal(app, v))
}

func TestRawPreservesUnknownUniversal(t *testing.T) {
	bmp := []byte{0x1e, 0x04, 0x00, 'h', 0x00, 'i'}
	v, err := Unmarshal(bmp)
	require.NoError(t, err)
	require.IsType(t, Raw{}, v)
	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, bmp, out)
}

func TestConstructedBitChecked(t *testing.T) {
	_, err := Unmarshal([]byte{0x10, 0x00})
	assert.ErrorIs(t, err, ErrInvalidEncoding)
	_, err = Unmarshal([]byte{0x22, 0x00})
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestCertificateRoundTrip(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &stdx509.Certificate{
		SerialNumber:          big.NewInt(0x1234567),
		Subject:               pkix.Name{CommonName: "round trip", Organization: []string{"Pebble"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		DNSNames:              []string{"example.com"},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	raw, err := stdx509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	v, err := Unmarshal(raw)
	require.NoError(t, err)
	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}
