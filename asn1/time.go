package asn1

import (
	"time"

	"github.com/letsencrypt/pebble-pki/der"
)

const (
	utcTimeLayout         = "060102150405Z"
	generalizedTimeLayout = "20060102150405.999999999Z"
)

// Time picks UTCTime for years 1950 through 2049 and GeneralizedTime for
// everything else, which is the rule for PKIX validity and revocation dates.
func Time(t time.Time) Value {
	t = t.UTC()
	if y := t.Year(); y >= 1950 && y < 2050 {
		return UTCTime{Time: t.Truncate(time.Second)}
	}
	return GeneralizedTime{Time: t.Truncate(time.Second)}
}

func (v UTCTime) encode() (der.Node, error) {
	t := v.UTC()
	if y := t.Year(); y < 1950 || y >= 2050 {
		return der.Node{}, valueError(v.Tag(), "year %d is outside the UTCTime range", y)
	}
	if t.Nanosecond() != 0 {
		return der.Node{}, valueError(v.Tag(), "UTCTime has no fractional seconds")
	}
	return der.NewPrimitive(v.Tag(), []byte(t.Format(utcTimeLayout))), nil
}

func (v GeneralizedTime) encode() (der.Node, error) {
	t := v.UTC()
	if y := t.Year(); y < 0 || y > 9999 {
		return der.Node{}, valueError(v.Tag(), "year %d needs more than four digits", y)
	}
	return der.NewPrimitive(v.Tag(), []byte(t.Format(generalizedTimeLayout))), nil
}

// parseUTCTime accepts only YYMMDDHHMMSSZ. Two-digit years of 50 and above
// are in the 1900s.
func parseUTCTime(n der.Node) (UTCTime, error) {
	s := string(n.Content)
	if len(s) != len(utcTimeLayout) {
		return UTCTime{}, encodingError(n.Tag, "%q is not YYMMDDHHMMSSZ", s)
	}
	century := "20"
	if s[0] >= '5' {
		century = "19"
	}
	t, err := time.Parse("20"+utcTimeLayout, century+s)
	if err != nil {
		return UTCTime{}, encodingError(n.Tag, "%q: %s", s, err)
	}
	if t.Format(utcTimeLayout) != s {
		return UTCTime{}, encodingError(n.Tag, "%q is not canonical", s)
	}
	return UTCTime{Time: t}, nil
}

// parseGeneralizedTime accepts YYYYMMDDHHMMSS[.f]Z with no trailing zeros
// in the fraction.
func parseGeneralizedTime(n der.Node) (GeneralizedTime, error) {
	s := string(n.Content)
	if len(s) < len("20060102150405Z") || s[len(s)-1] != 'Z' {
		return GeneralizedTime{}, encodingError(n.Tag, "%q is not YYYYMMDDHHMMSSZ", s)
	}
	t, err := time.Parse("20060102150405Z", s)
	if err != nil {
		return GeneralizedTime{}, encodingError(n.Tag, "%q: %s", s, err)
	}
	if t.Format(generalizedTimeLayout) != s {
		return GeneralizedTime{}, encodingError(n.Tag, "%q is not canonical", s)
	}
	return GeneralizedTime{Time: t}, nil
}
