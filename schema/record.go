// Package schema maps typed records onto ASN.1 values.
//
// A record type is described once, as data: an ordered table of fields,
// each with a codec, an accessor, a presence rule and an optional tag
// override. Record.Project and Record.Lift are the only two algorithms;
// every PKIX structure in this module is a table consumed by them.
package schema

import (
	"errors"
	"reflect"

	"github.com/letsencrypt/pebble-pki/asn1"
	"github.com/letsencrypt/pebble-pki/der"
)

// Presence says what happens when a field is absent.
type Presence int

const (
	Required Presence = iota
	Optional
	// Defaulted fields are omitted when equal to their default and
	// take the default when absent.
	Defaulted
)

type tagging int

const (
	untagged tagging = iota
	explicitTag
	implicitTag
)

type options struct {
	presence Presence
	tagging  tagging
	class    der.Class
	number   uint32
}

// Option adjusts a field built by Bind.
type Option func(*options)

// OptionalField marks a field OPTIONAL. It is omitted when its Go value is
// the zero value.
func OptionalField() Option {
	return func(o *options) { o.presence = Optional }
}

// Explicit wraps the field in a context-specific constructed tag.
func Explicit(number uint32) Option {
	return func(o *options) {
		o.tagging, o.class, o.number = explicitTag, der.ClassContextSpecific, number
	}
}

// Implicit replaces the field's universal tag with a context-specific one.
func Implicit(number uint32) Option {
	return func(o *options) {
		o.tagging, o.class, o.number = implicitTag, der.ClassContextSpecific, number
	}
}

// ApplicationExplicit wraps the field in an APPLICATION class tag.
func ApplicationExplicit(number uint32) Option {
	return func(o *options) {
		o.tagging, o.class, o.number = explicitTag, der.ClassApplication, number
	}
}

// Field is one row of a record table. Build it with Bind or BindDefault.
type Field[R any] struct {
	Name     string
	Presence Presence

	opts       options
	codecTags  []der.Tag
	project    func(*R) (asn1.Value, bool, error)
	lift       func(*R, asn1.Value) error
	setDefault func(*R)
}

// Bind describes a field of R whose Go value lives at get(r).
func Bind[R, V any](name string, c Codec[V], get func(*R) *V, opts ...Option) Field[R] {
	f := Field[R]{Name: name, codecTags: c.Tags}
	for _, opt := range opts {
		opt(&f.opts)
	}
	f.Presence = f.opts.presence
	optional := f.Presence == Optional
	f.project = func(r *R) (asn1.Value, bool, error) {
		v := *get(r)
		if optional && isZero(v) {
			return nil, false, nil
		}
		out, err := c.Encode(v)
		return out, true, err
	}
	f.lift = func(r *R, v asn1.Value) error {
		out, err := c.Decode(v)
		if err != nil {
			return err
		}
		*get(r) = out
		return nil
	}
	if f.opts.tagging == implicitTag && len(c.Tags) != 1 {
		panic("schema: implicit tagging needs a codec with exactly one tag: " + name)
	}
	return f
}

// BindDefault describes a DEFAULT field.
func BindDefault[R, V any](name string, c Codec[V], get func(*R) *V, def V, opts ...Option) Field[R] {
	f := Bind(name, c, get, opts...)
	f.Presence = Defaulted
	defEnc, err := c.Encode(def)
	if err != nil {
		panic("schema: default for " + name + " cannot be encoded: " + err.Error())
	}
	project := f.project
	f.project = func(r *R) (asn1.Value, bool, error) {
		v, _, err := project(r)
		if err != nil {
			return nil, false, err
		}
		if asn1.Equal(v, defEnc) {
			return nil, false, nil
		}
		return v, true, nil
	}
	lift := f.lift
	f.lift = func(r *R, v asn1.Value) error {
		if asn1.Equal(v, defEnc) {
			return Invalid("DEFAULT value must be omitted")
		}
		return lift(r, v)
	}
	f.setDefault = func(r *R) { *get(r) = def }
	return f
}

func isZero[V any](v V) bool {
	return reflect.ValueOf(&v).Elem().IsZero()
}

// matches reports whether an element with tag t belongs to f.
func (f *Field[R]) matches(t der.Tag) bool {
	if f.opts.tagging != untagged {
		return t.Class == f.opts.class && t.Number == f.opts.number
	}
	if f.codecTags == nil {
		return true
	}
	for _, ct := range f.codecTags {
		if ct.Class == t.Class && ct.Number == t.Number {
			return true
		}
	}
	return false
}

func (f *Field[R]) wrap(v asn1.Value) asn1.Value {
	switch f.opts.tagging {
	case explicitTag:
		return asn1.NewExplicit(f.opts.class, f.opts.number, v)
	case implicitTag:
		return asn1.NewImplicit(f.opts.class, f.opts.number, v)
	}
	return v
}

func (f *Field[R]) unwrap(v asn1.Value) (asn1.Value, error) {
	if f.opts.tagging == untagged {
		return v, nil
	}
	t, ok := v.(asn1.Tagged)
	if !ok {
		return nil, Invalid("expected a tagged value, got %s", v.Tag())
	}
	if f.opts.tagging == explicitTag {
		return t.AsExplicit()
	}
	return t.AsImplicit(f.codecTags[0].Number)
}

// Record is the field table of a SEQUENCE.
type Record[R any] struct {
	Name   string
	Fields []Field[R]
	// Extensible records skip trailing elements that match no field.
	Extensible bool
}

// Project converts r to a SEQUENCE, omitting absent OPTIONAL fields and
// fields equal to their DEFAULT.
func (rec *Record[R]) Project(r *R) (asn1.Sequence, error) {
	seq := make(asn1.Sequence, 0, len(rec.Fields))
	for i := range rec.Fields {
		f := &rec.Fields[i]
		v, present, err := f.project(r)
		if err != nil {
			return nil, rec.fieldError(f, err)
		}
		if !present {
			continue
		}
		seq = append(seq, f.wrap(v))
	}
	return seq, nil
}

// Lift fills r from a SEQUENCE.
func (rec *Record[R]) Lift(v asn1.Value, r *R) error {
	seq, ok := v.(asn1.Sequence)
	if !ok {
		return &Error{Code: CodeUnexpectedTag, Record: rec.Name,
			Message: "expected SEQUENCE, got " + tagString(v)}
	}
	i := 0
	for fi := range rec.Fields {
		f := &rec.Fields[fi]
		if i < len(seq) && f.matches(seq[i].Tag()) {
			inner, err := f.unwrap(seq[i])
			if err == nil {
				err = f.lift(r, inner)
			}
			if err != nil {
				return rec.fieldError(f, err)
			}
			i++
			continue
		}
		switch f.Presence {
		case Optional:
			continue
		case Defaulted:
			f.setDefault(r)
			continue
		}
		if i >= len(seq) || rec.Extensible || rec.laterFieldMatches(fi+1, seq[i].Tag()) {
			return &Error{Code: CodeMissingField, Record: rec.Name, Field: f.Name}
		}
		return &Error{Code: CodeUnexpectedTag, Record: rec.Name, Field: f.Name,
			Message: "unexpected " + seq[i].Tag().String()}
	}
	if i < len(seq) && !rec.Extensible {
		return &Error{Code: CodeUnexpectedTag, Record: rec.Name,
			Message: "trailing " + seq[i].Tag().String()}
	}
	return nil
}

func (rec *Record[R]) laterFieldMatches(from int, t der.Tag) bool {
	for i := from; i < len(rec.Fields); i++ {
		if rec.Fields[i].matches(t) {
			return true
		}
	}
	return false
}

func (rec *Record[R]) fieldError(f *Field[R], err error) error {
	var se *Error
	if errors.As(err, &se) && se.Record == "" {
		se.Record, se.Field = rec.Name, f.Name
		return se
	}
	if errors.As(err, &se) {
		return err
	}
	return &Error{Code: CodeInvalidField, Record: rec.Name, Field: f.Name, Cause: err}
}

// Marshal projects r and returns its DER encoding.
func (rec *Record[R]) Marshal(r *R) ([]byte, error) {
	seq, err := rec.Project(r)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(seq)
}

// Unmarshal parses exactly one SEQUENCE from b into r.
func (rec *Record[R]) Unmarshal(b []byte, r *R) error {
	v, err := asn1.Unmarshal(b)
	if err != nil {
		return err
	}
	return rec.Lift(v, r)
}

func tagString(v asn1.Value) string {
	if v == nil {
		return "nothing"
	}
	return v.Tag().String()
}
