package schema

import (
	"github.com/letsencrypt/pebble-pki/asn1"
)

// Table is a closed registry keyed by OID, used to resolve ANY DEFINED BY
// and other OID-discriminated choices. It is built once and never mutated.
type Table[T any] struct {
	name    string
	entries map[string]T
	order   []asn1.ObjectIdentifier
}

// Entry is one row of a Table.
type Entry[T any] struct {
	OID   asn1.ObjectIdentifier
	Value T
}

// NewTable builds a table. Duplicate OIDs are a programming error.
func NewTable[T any](name string, entries ...Entry[T]) *Table[T] {
	t := &Table[T]{name: name, entries: make(map[string]T, len(entries))}
	for _, e := range entries {
		key := e.OID.String()
		if _, dup := t.entries[key]; dup {
			panic("schema: duplicate OID " + key + " in " + name)
		}
		t.entries[key] = e.Value
		t.order = append(t.order, e.OID)
	}
	return t
}

// Lookup returns the entry for oid.
func (t *Table[T]) Lookup(oid asn1.ObjectIdentifier) (T, bool) {
	v, ok := t.entries[oid.String()]
	return v, ok
}

// Resolve is Lookup that fails with CodeUnknownAlgorithm. raw is returned
// inside the error so callers can keep the structure they could not
// interpret.
func (t *Table[T]) Resolve(oid asn1.ObjectIdentifier, raw asn1.Value) (T, error) {
	v, ok := t.Lookup(oid)
	if !ok {
		var zero T
		return zero, &Error{
			Code:    CodeUnknownAlgorithm,
			Record:  t.name,
			Raw:     raw,
			Message: "no entry for " + oid.String(),
		}
	}
	return v, nil
}

// OIDs lists the registered identifiers in registration order.
func (t *Table[T]) OIDs() []asn1.ObjectIdentifier {
	out := make([]asn1.ObjectIdentifier, len(t.order))
	copy(out, t.order)
	return out
}
