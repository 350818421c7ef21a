// Package table implements provenance-aware column operations over
// [arrow.Record] values.
//
// Every column of a table produced by the engine carries a [Key]: the
// derived name is the arrow field name and the origin is stored in the field
// metadata under [OriginKey]. Fields without origin metadata belong to a
// single-level table and act as their own origin.
package table

import (
	"fmt"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// OriginKey is the field metadata key holding the origin of a column.
const OriginKey = "colprep.origin"

// DerivedMarker prefixes the textual form of a [Ref] which selects a column
// by its derived name.
const DerivedMarker = "$"

// Key is the two-level provenance index of a column.
type Key struct {
	Origin string // Input column responsible for the column.
	Name   string // Name of the column itself.
}

func (k Key) String() string {
	return fmt.Sprintf("(%s, %s)", k.Origin, k.Name)
}

// FieldKey returns the provenance key of f. Fields without origin metadata
// are their own origin.
func FieldKey(f arrow.Field) Key {
	if origin, ok := fieldOrigin(f); ok {
		return Key{Origin: origin, Name: f.Name}
	}
	return Key{Origin: f.Name, Name: f.Name}
}

// Keys returns the provenance keys of all fields in s, in schema order.
func Keys(s *arrow.Schema) []Key {
	keys := make([]Key, 0, s.NumFields())
	for _, f := range s.Fields() {
		keys = append(keys, FieldKey(f))
	}
	return keys
}

// IsTwoLevel reports whether any field of s carries origin metadata.
func IsTwoLevel(s *arrow.Schema) bool {
	return slices.ContainsFunc(s.Fields(), func(f arrow.Field) bool {
		_, ok := fieldOrigin(f)
		return ok
	})
}

func fieldOrigin(f arrow.Field) (string, bool) {
	idx := f.Metadata.FindKey(OriginKey)
	if idx < 0 {
		return "", false
	}
	return f.Metadata.Values()[idx], true
}

// withOrigin returns a copy of f whose metadata records origin. Other
// metadata entries are preserved.
func withOrigin(f arrow.Field, origin string) arrow.Field {
	keys := []string{OriginKey}
	values := []string{origin}
	for i, k := range f.Metadata.Keys() {
		if k == OriginKey {
			continue
		}
		keys = append(keys, k)
		values = append(values, f.Metadata.Values()[i])
	}
	f.Metadata = arrow.NewMetadata(keys, values)
	return f
}

// withoutOrigin returns a copy of f without origin metadata.
func withoutOrigin(f arrow.Field) arrow.Field {
	if f.Metadata.FindKey(OriginKey) < 0 {
		return f
	}
	var keys, values []string
	for i, k := range f.Metadata.Keys() {
		if k == OriginKey {
			continue
		}
		keys = append(keys, k)
		values = append(values, f.Metadata.Values()[i])
	}
	f.Metadata = arrow.NewMetadata(keys, values)
	return f
}

// RefKind selects which level of the provenance index a [Ref] matches.
type RefKind uint8

const (
	// RefOrigin matches every column whose origin is the referenced name.
	RefOrigin RefKind = iota
	// RefDerived matches columns whose own name is the referenced name. It
	// lets a later stage depend on a column generated earlier in the same
	// pipeline even if an input column of the same name exists.
	RefDerived
)

func (k RefKind) String() string {
	switch k {
	case RefOrigin:
		return "origin"
	case RefDerived:
		return "derived"
	default:
		return fmt.Sprintf("RefKind(%d)", k)
	}
}

// Ref references one or more columns of a table.
type Ref struct {
	Kind RefKind
	Name string
}

// Origin returns a reference to the columns originating from name.
func Origin(name string) Ref { return Ref{Kind: RefOrigin, Name: name} }

// Derived returns a reference to the columns named name.
func Derived(name string) Ref { return Ref{Kind: RefDerived, Name: name} }

// Origins returns origin references for all names.
func Origins(names ...string) []Ref {
	refs := make([]Ref, 0, len(names))
	for _, name := range names {
		refs = append(refs, Origin(name))
	}
	return refs
}

// String returns the textual form of r. Derived references are prefixed with
// [DerivedMarker].
func (r Ref) String() string {
	if r.Kind == RefDerived {
		return DerivedMarker + r.Name
	}
	return r.Name
}

// Matches reports whether r selects the column described by f.
func (r Ref) Matches(f arrow.Field) bool {
	switch r.Kind {
	case RefDerived:
		return f.Name == r.Name
	default:
		return FieldKey(f).Origin == r.Name
	}
}

// ParseRef parses the textual form of a reference.
func ParseRef(s string) Ref {
	if name, ok := strings.CutPrefix(s, DerivedMarker); ok {
		return Derived(name)
	}
	return Origin(s)
}

// ParseRefs parses a comma-joined list of references. An empty string yields
// no references.
func ParseRefs(s string) []Ref {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	refs := make([]Ref, 0, len(parts))
	for _, p := range parts {
		refs = append(refs, ParseRef(p))
	}
	return refs
}

// JoinRefs returns the comma-joined textual form of refs.
func JoinRefs(refs []Ref) string {
	parts := make([]string, 0, len(refs))
	for _, r := range refs {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ",")
}

// OriginOf returns the origin assigned to the output of a unit reading refs:
// the lexicographically smallest referenced name.
func OriginOf(refs []Ref) string {
	if len(refs) == 0 {
		return ""
	}
	smallest := refs[0].Name
	for _, r := range refs[1:] {
		if r.Name < smallest {
			smallest = r.Name
		}
	}
	return smallest
}
