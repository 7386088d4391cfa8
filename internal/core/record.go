package core

import (
	"slices"
	"strconv"
	"strings"

	"github.com/operskoj2c/dex-lang/internal/errors"
)

// Record holds the fields of a record value or record type. A record
// is either positional (Tup) or named; exactly one of the two slots
// is populated.
type Record struct {
	Tup   []Atom
	Named map[string]Atom
}

// TupRec builds a positional record.
func TupRec(items ...Atom) Record { return Record{Tup: items} }

// NamedRec builds a named record.
func NamedRec(fields map[string]Atom) Record { return Record{Named: fields} }

// IsNamed reports whether the record carries named fields.
func (r Record) IsNamed() bool { return r.Named != nil }

// Len is the field count.
func (r Record) Len() int {
	if r.IsNamed() {
		return len(r.Named)
	}
	return len(r.Tup)
}

// Labels returns field labels in a deterministic order: positional
// indices in order, or sorted names.
func (r Record) Labels() []string {
	if !r.IsNamed() {
		out := make([]string, len(r.Tup))
		for i := range r.Tup {
			out[i] = strconv.Itoa(i)
		}
		return out
	}
	out := make([]string, 0, len(r.Named))
	for k := range r.Named {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Field fetches a field by label.
func (r Record) Field(label string) (Atom, bool) {
	if r.IsNamed() {
		a, ok := r.Named[label]
		return a, ok
	}
	i, err := strconv.Atoi(label)
	if err != nil || i < 0 || i >= len(r.Tup) {
		return nil, false
	}
	return r.Tup[i], true
}

// Items returns the fields in label order.
func (r Record) Items() []Atom {
	if !r.IsNamed() {
		return r.Tup
	}
	out := make([]Atom, 0, len(r.Named))
	for _, l := range r.Labels() {
		out = append(out, r.Named[l])
	}
	return out
}

// Map rebuilds the record by applying f to every field.
func (r Record) Map(f func(Atom) (Atom, error)) (Record, error) {
	if r.IsNamed() {
		out := make(map[string]Atom, len(r.Named))
		for _, l := range r.Labels() {
			a, err := f(r.Named[l])
			if err != nil {
				return Record{}, err
			}
			out[l] = a
		}
		return Record{Named: out}, nil
	}
	out := make([]Atom, len(r.Tup))
	for i, a := range r.Tup {
		b, err := f(a)
		if err != nil {
			return Record{}, err
		}
		out[i] = b
	}
	return Record{Tup: out}, nil
}

// Zip pairs up the fields of two records with matching shape. A shape
// mismatch is a compiler bug.
func (r Record) Zip(other Record, f func(label string, a, b Atom) (Atom, error)) (Record, error) {
	if r.IsNamed() != other.IsNamed() || r.Len() != other.Len() {
		return Record{}, errors.Compiler("record shape mismatch: %s vs %s", r.String(), other.String())
	}
	if r.IsNamed() {
		out := make(map[string]Atom, len(r.Named))
		for _, l := range r.Labels() {
			b, ok := other.Named[l]
			if !ok {
				return Record{}, errors.Compiler("record shape mismatch on field %q", l)
			}
			c, err := f(l, r.Named[l], b)
			if err != nil {
				return Record{}, err
			}
			out[l] = c
		}
		return Record{Named: out}, nil
	}
	out := make([]Atom, len(r.Tup))
	for i := range r.Tup {
		c, err := f(strconv.Itoa(i), r.Tup[i], other.Tup[i])
		if err != nil {
			return Record{}, err
		}
		out[i] = c
	}
	return Record{Tup: out}, nil
}

func (r Record) String() string {
	var parts []string
	if r.IsNamed() {
		for _, l := range r.Labels() {
			parts = append(parts, l+"="+r.Named[l].String())
		}
	} else {
		for _, a := range r.Tup {
			parts = append(parts, a.String())
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
