package core

import (
	"slices"
	"strings"
)

// EffectName distinguishes the three region-scoped effects.
type EffectName int

const (
	Reader EffectName = iota
	Writer
	State
)

func (e EffectName) String() string {
	switch e {
	case Reader:
		return "Reader"
	case Writer:
		return "Writer"
	default:
		return "State"
	}
}

// RowEntry is one labelled entry of an effect row: which effect runs
// in the region and the type of the value it carries.
type RowEntry struct {
	Effect EffectName
	Ty     Type
}

// EffectRow maps region names to entries, with an optional
// row-polymorphism tail. The row is a set of labelled entries;
// insertion order is irrelevant.
type EffectRow struct {
	Effects map[Name]RowEntry
	Tail    *Name
}

// Pure is the empty effect row.
func Pure() EffectRow { return EffectRow{} }

// IsPure reports whether the row has no entries and no tail.
func (r EffectRow) IsPure() bool { return len(r.Effects) == 0 && r.Tail == nil }

// Copy returns an independent row.
func (r EffectRow) Copy() EffectRow {
	out := EffectRow{Tail: r.Tail}
	if r.Effects != nil {
		out.Effects = make(map[Name]RowEntry, len(r.Effects))
		for k, v := range r.Effects {
			out.Effects[k] = v
		}
	}
	return out
}

// Extend adds an entry for a region. Extending an existing region with
// a different effect is a compiler bug caught by the caller's checks.
func (r EffectRow) Extend(region Name, entry RowEntry) EffectRow {
	out := r.Copy()
	if out.Effects == nil {
		out.Effects = make(map[Name]RowEntry, 1)
	}
	out.Effects[region] = entry
	return out
}

// Delete removes a region's entry, used when leaving a RunX scope.
func (r EffectRow) Delete(region Name) EffectRow {
	out := r.Copy()
	delete(out.Effects, region)
	return out
}

// Union is the least upper bound of two rows. Entries agree where the
// rows overlap (types come pre-elaborated, so no unification runs).
func (r EffectRow) Union(other EffectRow) EffectRow {
	if other.IsPure() {
		return r
	}
	out := r.Copy()
	if out.Effects == nil {
		out.Effects = make(map[Name]RowEntry, len(other.Effects))
	}
	for k, v := range other.Effects {
		out.Effects[k] = v
	}
	if out.Tail == nil {
		out.Tail = other.Tail
	}
	return out
}

// Regions returns the region names in a deterministic order.
func (r EffectRow) Regions() []Name {
	names := make([]Name, 0, len(r.Effects))
	for n := range r.Effects {
		names = append(names, n)
	}
	slices.SortFunc(names, func(a, b Name) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})
	return names
}

// Equal is structural row equality: same entries, same tail.
func (r EffectRow) Equal(other EffectRow) bool {
	if len(r.Effects) != len(other.Effects) {
		return false
	}
	for k, v := range r.Effects {
		w, ok := other.Effects[k]
		if !ok || w.Effect != v.Effect || !TypeEqual(w.Ty, v.Ty) {
			return false
		}
	}
	if (r.Tail == nil) != (other.Tail == nil) {
		return false
	}
	return r.Tail == nil || *r.Tail == *other.Tail
}

func (r EffectRow) String() string {
	if r.IsPure() {
		return ""
	}
	var parts []string
	for _, n := range r.Regions() {
		e := r.Effects[n]
		parts = append(parts, e.Effect.String()+" "+n.String())
	}
	s := "{" + strings.Join(parts, ", ")
	if r.Tail != nil {
		s += "|" + r.Tail.String()
	}
	return s + "}"
}
