package core

import (
	"fmt"
	"strconv"
)

// NameSpace tags the origin of a name. Names from different spaces
// never collide even when hint and counter agree.
type NameSpace int

const (
	// SourceName is a name written by the user.
	SourceName NameSpace = iota
	// GenName is a compiler-generated name.
	GenName
	// SkolemName is a fresh variable introduced to decide alpha
	// equality of dependent types.
	SkolemName
	// TopName is a top-level binding.
	TopName
	// TopFunctionName names a lowered Imp function.
	TopFunctionName
	// AllocPtrName names a pointer captured during Imp lowering.
	AllocPtrName
)

var spaceTags = map[NameSpace]string{
	SourceName:      "src",
	GenName:         "gen",
	SkolemName:      "skol",
	TopName:         "top",
	TopFunctionName: "fun",
	AllocPtrName:    "ptr",
}

// Name is a printable hint plus a disambiguating counter, tagged with
// its origin. Equality and ordering are on the whole triple.
type Name struct {
	Space NameSpace
	Hint  string
	Num   int
}

func (n Name) String() string {
	if n.Num == 0 {
		return n.Hint
	}
	return n.Hint + "_" + strconv.Itoa(n.Num)
}

// GoString distinguishes names that print alike but live in different
// spaces; used in compiler-bug messages.
func (n Name) GoString() string {
	return fmt.Sprintf("%s:%s.%d", spaceTags[n.Space], n.Hint, n.Num)
}

// Less orders names on (space, hint, num).
func (n Name) Less(m Name) bool {
	if n.Space != m.Space {
		return n.Space < m.Space
	}
	if n.Hint != m.Hint {
		return n.Hint < m.Hint
	}
	return n.Num < m.Num
}

// Gen makes a generated name with a zero counter.
func Gen(hint string) Name { return Name{Space: GenName, Hint: hint} }

// Top makes a top-level name.
func Top(hint string) Name { return Name{Space: TopName, Hint: hint} }

// ScopeEntry records what a scope knows about a name: its type and,
// for let-bound names, the bound expression (used for reduction).
type ScopeEntry struct {
	Ty    Type
	Bound Expr // nil unless let-bound
}

// Scope maps every name visible at a program point to its entry.
// Scopes are value-copied at binder boundaries; they are never
// mutated through a shared reference across passes.
type Scope map[Name]ScopeEntry

// Copy returns an independent scope with the same entries.
func (s Scope) Copy() Scope {
	out := make(Scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Contains reports whether the name is bound in the scope.
func (s Scope) Contains(n Name) bool {
	_, ok := s[n]
	return ok
}

// Fresh renames n to the name with the smallest counter >= n.Num that
// does not collide with the scope. There is no hidden global counter;
// determinism follows from the scope contents alone.
func (s Scope) Fresh(n Name) Name {
	for s.Contains(n) {
		n.Num++
	}
	return n
}

// FreshVar renames the variable's name against the scope, keeping its
// annotation.
func (s Scope) FreshVar(v Var) Var {
	return Var{Name: s.Fresh(v.Name), Ty: v.Ty}
}
