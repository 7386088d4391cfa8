// Package errors defines the error surface shared by every compiler
// pass. All passes report failures as *Err values carrying a kind from
// a fixed taxonomy, an optional source position, and a message.
// CompilerErr marks a bug in the compiler itself; every other kind is
// a user-facing error.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	NoErr Kind = iota
	ParseErr
	TypeErr
	KindErr
	LinErr
	UnboundVarErr
	RepeatedVarErr
	CompilerErr
	NotImplementedErr
	DataIOErr
	MiscErr
)

var kindNames = [...]string{
	NoErr:             "NoErr",
	ParseErr:          "Parse error",
	TypeErr:           "Type error",
	KindErr:           "Kind error",
	LinErr:            "Linearity error",
	UnboundVarErr:     "Error: variable not in scope",
	RepeatedVarErr:    "Error: variable already defined",
	CompilerErr:       "Compiler bug!",
	NotImplementedErr: "Not implemented",
	DataIOErr:         "IO error",
	MiscErr:           "Error",
}

// codes give each kind a stable machine-readable tag for JSON output.
var kindCodes = [...]string{
	NoErr:             "OK000",
	ParseErr:          "PAR001",
	TypeErr:           "TYP001",
	KindErr:           "KND001",
	LinErr:            "LIN001",
	UnboundVarErr:     "VAR001",
	RepeatedVarErr:    "VAR002",
	CompilerErr:       "BUG001",
	NotImplementedErr: "NIM001",
	DataIOErr:         "IOE001",
	MiscErr:           "MSC001",
}

func (k Kind) String() string { return kindNames[k] }

// Code returns the stable code for the kind.
func (k Kind) Code() string { return kindCodes[k] }

// IsUserErr reports whether the kind is a user error rather than a
// compiler bug.
func (k Kind) IsUserErr() bool { return k != CompilerErr }

// Pos is a source position. Line is 1-based; a zero Pos means the
// position is unknown.
type Pos struct {
	Line   int `json:"line"`
	Offset int `json:"offset"`
}

func (p Pos) IsKnown() bool { return p.Line > 0 }

// Err is the canonical structured error for the compiler. Passes
// construct it through the kind helpers below and callers recover it
// from an error chain with AsErr.
type Err struct {
	Kind Kind   `json:"-"`
	Pos  *Pos   `json:"pos,omitempty"`
	Msg  string `json:"message"`
}

func (e *Err) Error() string {
	if e.Pos != nil && e.Pos.IsKnown() {
		return fmt.Sprintf("%s (line %d): %s", e.Kind, e.Pos.Line, e.Msg)
	}
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// WithPos returns a copy of the error annotated with a source
// position. An already-positioned error is returned unchanged so the
// innermost position wins.
func (e *Err) WithPos(p Pos) *Err {
	if e.Pos != nil {
		return e
	}
	return &Err{Kind: e.Kind, Pos: &p, Msg: e.Msg}
}

// AsErr extracts an *Err from an error chain. Foreign errors are
// wrapped as MiscErr so the driver always has a kind to report.
func AsErr(err error) (*Err, bool) {
	if err == nil {
		return nil, false
	}
	var e *Err
	if errors.As(err, &e) {
		return e, true
	}
	return &Err{Kind: MiscErr, Msg: err.Error()}, false
}

// ToJSON renders the error as a deterministic JSON object for tooling.
func (e *Err) ToJSON() (string, error) {
	data, err := json.Marshal(struct {
		Code string `json:"code"`
		Kind string `json:"kind"`
		*Err
	}{Code: e.Kind.Code(), Kind: e.Kind.String(), Err: e})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Compiler reports an internal invariant violation.
func Compiler(format string, args ...any) *Err {
	return &Err{Kind: CompilerErr, Msg: fmt.Sprintf(format, args...)}
}

// NotImplemented reports a construct the compiler does not handle yet.
func NotImplemented(format string, args ...any) *Err {
	return &Err{Kind: NotImplementedErr, Msg: fmt.Sprintf(format, args...)}
}

// Linearity reports a linearity violation observed during
// transposition.
func Linearity(format string, args ...any) *Err {
	return &Err{Kind: LinErr, Msg: fmt.Sprintf(format, args...)}
}

// Type reports a type mismatch surfaced past elaboration.
func Type(format string, args ...any) *Err {
	return &Err{Kind: TypeErr, Msg: fmt.Sprintf(format, args...)}
}

// Unbound reports a reference to a name not in scope.
func Unbound(name string) *Err {
	return &Err{Kind: UnboundVarErr, Msg: name}
}

// Misc reports a driver-level error with no better kind.
func Misc(format string, args ...any) *Err {
	return &Err{Kind: MiscErr, Msg: fmt.Sprintf(format, args...)}
}

// Parse reports a malformed source block.
func Parse(format string, args ...any) *Err {
	return &Err{Kind: ParseErr, Msg: fmt.Sprintf(format, args...)}
}
