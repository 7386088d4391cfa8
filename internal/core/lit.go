package core

import (
	"fmt"
	"strconv"
)

// BaseType enumerates the scalar base types.
type BaseType int

const (
	IntType BaseType = iota
	RealType
	BoolType
	StrType
)

func (b BaseType) String() string {
	switch b {
	case IntType:
		return "Int"
	case RealType:
		return "Real"
	case BoolType:
		return "Bool"
	case StrType:
		return "Str"
	default:
		return fmt.Sprintf("BaseType(%d)", int(b))
	}
}

// LitVal is a scalar literal value.
type LitVal interface {
	litVal()
	BaseType() BaseType
	String() string
}

// IntLit is an integer literal.
type IntLit int64

func (IntLit) litVal() {}
func (IntLit) BaseType() BaseType   { return IntType }
func (v IntLit) String() string     { return strconv.FormatInt(int64(v), 10) }

// RealLit is a floating-point literal.
type RealLit float64

func (RealLit) litVal() {}
func (RealLit) BaseType() BaseType { return RealType }
func (v RealLit) String() string   { return strconv.FormatFloat(float64(v), 'g', -1, 64) }

// BoolLit is a boolean literal.
type BoolLit bool

func (BoolLit) litVal() {}
func (BoolLit) BaseType() BaseType { return BoolType }
func (v BoolLit) String() string   { return strconv.FormatBool(bool(v)) }

// StrLit is a string literal.
type StrLit string

func (StrLit) litVal() {}
func (StrLit) BaseType() BaseType { return StrType }
func (v StrLit) String() string   { return strconv.Quote(string(v)) }

// ZeroLit returns the additive zero of a base type.
func ZeroLit(b BaseType) LitVal {
	switch b {
	case IntType:
		return IntLit(0)
	case RealType:
		return RealLit(0)
	case BoolType:
		return BoolLit(false)
	default:
		return StrLit("")
	}
}
