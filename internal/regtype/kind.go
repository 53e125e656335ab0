// Package regtype implements the register-type lattice used by the method
// verifier: a finite set of primitive "register types" with a fixed merge
// table, plus the uninitialized-reference side table the verifier consults
// while tracking objects that have not yet had <init> run on them.
//
// Naming follows dalvik/vm/analysis/CodeVerify.cpp's kRegType* enumerators
// (see original_source/dalvik), translated into an idiomatic Go sum type
// instead of the source's bit-tagged integer.
package regtype

// Kind enumerates the tags a RegisterType can carry. The zero value is
// Unknown, matching "never written on this path".
type Kind uint8

const (
	Unknown Kind = iota
	Conflict
	UninitRef

	Zero
	One

	ConstPosByte
	ConstByte
	ConstPosShort
	ConstShort
	ConstChar
	ConstInt

	PosByte
	Byte
	PosShort
	Short
	Char
	Int
	Float
	Boolean

	ConstLo
	ConstHi

	LongLo
	LongHi
	DoubleLo
	DoubleHi

	Ref

	numKinds
)

var kindNames = [numKinds]string{
	Unknown:       "unknown",
	Conflict:      "conflict",
	UninitRef:     "uninit",
	Zero:          "zero",
	One:           "one",
	ConstPosByte:  "const-pos-byte",
	ConstByte:     "const-byte",
	ConstPosShort: "const-pos-short",
	ConstShort:    "const-short",
	ConstChar:     "const-char",
	ConstInt:      "const-int",
	PosByte:       "pos-byte",
	Byte:          "byte",
	PosShort:      "pos-short",
	Short:         "short",
	Char:          "char",
	Int:           "int",
	Float:         "float",
	Boolean:       "boolean",
	ConstLo:       "const-lo",
	ConstHi:       "const-hi",
	LongLo:        "long-lo",
	LongHi:        "long-hi",
	DoubleLo:      "double-lo",
	DoubleHi:      "double-hi",
	Ref:           "ref",
}

func (k Kind) String() string {
	if int(k) >= len(kindNames) {
		return "?unknown-kind?"
	}
	return kindNames[k]
}

// category1NonRefStart/End bound the cat1nr run of the enum, matching
// kRegType1nrSTART/END in CodeVerify.cpp: every kind in this (inclusive)
// range is a 32-bit non-reference primitive or a constant that narrows to
// one.
const (
	category1NonRefStart = Zero
	category1NonRefEnd   = Boolean
)

// IsCategory1NonReference reports whether k is a 32-bit non-reference
// primitive (or a constant literal that will narrow to one).
func (k Kind) IsCategory1NonReference() bool {
	return k >= category1NonRefStart && k <= category1NonRefEnd
}

// IsConstant reports whether k is a constant-literal-derived kind that has
// not yet committed to a concrete primitive identity.
func (k Kind) IsConstant() bool {
	switch k {
	case ConstPosByte, ConstByte, ConstPosShort, ConstShort, ConstChar, ConstInt, ConstLo, ConstHi:
		return true
	default:
		return false
	}
}

// IsCategory2Lo/Hi identify the two halves of a 64-bit value.
func (k Kind) IsCategory2Lo() bool {
	return k == ConstLo || k == LongLo || k == DoubleLo
}

func (k Kind) IsCategory2Hi() bool {
	return k == ConstHi || k == LongHi || k == DoubleHi
}
