package classfile

import "strings"

// Category is the register-width class of a type descriptor: cat1
// reference, cat1 non-reference primitive, or cat2 (long/double).
type Category int

const (
	CatReference Category = iota
	CatPrimitive1
	CatPrimitive2
)

// Width returns how many register slots a value of descriptor d occupies
// (1 or 2), matching spec.md GLOSSARY's Category 1 / Category 2 split.
func Width(d string) int {
	if d == "J" || d == "D" {
		return 2
	}
	return 1
}

func CategoryOf(d string) Category {
	switch d {
	case "J", "D":
		return CatPrimitive2
	case "B", "C", "F", "I", "S", "Z":
		return CatPrimitive1
	default:
		return CatReference
	}
}

// IsPrimitive reports whether d is a primitive (non-array, non-class)
// descriptor, including "V" for void return types.
func IsPrimitive(d string) bool {
	switch d {
	case "B", "C", "D", "F", "I", "J", "S", "Z", "V":
		return true
	default:
		return false
	}
}

// ArrayDepth returns the number of leading '[' characters.
func ArrayDepth(d string) int {
	n := 0
	for n < len(d) && d[n] == '[' {
		n++
	}
	return n
}

// ElementDescriptor strips one leading array dimension.
func ElementDescriptor(d string) string {
	if ArrayDepth(d) == 0 {
		return d
	}
	return d[1:]
}

// IsReferenceDescriptor reports whether d denotes an object or array type
// (i.e. anything that isn't a primitive/void descriptor).
func IsReferenceDescriptor(d string) bool {
	return !IsPrimitive(d) || ArrayDepth(d) > 0
}

// ClassNameFromDescriptor extracts "com/foo/Bar" from "Lcom/foo/Bar;". It
// returns d unchanged for array and primitive descriptors.
func ClassNameFromDescriptor(d string) string {
	if len(d) >= 2 && d[0] == 'L' && strings.HasSuffix(d, ";") {
		return d[1 : len(d)-1]
	}
	return d
}
