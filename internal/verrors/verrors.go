// Package verrors defines the error-kind taxonomy of spec.md §7 and the
// hard-rejection vs. deferred-failure split the verifier and rewriter use
// to decide whether a bad instruction fails the whole method or is replaced
// with a synthetic throwing instruction at rewrite time.
package verrors

import "fmt"

// Kind is one of the error kinds the core can report (spec.md §7's table).
type Kind int

const (
	ClassFormatError Kind = iota
	ClassCircularity
	NoClassDef
	IllegalAccess
	IncompatibleClassChange
	NoSuchField
	NoSuchMethod
	VerifyError
	LinkageError
	Instantiation
	InternalError
)

var kindNames = map[Kind]string{
	ClassFormatError:        "ClassFormatError",
	ClassCircularity:        "ClassCircularity",
	NoClassDef:              "NoClassDef",
	IllegalAccess:           "IllegalAccess",
	IncompatibleClassChange: "IncompatibleClassChange",
	NoSuchField:             "NoSuchField",
	NoSuchMethod:            "NoSuchMethod",
	VerifyError:             "VerifyError",
	LinkageError:            "LinkageError",
	Instantiation:           "Instantiation",
	InternalError:           "InternalError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UnknownErrorKind"
}

// Error is a hard-rejection failure: the whole class or method fails and
// (for a class) the owning class transitions to Error terminally.
type Error struct {
	Kind Kind
	Msg  string
	// Ref is an optional human-readable reference (class/field/method
	// descriptor) the error concerns, carried separately from Msg so
	// callers that serialize a DeferredError's operands can reuse it.
	Ref string
}

func (e *Error) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Msg, e.Ref)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func New(kind Kind, msg string) *Error           { return &Error{Kind: kind, Msg: msg} }
func Newf(kind Kind, format string, a ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, a...)}
}
func NewRef(kind Kind, msg, ref string) *Error { return &Error{Kind: kind, Msg: msg, Ref: ref} }

// DeferredError represents spec.md §7's "deferred failure" path: the
// verifier permits the method to keep verifying past this instruction, and
// the rewriter later replaces the faulting instruction with a synthetic
// "throw-verification-error" opcode carrying Kind and RefKind as operands.
// Used only when the runtime policy allows partial classes (resolution
// failures); structural errors always use hard Error instead.
type DeferredError struct {
	Kind    Kind
	RefKind uint16 // opcode-specific "what kind of reference" operand
	Ref     string
}

func (d *DeferredError) Error() string {
	return fmt.Sprintf("deferred %s (ref=%s)", d.Kind, d.Ref)
}

// IsDeferrable reports whether kind is one of the resolution failures the
// policy may choose to defer to a synthetic throw instead of failing the
// whole method (spec.md §7: "used when the runtime policy allows partial
// classes (unresolved-reference errors)").
func IsDeferrable(kind Kind) bool {
	switch kind {
	case NoClassDef, NoSuchField, NoSuchMethod, IllegalAccess:
		return true
	default:
		return false
	}
}
