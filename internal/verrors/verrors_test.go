package verrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormattingWithAndWithoutRef(t *testing.T) {
	e := New(VerifyError, "bad register type")
	assert.Equal(t, "VerifyError: bad register type", e.Error())

	e2 := NewRef(NoSuchField, "missing field", "Foo.bar:I")
	assert.Equal(t, "NoSuchField: missing field (Foo.bar:I)", e2.Error())
}

func TestNewfFormatsMessage(t *testing.T) {
	e := Newf(InternalError, "unexpected opcode %d", 7)
	assert.Equal(t, "InternalError: unexpected opcode 7", e.Error())
}

func TestDeferredErrorFormatting(t *testing.T) {
	d := &DeferredError{Kind: NoSuchMethod, Ref: "Foo.bar()V"}
	assert.Contains(t, d.Error(), "Foo.bar()V")
	assert.Contains(t, d.Error(), "NoSuchMethod")
}

func TestIsDeferrable(t *testing.T) {
	for _, k := range []Kind{NoClassDef, NoSuchField, NoSuchMethod, IllegalAccess} {
		assert.True(t, IsDeferrable(k), k.String())
	}
	for _, k := range []Kind{ClassFormatError, ClassCircularity, IncompatibleClassChange, VerifyError, LinkageError, Instantiation, InternalError} {
		assert.False(t, IsDeferrable(k), k.String())
	}
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, "UnknownErrorKind", Kind(999).String())
}
