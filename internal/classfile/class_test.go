package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dexprep/internal/dex"
)

func TestSameNameAndProtoMatchesOnNameReturnAndParams(t *testing.T) {
	a := &Method{Name: "add", Proto: dex.Prototype{ReturnType: "I", ParamTypes: []string{"I", "I"}}}
	b := &Method{Name: "add", Proto: dex.Prototype{ReturnType: "I", ParamTypes: []string{"I", "I"}}}
	assert.True(t, SameNameAndProto(a, b))
}

func TestSameNameAndProtoRejectsDifferentParamCount(t *testing.T) {
	a := &Method{Name: "add", Proto: dex.Prototype{ReturnType: "I", ParamTypes: []string{"I", "I"}}}
	b := &Method{Name: "add", Proto: dex.Prototype{ReturnType: "I", ParamTypes: []string{"I"}}}
	assert.False(t, SameNameAndProto(a, b))
}

func TestSameNameAndProtoRejectsDifferentParamTypes(t *testing.T) {
	a := &Method{Name: "add", Proto: dex.Prototype{ReturnType: "I", ParamTypes: []string{"I", "I"}}}
	b := &Method{Name: "add", Proto: dex.Prototype{ReturnType: "I", ParamTypes: []string{"I", "J"}}}
	assert.False(t, SameNameAndProto(a, b))
}

func TestSameNameAndProtoRejectsDifferentReturnType(t *testing.T) {
	a := &Method{Name: "get", Proto: dex.Prototype{ReturnType: "I"}}
	b := &Method{Name: "get", Proto: dex.Prototype{ReturnType: "J"}}
	assert.False(t, SameNameAndProto(a, b))
}

func TestMethodAccessFlagPredicates(t *testing.T) {
	m := &Method{AccessFlags: AccPublic | AccStatic | AccFinal}
	assert.True(t, m.IsStatic())
	assert.True(t, m.IsFinal())
	assert.True(t, m.IsPublic())
	assert.False(t, m.IsPrivate())
	assert.False(t, m.IsAbstract())
}

func TestMethodIsConstructorAndClassInit(t *testing.T) {
	assert.True(t, (&Method{Name: "<init>"}).IsConstructor())
	assert.True(t, (&Method{Name: "<clinit>"}).IsClassInit())
	assert.False(t, (&Method{Name: "run"}).IsConstructor())
}

func TestMethodIsNativeWhenCodeNilAndNotAbstract(t *testing.T) {
	assert.True(t, (&Method{}).IsNative())
	assert.False(t, (&Method{AccessFlags: AccAbstract}).IsNative())
	assert.False(t, (&Method{Code: &dex.Code{}}).IsNative())
}

func TestClassAccessFlagPredicates(t *testing.T) {
	c := &Class{AccessFlags: AccInterface | AccAbstract}
	assert.True(t, c.IsInterface())
	assert.True(t, c.IsAbstract())
	assert.False(t, c.IsFinal())
}

func TestFieldAccessFlagPredicates(t *testing.T) {
	f := &Field{AccessFlags: AccStatic | AccVolatile}
	assert.True(t, f.IsStatic())
	assert.True(t, f.IsVolatile())
	assert.False(t, f.IsFinal())
}
