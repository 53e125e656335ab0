package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexprep/internal/classfile"
	"dexprep/internal/dex"
)

func TestParseBootClasspathAcceptsAbsolutePaths(t *testing.T) {
	out, err := parseBootClasspath([]string{"/system/framework/core.dex", "/system/framework/ext.dex"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/system/framework/core.dex", "/system/framework/ext.dex"}, out)
}

func TestParseBootClasspathRejectsDot(t *testing.T) {
	_, err := parseBootClasspath([]string{"."})
	assert.Error(t, err)
}

func TestParseBootClasspathRejectsRelativePath(t *testing.T) {
	_, err := parseBootClasspath([]string{"relative/path.dex"})
	assert.Error(t, err)
}

func TestBootClasspathArgsEmptyWhenNoneGiven(t *testing.T) {
	args := []string{"7", "3", "0", "100", "src.dex", "1000", "42", "0"}
	assert.Nil(t, bootClasspathArgs(args))
}

func TestBootClasspathArgsReturnsTrailingEntries(t *testing.T) {
	args := []string{"7", "3", "0", "100", "src.dex", "1000", "42", "0", "/a.dex", "/b.dex"}
	assert.Equal(t, []string{"/a.dex", "/b.dex"}, bootClasspathArgs(args))
}

func TestFlagBitsHas(t *testing.T) {
	f := flagVerifyEnabled | flagOptimizeAll
	assert.True(t, f.has(flagVerifyEnabled))
	assert.True(t, f.has(flagOptimizeAll))
	assert.False(t, f.has(flagVerifyAll))
	assert.False(t, f.has(flagBootstrap))
}

func TestDepEntriesIncludesSourceThenBootClasspath(t *testing.T) {
	entries := depEntries([]string{"/core.dex"}, "app.dex", 1234, 0xabcd)
	require.Len(t, entries, 2)
	assert.Equal(t, "app.dex", entries[0].Path)
	assert.Equal(t, int64(1234), entries[0].ModTime)
	assert.Equal(t, uint32(0xabcd), entries[0].CRC)
	assert.Equal(t, "/core.dex", entries[1].Path)
}

func TestValidateClassDefAcceptsWellFormedDef(t *testing.T) {
	cd := dex.ClassDef{
		Name:           "LFoo;",
		SuperType:      "Ljava/lang/Object;",
		InterfaceTypes: []string{"Ljava/lang/Runnable;"},
		InstanceFields: []dex.FieldDecl{{Name: "x", Type: "I"}},
		DirectMethods:  []dex.MethodDecl{{Name: "<init>", Proto: dex.Prototype{ReturnType: "V"}}},
	}
	assert.NoError(t, validateClassDef(cd))
}

func TestValidateClassDefRejectsMalformedClassName(t *testing.T) {
	cd := dex.ClassDef{Name: "Foo"}
	assert.Error(t, validateClassDef(cd))
}

func TestValidateClassDefRejectsMalformedSuperType(t *testing.T) {
	cd := dex.ClassDef{Name: "LFoo;", SuperType: "not-a-descriptor"}
	assert.Error(t, validateClassDef(cd))
}

func TestValidateClassDefRejectsMalformedFieldName(t *testing.T) {
	cd := dex.ClassDef{
		Name:           "LFoo;",
		InstanceFields: []dex.FieldDecl{{Name: "bad name", Type: "I"}},
	}
	assert.Error(t, validateClassDef(cd))
}

func TestValidateClassDefRejectsMalformedMethodName(t *testing.T) {
	cd := dex.ClassDef{
		Name:          "LFoo;",
		DirectMethods: []dex.MethodDecl{{Name: "bad name"}},
	}
	assert.Error(t, validateClassDef(cd))
}

func TestToMethodCopiesCodeSizesWhenPresent(t *testing.T) {
	c := &classfile.Class{Self: 3}
	md := dex.MethodDecl{
		Name:        "run",
		AccessFlags: classfile.AccPublic,
		Code: &dex.Code{
			RegistersSize: 4,
			InsSize:       1,
			OutsSize:      2,
		},
	}
	m := toMethod(c, md)
	assert.Equal(t, "run", m.Name)
	assert.Equal(t, c.Self, m.Owner)
	assert.Equal(t, int32(4), m.RegistersSize)
	assert.Equal(t, int32(1), m.InsSize)
	assert.Equal(t, int32(2), m.OutsSize)
}

func TestToMethodLeavesSizesZeroWhenCodeNil(t *testing.T) {
	c := &classfile.Class{Self: 1}
	md := dex.MethodDecl{Name: "abstractMethod"}
	m := toMethod(c, md)
	assert.Nil(t, m.Code)
	assert.Equal(t, int32(0), m.RegistersSize)
}
