package dex

import (
	"bytes"
	"crypto/sha1"
	"fmt"
)

// Magic identifies a prepared image (spec.md §6 "Image format (inbound)").
var Magic = [4]byte{'d', 'e', 'x', 'n'}

const CurrentVersion uint32 = 1

// Header is the inbound image's fixed-size prefix: magic, version, image
// checksum, a 20-byte signature, and counts+offsets of the shared constant
// pool tables plus the class-def table.
type Header struct {
	Magic     [4]byte
	Version   uint32
	Checksum  uint32
	Signature [sha1.Size]byte

	StringIDsOff, StringIDsSize uint32
	TypeIDsOff, TypeIDsSize     uint32
	ProtoIDsOff, ProtoIDsSize   uint32
	FieldIDsOff, FieldIDsSize   uint32
	MethodIDsOff, MethodIDsSize uint32
	ClassDefsOff, ClassDefsSize uint32
}

// Prototype is a parameter-type-list + return-type pair (spec.md §3's
// Method.prototype), stored inline on each MethodDecl/MethodRef.
type Prototype struct {
	ParamTypes []string // type descriptors
	ReturnType string
}

// FieldRef and MethodRef are unresolved constant-pool entries: a class
// type descriptor, a name, and either the field's type descriptor or the
// method's inline prototype.
type FieldRef struct {
	ClassType string
	Name      string
	Type      string
}

type MethodRef struct {
	ClassType string
	Name      string
	Proto     Prototype
}

// ClassDef is one class-def table entry as loaded straight off the image,
// before the linker resolves SuperType/InterfaceTypes into class handles.
type ClassDef struct {
	Name           string // this class's own type descriptor
	AccessFlags    uint32
	SuperType      string // "" for a root class (Object)
	InterfaceTypes []string

	// FieldRefs and MethodRefs are this class's own constant pool: every
	// iget/iput/sget/sput/invoke-* instruction in its methods indexes one
	// of these two tables via Instruction.PoolIndex (spec.md §6).
	FieldRefs  []FieldRef
	MethodRefs []MethodRef

	StaticFields   []FieldDecl
	InstanceFields []FieldDecl
	DirectMethods  []MethodDecl
	VirtualMethods []MethodDecl
}

type FieldDecl struct {
	Name        string
	Type        string
	AccessFlags uint32
}

type MethodDecl struct {
	Name        string
	Proto       Prototype
	AccessFlags uint32
	Code        *Code // nil for abstract/native methods
}

// Image is the fully decoded in-memory form of one prepared-image region:
// the shared string pool plus every class-def section (spec.md §6).
type Image struct {
	Header  Header
	Strings []string
	Classes []ClassDef
}

// Checksum computes the image's rolling checksum the same way
// Checksum(deps+opt) is computed for the cache container (spec.md §4.5):
// a CRC32 over the canonical byte encoding, so two structurally equal
// images always hash equal regardless of how they were produced.
func (img *Image) Checksum() uint32 {
	return crc32Of(img.encode())
}

func (img *Image) encode() []byte {
	var buf bytes.Buffer
	for _, s := range img.Strings {
		buf.WriteString(s)
		buf.WriteByte(0)
	}
	for _, c := range img.Classes {
		fmt.Fprintf(&buf, "%s\x00%d\x00%s\x00", c.Name, c.AccessFlags, c.SuperType)
		for _, i := range c.InterfaceTypes {
			buf.WriteString(i)
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

// Encode and Decode (codec.go) are the full structural codec for the
// on-disk image blob, including every field/method declaration and code
// body; they are the inverse of each other. encode/Checksum above stay
// independent of them deliberately: Checksum must keep hashing exactly the
// same projection of the image regardless of how the rest of the format
// evolves, so that a structurally-equal image (by Name/AccessFlags/
// SuperType/InterfaceTypes) always checksums equal.
