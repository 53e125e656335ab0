package dex

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// headerSize is the fixed on-disk size of Header: 4 (Magic) + 4 (Version) +
// 4 (Checksum) + 20 (Signature) + 12*4 (the six off/size pairs).
const headerSize = 4 + 4 + 4 + 20 + 12*4

// Encode serializes img into the self-describing little-endian image blob
// this package's Decode reads back: a fixed Header followed by the string
// pool and the full class-def table, including every field/method
// declaration and its code body (spec.md §6 "Image format (inbound)"). This
// is the "raw image" region the cache container wraps (spec.md §4.5).
//
// Unlike a real DEX file's separate string/type/proto/field/method tables,
// FieldRef/MethodRef/Prototype values live inline on the ClassDef that
// references them (classfile.Class.FieldRefs/MethodRefs are populated
// straight off of it) rather than through a shared, image-wide table, so
// Header's TypeIDs/ProtoIDs/FieldIDs/MethodIDs off/size pairs are always
// zero here — there is no shared table at those offsets to point at.
func Encode(img *Image) []byte {
	var strTab bytes.Buffer
	writeU32(&strTab, uint32(len(img.Strings)))
	for _, s := range img.Strings {
		writeLenPrefixed(&strTab, []byte(s))
	}

	var classTab bytes.Buffer
	writeU32(&classTab, uint32(len(img.Classes)))
	for _, c := range img.Classes {
		encodeClassDef(&classTab, c)
	}

	hdr := img.Header
	hdr.Magic = Magic
	hdr.Version = CurrentVersion
	hdr.Checksum = img.Checksum()
	hdr.StringIDsOff = headerSize
	hdr.StringIDsSize = uint32(strTab.Len())
	hdr.TypeIDsOff, hdr.TypeIDsSize = 0, 0
	hdr.ProtoIDsOff, hdr.ProtoIDsSize = 0, 0
	hdr.FieldIDsOff, hdr.FieldIDsSize = 0, 0
	hdr.MethodIDsOff, hdr.MethodIDsSize = 0, 0
	hdr.ClassDefsOff = hdr.StringIDsOff + hdr.StringIDsSize
	hdr.ClassDefsSize = uint32(classTab.Len())

	var buf bytes.Buffer
	writeHeader(&buf, hdr)
	buf.Write(strTab.Bytes())
	buf.Write(classTab.Bytes())
	return buf.Bytes()
}

// Decode parses a blob produced by Encode back into an Image, validating
// the magic, the version, and the image checksum against the decoded
// content (spec.md §6's "reject the image outright" step for a malformed
// or foreign blob).
func Decode(b []byte) (*Image, error) {
	d := &decoder{buf: b}
	hdr, err := d.header()
	if err != nil {
		return nil, err
	}
	if hdr.Magic != Magic {
		return nil, fmt.Errorf("dex: bad magic %x", hdr.Magic)
	}
	if hdr.Version != CurrentVersion {
		return nil, fmt.Errorf("dex: unsupported version %d", hdr.Version)
	}

	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	strings := make([]string, n)
	for i := range strings {
		s, err := d.str()
		if err != nil {
			return nil, err
		}
		strings[i] = s
	}

	n, err = d.u32()
	if err != nil {
		return nil, err
	}
	classes := make([]ClassDef, n)
	for i := range classes {
		cd, err := d.classDef()
		if err != nil {
			return nil, err
		}
		classes[i] = cd
	}

	img := &Image{Header: hdr, Strings: strings, Classes: classes}
	if got := img.Checksum(); got != hdr.Checksum {
		return nil, fmt.Errorf("dex: checksum mismatch: header=%x computed=%x", hdr.Checksum, got)
	}
	return img, nil
}

// --- encode helpers ---

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeI32(buf *bytes.Buffer, v int32) { writeU32(buf, uint32(v)) }

func writeU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeI64(buf *bytes.Buffer, v int64) { writeU64(buf, uint64(v)) }

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeStrSlice(buf *bytes.Buffer, ss []string) {
	writeU32(buf, uint32(len(ss)))
	for _, s := range ss {
		writeLenPrefixed(buf, []byte(s))
	}
}

func writeI32Slice(buf *bytes.Buffer, xs []int32) {
	writeU32(buf, uint32(len(xs)))
	for _, x := range xs {
		writeI32(buf, x)
	}
}

func writeHeader(buf *bytes.Buffer, h Header) {
	buf.Write(h.Magic[:])
	writeU32(buf, h.Version)
	writeU32(buf, h.Checksum)
	buf.Write(h.Signature[:])
	writeU32(buf, h.StringIDsOff)
	writeU32(buf, h.StringIDsSize)
	writeU32(buf, h.TypeIDsOff)
	writeU32(buf, h.TypeIDsSize)
	writeU32(buf, h.ProtoIDsOff)
	writeU32(buf, h.ProtoIDsSize)
	writeU32(buf, h.FieldIDsOff)
	writeU32(buf, h.FieldIDsSize)
	writeU32(buf, h.MethodIDsOff)
	writeU32(buf, h.MethodIDsSize)
	writeU32(buf, h.ClassDefsOff)
	writeU32(buf, h.ClassDefsSize)
}

func encodeFieldRef(buf *bytes.Buffer, f FieldRef) {
	writeLenPrefixed(buf, []byte(f.ClassType))
	writeLenPrefixed(buf, []byte(f.Name))
	writeLenPrefixed(buf, []byte(f.Type))
}

func encodeMethodRef(buf *bytes.Buffer, m MethodRef) {
	writeLenPrefixed(buf, []byte(m.ClassType))
	writeLenPrefixed(buf, []byte(m.Name))
	encodePrototype(buf, m.Proto)
}

func encodePrototype(buf *bytes.Buffer, p Prototype) {
	writeStrSlice(buf, p.ParamTypes)
	writeLenPrefixed(buf, []byte(p.ReturnType))
}

func encodeFieldDecl(buf *bytes.Buffer, f FieldDecl) {
	writeLenPrefixed(buf, []byte(f.Name))
	writeLenPrefixed(buf, []byte(f.Type))
	writeU32(buf, f.AccessFlags)
}

func encodeMethodDecl(buf *bytes.Buffer, m MethodDecl) {
	writeLenPrefixed(buf, []byte(m.Name))
	encodePrototype(buf, m.Proto)
	writeU32(buf, m.AccessFlags)
	if m.Code == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	encodeCode(buf, *m.Code)
}

func encodeInstruction(buf *bytes.Buffer, in Instruction) {
	writeU32(buf, uint32(in.Op))
	writeI32(buf, in.Dest)
	writeI32(buf, in.A)
	writeI32(buf, in.B)
	writeI32(buf, in.C)
	writeI64(buf, in.Lit)
	writeI32(buf, int32(in.Cmp))
	writeI32(buf, in.PoolIndex)
	writeI32Slice(buf, in.Args)
	writeI32(buf, in.Target)
	writeI32Slice(buf, in.SwitchTargets)
	writeI32Slice(buf, in.SwitchKeys)
	writeI32(buf, in.QuickIndex)
}

func encodeCatchHandler(buf *bytes.Buffer, h CatchHandler) {
	writeLenPrefixed(buf, []byte(h.ExceptionType))
	writeI32(buf, h.HandlerAddr)
}

func encodeTryItem(buf *bytes.Buffer, t TryItem) {
	writeI32(buf, t.StartAddr)
	writeI32(buf, t.EndAddr)
	writeU32(buf, uint32(len(t.Handlers)))
	for _, h := range t.Handlers {
		encodeCatchHandler(buf, h)
	}
}

func encodeCode(buf *bytes.Buffer, c Code) {
	writeU32(buf, uint32(len(c.Insns)))
	for _, in := range c.Insns {
		encodeInstruction(buf, in)
	}
	writeU32(buf, uint32(len(c.TryItems)))
	for _, t := range c.TryItems {
		encodeTryItem(buf, t)
	}
	writeI32(buf, c.RegistersSize)
	writeI32(buf, c.InsSize)
	writeI32(buf, c.OutsSize)
}

func encodeClassDef(buf *bytes.Buffer, c ClassDef) {
	writeLenPrefixed(buf, []byte(c.Name))
	writeU32(buf, c.AccessFlags)
	writeLenPrefixed(buf, []byte(c.SuperType))
	writeStrSlice(buf, c.InterfaceTypes)

	writeU32(buf, uint32(len(c.FieldRefs)))
	for _, f := range c.FieldRefs {
		encodeFieldRef(buf, f)
	}
	writeU32(buf, uint32(len(c.MethodRefs)))
	for _, m := range c.MethodRefs {
		encodeMethodRef(buf, m)
	}

	writeU32(buf, uint32(len(c.StaticFields)))
	for _, f := range c.StaticFields {
		encodeFieldDecl(buf, f)
	}
	writeU32(buf, uint32(len(c.InstanceFields)))
	for _, f := range c.InstanceFields {
		encodeFieldDecl(buf, f)
	}
	writeU32(buf, uint32(len(c.DirectMethods)))
	for _, m := range c.DirectMethods {
		encodeMethodDecl(buf, m)
	}
	writeU32(buf, uint32(len(c.VirtualMethods)))
	for _, m := range c.VirtualMethods {
		encodeMethodDecl(buf, m)
	}
}

// --- decode helpers ---

// decoder is a cursor over an encoded blob. Every read method advances pos
// and reports an error instead of panicking on a truncated or malformed
// input, mirroring the teacher's manual binary.LittleEndian cursor style
// (KTStephano-GVM's main.go/vm.go) rather than reaching for encoding/gob.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) need(n int) error {
	if d.pos+n > len(d.buf) {
		return fmt.Errorf("dex: truncated input at offset %d (need %d more bytes)", d.pos, n)
	}
	return nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) i32() (int32, error) {
	v, err := d.u32()
	return int32(v), err
}

func (d *decoder) u64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) i64() (int64, error) {
	v, err := d.u64()
	return int64(v), err
}

func (d *decoder) bytesN() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	out := append([]byte(nil), d.buf[d.pos:d.pos+int(n)]...)
	d.pos += int(n)
	return out, nil
}

func (d *decoder) str() (string, error) {
	b, err := d.bytesN()
	return string(b), err
}

func (d *decoder) strSlice() ([]string, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, n)
	for i := range out {
		s, err := d.str()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (d *decoder) i32Slice() ([]int32, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]int32, n)
	for i := range out {
		v, err := d.i32()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *decoder) header() (Header, error) {
	var h Header
	if err := d.need(headerSize); err != nil {
		return h, err
	}
	copy(h.Magic[:], d.buf[d.pos:d.pos+4])
	d.pos += 4
	var err error
	if h.Version, err = d.u32(); err != nil {
		return h, err
	}
	if h.Checksum, err = d.u32(); err != nil {
		return h, err
	}
	copy(h.Signature[:], d.buf[d.pos:d.pos+len(h.Signature)])
	d.pos += len(h.Signature)
	for _, dst := range []*uint32{
		&h.StringIDsOff, &h.StringIDsSize,
		&h.TypeIDsOff, &h.TypeIDsSize,
		&h.ProtoIDsOff, &h.ProtoIDsSize,
		&h.FieldIDsOff, &h.FieldIDsSize,
		&h.MethodIDsOff, &h.MethodIDsSize,
		&h.ClassDefsOff, &h.ClassDefsSize,
	} {
		if *dst, err = d.u32(); err != nil {
			return h, err
		}
	}
	return h, nil
}

func (d *decoder) fieldRef() (FieldRef, error) {
	var f FieldRef
	var err error
	if f.ClassType, err = d.str(); err != nil {
		return f, err
	}
	if f.Name, err = d.str(); err != nil {
		return f, err
	}
	if f.Type, err = d.str(); err != nil {
		return f, err
	}
	return f, nil
}

func (d *decoder) methodRef() (MethodRef, error) {
	var m MethodRef
	var err error
	if m.ClassType, err = d.str(); err != nil {
		return m, err
	}
	if m.Name, err = d.str(); err != nil {
		return m, err
	}
	if m.Proto, err = d.prototype(); err != nil {
		return m, err
	}
	return m, nil
}

func (d *decoder) prototype() (Prototype, error) {
	var p Prototype
	var err error
	if p.ParamTypes, err = d.strSlice(); err != nil {
		return p, err
	}
	if p.ReturnType, err = d.str(); err != nil {
		return p, err
	}
	return p, nil
}

func (d *decoder) fieldDecl() (FieldDecl, error) {
	var f FieldDecl
	var err error
	if f.Name, err = d.str(); err != nil {
		return f, err
	}
	if f.Type, err = d.str(); err != nil {
		return f, err
	}
	if f.AccessFlags, err = d.u32(); err != nil {
		return f, err
	}
	return f, nil
}

func (d *decoder) methodDecl() (MethodDecl, error) {
	var m MethodDecl
	var err error
	if m.Name, err = d.str(); err != nil {
		return m, err
	}
	if m.Proto, err = d.prototype(); err != nil {
		return m, err
	}
	if m.AccessFlags, err = d.u32(); err != nil {
		return m, err
	}
	if err := d.need(1); err != nil {
		return m, err
	}
	hasCode := d.buf[d.pos]
	d.pos++
	if hasCode == 1 {
		c, err := d.code()
		if err != nil {
			return m, err
		}
		m.Code = &c
	}
	return m, nil
}

func (d *decoder) instruction() (Instruction, error) {
	var in Instruction
	op, err := d.u32()
	if err != nil {
		return in, err
	}
	in.Op = Opcode(op)
	if in.Dest, err = d.i32(); err != nil {
		return in, err
	}
	if in.A, err = d.i32(); err != nil {
		return in, err
	}
	if in.B, err = d.i32(); err != nil {
		return in, err
	}
	if in.C, err = d.i32(); err != nil {
		return in, err
	}
	if in.Lit, err = d.i64(); err != nil {
		return in, err
	}
	cmp, err := d.i32()
	if err != nil {
		return in, err
	}
	in.Cmp = CompareOp(cmp)
	if in.PoolIndex, err = d.i32(); err != nil {
		return in, err
	}
	if in.Args, err = d.i32Slice(); err != nil {
		return in, err
	}
	if in.Target, err = d.i32(); err != nil {
		return in, err
	}
	if in.SwitchTargets, err = d.i32Slice(); err != nil {
		return in, err
	}
	if in.SwitchKeys, err = d.i32Slice(); err != nil {
		return in, err
	}
	if in.QuickIndex, err = d.i32(); err != nil {
		return in, err
	}
	return in, nil
}

func (d *decoder) catchHandler() (CatchHandler, error) {
	var h CatchHandler
	var err error
	if h.ExceptionType, err = d.str(); err != nil {
		return h, err
	}
	if h.HandlerAddr, err = d.i32(); err != nil {
		return h, err
	}
	return h, nil
}

func (d *decoder) tryItem() (TryItem, error) {
	var t TryItem
	var err error
	if t.StartAddr, err = d.i32(); err != nil {
		return t, err
	}
	if t.EndAddr, err = d.i32(); err != nil {
		return t, err
	}
	n, err := d.u32()
	if err != nil {
		return t, err
	}
	if n > 0 {
		t.Handlers = make([]CatchHandler, n)
		for i := range t.Handlers {
			h, err := d.catchHandler()
			if err != nil {
				return t, err
			}
			t.Handlers[i] = h
		}
	}
	return t, nil
}

func (d *decoder) code() (Code, error) {
	var c Code
	n, err := d.u32()
	if err != nil {
		return c, err
	}
	if n > 0 {
		c.Insns = make([]Instruction, n)
		for i := range c.Insns {
			in, err := d.instruction()
			if err != nil {
				return c, err
			}
			c.Insns[i] = in
		}
	}
	n, err = d.u32()
	if err != nil {
		return c, err
	}
	if n > 0 {
		c.TryItems = make([]TryItem, n)
		for i := range c.TryItems {
			t, err := d.tryItem()
			if err != nil {
				return c, err
			}
			c.TryItems[i] = t
		}
	}
	if c.RegistersSize, err = d.i32(); err != nil {
		return c, err
	}
	if c.InsSize, err = d.i32(); err != nil {
		return c, err
	}
	if c.OutsSize, err = d.i32(); err != nil {
		return c, err
	}
	return c, nil
}

func (d *decoder) fieldDeclSlice(n uint32) ([]FieldDecl, error) {
	if n == 0 {
		return nil, nil
	}
	out := make([]FieldDecl, n)
	for i := range out {
		f, err := d.fieldDecl()
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func (d *decoder) methodDeclSlice(n uint32) ([]MethodDecl, error) {
	if n == 0 {
		return nil, nil
	}
	out := make([]MethodDecl, n)
	for i := range out {
		m, err := d.methodDecl()
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

func (d *decoder) classDef() (ClassDef, error) {
	var c ClassDef
	var err error
	if c.Name, err = d.str(); err != nil {
		return c, err
	}
	if c.AccessFlags, err = d.u32(); err != nil {
		return c, err
	}
	if c.SuperType, err = d.str(); err != nil {
		return c, err
	}
	if c.InterfaceTypes, err = d.strSlice(); err != nil {
		return c, err
	}

	n, err := d.u32()
	if err != nil {
		return c, err
	}
	if n > 0 {
		c.FieldRefs = make([]FieldRef, n)
		for i := range c.FieldRefs {
			f, err := d.fieldRef()
			if err != nil {
				return c, err
			}
			c.FieldRefs[i] = f
		}
	}
	n, err = d.u32()
	if err != nil {
		return c, err
	}
	if n > 0 {
		c.MethodRefs = make([]MethodRef, n)
		for i := range c.MethodRefs {
			m, err := d.methodRef()
			if err != nil {
				return c, err
			}
			c.MethodRefs[i] = m
		}
	}

	if n, err = d.u32(); err != nil {
		return c, err
	}
	if c.StaticFields, err = d.fieldDeclSlice(n); err != nil {
		return c, err
	}
	if n, err = d.u32(); err != nil {
		return c, err
	}
	if c.InstanceFields, err = d.fieldDeclSlice(n); err != nil {
		return c, err
	}
	if n, err = d.u32(); err != nil {
		return c, err
	}
	if c.DirectMethods, err = d.methodDeclSlice(n); err != nil {
		return c, err
	}
	if n, err = d.u32(); err != nil {
		return c, err
	}
	if c.VirtualMethods, err = d.methodDeclSlice(n); err != nil {
		return c, err
	}
	return c, nil
}
