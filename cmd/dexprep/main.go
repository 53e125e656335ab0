// Command dexprep is the cache-build subprocess spec.md §6 describes: it
// is invoked with a fixed positional argument list (builder path, the
// literal "--dex", the VM build number, the cache file descriptor,
// image offset/length, source name/mtime/CRC, a feature flag word, then
// one argument per boot classpath entry), prepares (links, verifies,
// rewrites) the referenced image, writes the cache container, and exits
// zero on success or non-zero (with the cache left discarded) on any
// failure.
//
// Flag parsing follows KTStephano-GVM's main.go idiom: flag.Bool
// variables declared at package scope, parsed once from init, with the
// builder's own positional arguments read out of flag.Args() afterward
// rather than given named flags of their own (the contract is
// positional, not flag-based, so only --dex is recognized by the flag
// package itself; everything after it is read positionally).
package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"dexprep/internal/cache"
	"dexprep/internal/classfile"
	"dexprep/internal/classsync"
	"dexprep/internal/dex"
	"dexprep/internal/linker"
	"dexprep/internal/mutf8"
	"dexprep/internal/rewriter"
	"dexprep/internal/verifier"
	"dexprep/internal/verrors"
	"dexprep/internal/vmcontext"
)

// classpoolResolver is everything a per-class resolver from
// vmcontext.ClassTable.ResolverFor provides: the verifier's register-type
// lattice and constant-pool questions, plus the rewriter's field-offset/
// vtable-index questions. One concrete value satisfies all three, so
// verification and rewriting of a class share a single resolver.
type classpoolResolver interface {
	verifier.Resolver
	rewriter.FieldResolver
	rewriter.MethodResolver
}

var (
	dexMode = flag.Bool("dex", false, "run the cache-build subprocess contract (always set by the parent VM)")
)

func init() {
	flag.Parse()
}

// flagBits mirrors spec.md §6's cache-build flag word bit layout.
type flagBits uint32

const (
	flagVerifyEnabled flagBits = 1 << iota
	flagVerifyAll
	flagOptimizeEnabled
	flagOptimizeAll
	flagBootstrap
	flagGenerateRegisterMaps
)

func (f flagBits) has(bit flagBits) bool { return f&bit != 0 }

// BootRootEnv names the environment variable that identifies the VM
// install root (spec.md §6, "one path variable identifies the VM install
// root").
const BootRootEnv = "DEXPREP_VM_ROOT"

func main() {
	os.Exit(run(flag.Args()))
}

func run(args []string) int {
	if !*dexMode || len(args) < 7 {
		fmt.Fprintln(os.Stderr, "usage: dexprep --dex <vmBuildNumber> <cacheFD> <imageOffset> <imageLength> <srcName> <srcMtime> <srcCRC> <flagWord> [bootClasspathEntry ...]")
		return 2
	}

	buildNumber, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad VM build number:", err)
		return 1
	}
	cacheFD, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad cache fd:", err)
		return 1
	}
	imageOffset, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad image offset:", err)
		return 1
	}
	imageLength, err := strconv.ParseUint(args[3], 10, 32)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad image length:", err)
		return 1
	}
	srcName := args[4]
	srcMtime, err := strconv.ParseInt(args[5], 10, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad source mtime:", err)
		return 1
	}
	srcCRC, err := strconv.ParseUint(args[6], 10, 32)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad source CRC:", err)
		return 1
	}
	var flagWord flagBits
	if len(args) >= 8 {
		v, err := strconv.ParseUint(args[7], 10, 32)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad flag word:", err)
			return 1
		}
		flagWord = flagBits(v)
	}

	bootClasspath, err := parseBootClasspath(bootClasspathArgs(args))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cacheFile := os.NewFile(uintptr(cacheFD), "cache")
	if cacheFile == nil {
		fmt.Fprintln(os.Stderr, "cache fd", cacheFD, "is not open")
		return 1
	}

	img, err := readImageFrom(cacheFile, imageOffset, imageLength)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read image:", err)
		return 1
	}

	ctx := vmcontext.NewContext(vmcontext.BootConfig{
		BootClasspath: bootClasspath,
		VMBuildNumber: uint32(buildNumber),
	})

	classes, err := prepareImage(ctx, img, flagWord)
	if err != nil {
		fmt.Fprintln(os.Stderr, "prepare failed:", err)
		return 1
	}

	manifest := &cache.Manifest{
		VMBuildNumber: uint32(buildNumber),
		BootClasspath: depEntries(bootClasspath, srcName, srcMtime, uint32(srcCRC)),
	}
	out := dex.Encode(img)
	if err := cache.Create(srcName+".dexcache", manifest, out, buildOptData(classes)); err != nil {
		fmt.Fprintln(os.Stderr, "write cache:", err)
		return 1
	}

	return 0
}

// buildOptData serializes every verified method's register map into the
// cache's opt-data region (spec.md §6's opaque opt-data blob), using the
// same manual encoding/binary.LittleEndian cursor style as dex/codec.go
// and cache/container.go rather than encoding/gob.
//
// Layout: u32 method count, then per method a length-prefixed owning
// class name, a length-prefixed method name, a u32 GC-point count, and
// per GC point a u32 address plus a u64 live-reference bitmap.
func buildOptData(classes []*classfile.Class) []byte {
	type mapped struct {
		class  string
		method string
		rm     *classfile.RegisterMap
	}
	var entries []mapped
	for _, c := range classes {
		all := append(append([]*classfile.Method{}, c.DirectMethods...), c.VirtualMethods...)
		for _, m := range all {
			if m.RegisterMap != nil {
				entries = append(entries, mapped{c.Name, m.Name, m.RegisterMap})
			}
		}
	}

	var buf bytes.Buffer
	writeOptU32(&buf, uint32(len(entries)))
	for _, e := range entries {
		writeOptStr(&buf, e.class)
		writeOptStr(&buf, e.method)
		writeOptU32(&buf, uint32(len(e.rm.GCPointAddrs)))
		for i, addr := range e.rm.GCPointAddrs {
			writeOptU32(&buf, uint32(addr))
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], e.rm.LiveRefBits[i])
			buf.Write(tmp[:])
		}
	}
	return buf.Bytes()
}

func writeOptU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeOptStr(buf *bytes.Buffer, s string) {
	writeOptU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func bootClasspathArgs(args []string) []string {
	if len(args) <= 8 {
		return nil
	}
	return args[8:]
}

// parseBootClasspath validates spec.md §6's boot classpath rule: every
// entry must be an absolute path, and "." is rejected outright.
func parseBootClasspath(entries []string) ([]string, error) {
	var out []string
	for _, e := range entries {
		if e == "." {
			return nil, fmt.Errorf("boot classpath entry %q rejected", e)
		}
		if !strings.HasPrefix(e, "/") {
			return nil, fmt.Errorf("boot classpath entry %q is not absolute", e)
		}
		out = append(out, e)
	}
	return out, nil
}

func depEntries(bootClasspath []string, srcName string, srcMtime int64, srcCRC uint32) []cache.DepEntry {
	out := []cache.DepEntry{{Path: srcName, ModTime: srcMtime, CRC: srcCRC}}
	for _, p := range bootClasspath {
		out = append(out, cache.DepEntry{Path: p})
	}
	return out
}

func readImageFrom(f *os.File, offset, length uint64) (*dex.Image, error) {
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, err
	}
	return dex.Decode(buf)
}

// prepareImage runs the link -> verify -> rewrite pipeline over every
// class in img, in the order the image lists them. Classes are not
// reordered: a class whose superclass or interface appears later in the
// image (or not at all) fails to link with NoClassDef and is left in
// StateError.
func prepareImage(ctx *vmcontext.Context, img *dex.Image, flagWord flagBits) ([]*classfile.Class, error) {
	loader := classfile.LoaderHandle(0) // the single bootstrap loader, for a cache-build subprocess
	var classes []*classfile.Class

	for _, cd := range img.Classes {
		if err := validateClassDef(cd); err != nil {
			return nil, err
		}

		c, err := ctx.Classes.Reserve(loader, cd.Name)
		if err != nil {
			return nil, err
		}
		c.SuperType = cd.SuperType
		c.InterfaceTypes = cd.InterfaceTypes
		c.AccessFlags = cd.AccessFlags
		c.FieldRefs = cd.FieldRefs
		c.MethodRefs = cd.MethodRefs
		for _, fd := range cd.InstanceFields {
			c.IFields = append(c.IFields, &classfile.Field{Owner: c.Self, Name: fd.Name, Type: fd.Type, AccessFlags: fd.AccessFlags})
		}
		for i, fd := range cd.StaticFields {
			c.SFields = append(c.SFields, &classfile.Field{Owner: c.Self, Name: fd.Name, Type: fd.Type, AccessFlags: fd.AccessFlags, StaticSlot: int32(i)})
		}
		for _, md := range cd.DirectMethods {
			c.DirectMethods = append(c.DirectMethods, toMethod(c, md))
		}
		for _, md := range cd.VirtualMethods {
			c.VirtualMethods = append(c.VirtualMethods, toMethod(c, md))
		}
		c.State = classfile.Loaded
		classes = append(classes, c)
	}

	for _, c := range classes {
		if lerr := linker.Link(ctx, c); lerr != nil {
			c.State = classfile.StateError
			c.Err = lerr
		}
	}

	if flagWord.has(flagVerifyEnabled) {
		for _, c := range classes {
			if c.State != classfile.Resolved {
				continue
			}
			// Constant-pool indices are class-scoped, so verification (and
			// the rewrite pass immediately following it) each need their own
			// resolver bound to c, not the table-wide regtype.ClassResolver.
			resolver := ctx.Classes.ResolverFor(c)
			if err := verifyClass(c, resolver, flagWord); err != nil {
				c.State = classfile.StateError
				c.Err = err
				continue
			}
			c.State = classfile.Verified
		}
	}
	return classes, nil
}

// verifyClass runs the method verifier over every method of c, holding
// an init monitor for the duration. The monitor is created by this call
// and is not stored on c, so it does not exclude a concurrent verifyClass
// of the same class from another goroutine.
func verifyClass(c *classfile.Class, resolver classpoolResolver, flagWord flagBits) *verrors.Error {
	mon := classsync.NewMonitor(classfile.Resolved)
	should, verr := mon.EnterInit(1)
	if verr != nil {
		return verr
	}
	if !should {
		return nil
	}

	policy := verifier.Policy{
		AllowDeferral:   !flagWord.has(flagBootstrap),
		EmitRegisterMap: flagWord.has(flagGenerateRegisterMaps),
	}

	methods := append(append([]*classfile.Method{}, c.DirectMethods...), c.VirtualMethods...)
	for _, m := range methods {
		if flagWord.has(flagVerifyAll) || !m.IsNative() {
			res, err := verifier.Verify(m, resolver, policy)
			if err != nil {
				mon.FinishInit(false)
				return err
			}
			if res != nil {
				m.RegisterMap = res.RegisterMap
				if flagWord.has(flagOptimizeEnabled) {
					rewriteMethod(m, resolver, res, flagWord)
				}
			}
		}
	}
	mon.FinishInit(true)
	return nil
}

// rewriteMethod runs spec.md §4.4's post-verification quickening pass
// immediately after m verifies successfully: res.Deferred becomes
// throw-verification-error substitutions, and (when flagOptimizeAll is
// also set) field offsets and vtable indices get inlined directly into
// the instruction stream.
func rewriteMethod(m *classfile.Method, resolver classpoolResolver, res *verifier.Result, flagWord flagBits) {
	deferred := make(map[int32]*verrors.DeferredError, len(res.Deferred))
	for _, d := range res.Deferred {
		deferred[d.Addr] = d.Err
	}
	rewriter.Rewrite(m, rewriter.Options{
		Fields:             resolver,
		Methods:            resolver,
		EnableSMPEssential: true,
		EnableNonEssential: flagWord.has(flagOptimizeAll),
		DeferredErrors:     deferred,
	})
}

// validateClassDef runs the MUTF-8 member-name and type-descriptor sanity
// checks spec.md §6 requires before a class-def's names are trusted by the
// linker or verifier: a malformed name is a ClassFormatError, not a later,
// more confusing resolution failure.
func validateClassDef(cd dex.ClassDef) error {
	if !strings.HasPrefix(cd.Name, "L") || !mutf8.ValidTypeDescriptor([]byte(cd.Name)) {
		return verrors.NewRef(verrors.ClassFormatError, "invalid class name", cd.Name)
	}
	if cd.SuperType != "" && !mutf8.ValidTypeDescriptor([]byte(cd.SuperType)) {
		return verrors.NewRef(verrors.ClassFormatError, "invalid super type descriptor", cd.SuperType)
	}
	for _, ifaceType := range cd.InterfaceTypes {
		if !mutf8.ValidTypeDescriptor([]byte(ifaceType)) {
			return verrors.NewRef(verrors.ClassFormatError, "invalid interface type descriptor", ifaceType)
		}
	}
	for _, fields := range [][]dex.FieldDecl{cd.StaticFields, cd.InstanceFields} {
		for _, fd := range fields {
			if !mutf8.ValidMemberName([]byte(fd.Name)) {
				return verrors.NewRef(verrors.ClassFormatError, "invalid field name", fd.Name)
			}
			if !mutf8.ValidTypeDescriptor([]byte(fd.Type)) {
				return verrors.NewRef(verrors.ClassFormatError, "invalid field type descriptor", fd.Type)
			}
		}
	}
	for _, methods := range [][]dex.MethodDecl{cd.DirectMethods, cd.VirtualMethods} {
		for _, md := range methods {
			if !mutf8.ValidMemberName([]byte(md.Name)) {
				return verrors.NewRef(verrors.ClassFormatError, "invalid method name", md.Name)
			}
		}
	}
	return nil
}

func toMethod(c *classfile.Class, md dex.MethodDecl) *classfile.Method {
	m := &classfile.Method{
		Name:        md.Name,
		AccessFlags: md.AccessFlags,
		Owner:       c.Self,
		Code:        md.Code,
		Proto:       md.Proto,
	}
	if md.Code != nil {
		m.RegistersSize = md.Code.RegistersSize
		m.InsSize = md.Code.InsSize
		m.OutsSize = md.Code.OutsSize
	}
	return m
}
