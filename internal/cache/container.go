// Package cache implements the versioned cache container protocol of
// spec.md §4.5 and §6: an opt-header, the prepared image, a
// boot-classpath dependency manifest, and an opt-data region, guarded by
// an exclusive advisory lock and an inode-based staleness check so a
// concurrent rebuild can safely replace the file out from under a reader
// that already has it open.
//
// Locking and the inode-race check are grounded on
// original_source/dalvik/vm/analysis/DexPrepare.c's dexOpenOptimizedDex
// family (flock + fstat-by-inode-after-lock) translated onto
// golang.org/x/sys/unix the way ymm135-go's go.mod pulls in that module
// for raw file-descriptor operations the standard os package doesn't
// expose.
package cache

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"golang.org/x/sys/unix"
)

// Magic identifies a cache container file, distinct from the inbound
// image's own Magic (spec.md §6 keeps the two formats separate: an image
// on its own is never a valid container).
var Magic = [4]byte{'d', 'c', 'a', 'c'}

const CurrentVersion uint32 = 1

// DepEntry is one boot-classpath dependency the cached image was
// prepared against: its path and its source file's mtime and CRC. The VM
// build number active at preparation time is recorded once, on Manifest.
type DepEntry struct {
	Path    string
	ModTime int64
	CRC     uint32
}

// Manifest is the full dependency record: the boot-classpath entries plus
// the VM build number, hashed together into a single SHA1 key so the
// whole manifest can be compared in one shot (spec.md §6, "boot-classpath
// dependency manifest... SHA1-keyed").
type Manifest struct {
	VMBuildNumber uint32
	BootClasspath []DepEntry
}

// Key computes the manifest's SHA1 digest over its canonical encoding.
func (m *Manifest) Key() [sha1.Size]byte {
	return sha1.Sum(m.encode())
}

func (m *Manifest) encode() []byte {
	var buf bytes.Buffer
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], m.VMBuildNumber)
	buf.Write(tmp[:4])
	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(m.BootClasspath)))
	buf.Write(tmp[:4])
	for _, e := range m.BootClasspath {
		binary.LittleEndian.PutUint32(tmp[:4], uint32(len(e.Path)))
		buf.Write(tmp[:4])
		buf.WriteString(e.Path)
		binary.LittleEndian.PutUint64(tmp[:], uint64(e.ModTime))
		buf.Write(tmp[:])
		binary.LittleEndian.PutUint32(tmp[:4], e.CRC)
		buf.Write(tmp[:4])
	}
	return buf.Bytes()
}

// Header is the container's fixed-size prefix.
type Header struct {
	Magic        [4]byte
	Version      uint32
	ManifestKey  [sha1.Size]byte
	ImageOffset  uint32
	ImageSize    uint32
	DepsOffset   uint32
	DepsSize     uint32
	OptDataOffset uint32
	OptDataSize   uint32
	Checksum     uint32 // CRC32 over deps+opt-data regions
}

const headerSize = 4 + 4 + sha1.Size + 4*6 + 4

func encodeHeader(h Header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	copy(buf[8:8+sha1.Size], h.ManifestKey[:])
	o := 8 + sha1.Size
	binary.LittleEndian.PutUint32(buf[o:o+4], h.ImageOffset)
	binary.LittleEndian.PutUint32(buf[o+4:o+8], h.ImageSize)
	binary.LittleEndian.PutUint32(buf[o+8:o+12], h.DepsOffset)
	binary.LittleEndian.PutUint32(buf[o+12:o+16], h.DepsSize)
	binary.LittleEndian.PutUint32(buf[o+16:o+20], h.OptDataOffset)
	binary.LittleEndian.PutUint32(buf[o+20:o+24], h.OptDataSize)
	binary.LittleEndian.PutUint32(buf[o+24:o+28], h.Checksum)
	return buf
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, fmt.Errorf("cache header truncated: %d bytes", len(b))
	}
	var h Header
	copy(h.Magic[:], b[0:4])
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("bad cache magic %q", h.Magic)
	}
	h.Version = binary.LittleEndian.Uint32(b[4:8])
	copy(h.ManifestKey[:], b[8:8+sha1.Size])
	o := 8 + sha1.Size
	h.ImageOffset = binary.LittleEndian.Uint32(b[o : o+4])
	h.ImageSize = binary.LittleEndian.Uint32(b[o+4 : o+8])
	h.DepsOffset = binary.LittleEndian.Uint32(b[o+8 : o+12])
	h.DepsSize = binary.LittleEndian.Uint32(b[o+12 : o+16])
	h.OptDataOffset = binary.LittleEndian.Uint32(b[o+16 : o+20])
	h.OptDataSize = binary.LittleEndian.Uint32(b[o+20 : o+24])
	h.Checksum = binary.LittleEndian.Uint32(b[o+24 : o+28])
	return h, nil
}

// Container is an open cache file: its header plus the raw file handle,
// still exclusively locked, ready for either Read or a Write that
// replaces it.
type Container struct {
	f      *os.File
	path   string
	header Header
	inode  uint64
}

// Open acquires an exclusive advisory lock on path (blocking), then
// validates the header and manifest key against want. A zero-length file
// (the "new, not yet written" signal spec.md §6 names) or a manifest
// mismatch both return (nil, ErrStale) rather than an error: the caller is
// expected to rebuild and call Create.
func Open(path string, want *Manifest) (*Container, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() == 0 {
		f.Close()
		return nil, ErrStale
	}

	buf := make([]byte, headerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, err
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		f.Close()
		return nil, ErrStale
	}
	if want != nil && hdr.ManifestKey != want.Key() {
		f.Close()
		return nil, ErrStale
	}

	st, ok := fi.Sys().(*statT)
	var inode uint64
	if ok {
		inode = st.Ino
	}
	return &Container{f: f, path: path, header: hdr, inode: inode}, nil
}

// ErrStale is returned by Open when the on-disk container is absent,
// empty, or built against a different dependency manifest.
var ErrStale = fmt.Errorf("cache stale or absent")

// StillCurrent stats the container's path and reports whether the inode
// found there still matches the one Open observed on its descriptor —
// false means another process has unlinked-and-replaced the file since
// (spec.md §6's inode-based race detection), and this Container's bytes
// must not be trusted any further.
func (c *Container) StillCurrent() bool {
	fi, err := os.Stat(c.path)
	if err != nil {
		return false
	}
	st, ok := fi.Sys().(*statT)
	if !ok {
		return true // platform without inode info: best effort
	}
	return st.Ino == c.inode
}

// ReadImage returns the container's image-region bytes.
func (c *Container) ReadImage() ([]byte, error) {
	buf := make([]byte, c.header.ImageSize)
	_, err := c.f.ReadAt(buf, int64(c.header.ImageOffset))
	return buf, err
}

// Close releases the lock and file handle.
func (c *Container) Close() error {
	unix.Flock(int(c.f.Fd()), unix.LOCK_UN)
	return c.f.Close()
}

// Create builds a brand new container at path: unlinks any existing file
// first (so a concurrent reader that already opened it keeps its own,
// now-orphaned, inode instead of seeing a half-written replacement), then
// writes deps+image+opt-data and the header, in that order, finishing
// with an fsync before the lock is released.
func Create(path string, manifest *Manifest, image, optData []byte) error {
	_ = os.Remove(path) // unlink-before-truncate: see package doc

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("flock %s: %w", path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	deps := manifest.encode()

	depsOff := uint32(headerSize)
	imageOff := depsOff + uint32(len(deps))
	optOff := imageOff + uint32(len(image))

	hdr := Header{
		Magic:         Magic,
		Version:       CurrentVersion,
		ManifestKey:   manifest.Key(),
		DepsOffset:    depsOff,
		DepsSize:      uint32(len(deps)),
		ImageOffset:   imageOff,
		ImageSize:     uint32(len(image)),
		OptDataOffset: optOff,
		OptDataSize:   uint32(len(optData)),
	}
	hdr.Checksum = crc32.ChecksumIEEE(append(append([]byte{}, deps...), optData...))

	if _, err := f.WriteAt(deps, int64(depsOff)); err != nil {
		return err
	}
	if _, err := f.WriteAt(image, int64(imageOff)); err != nil {
		return err
	}
	if len(optData) > 0 {
		if _, err := f.WriteAt(optData, int64(optOff)); err != nil {
			return err
		}
	}
	if _, err := f.WriteAt(encodeHeader(hdr), 0); err != nil {
		return err
	}
	return f.Sync()
}
