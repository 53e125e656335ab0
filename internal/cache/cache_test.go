package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() *Manifest {
	return &Manifest{
		VMBuildNumber: 7,
		BootClasspath: []DepEntry{
			{Path: "core.dex", ModTime: 1000, CRC: 0xdeadbeef},
			{Path: "framework.dex", ModTime: 2000, CRC: 0xcafef00d},
		},
	}
}

func TestManifestKeyStableAndSensitiveToContent(t *testing.T) {
	a := sampleManifest()
	b := sampleManifest()
	assert.Equal(t, a.Key(), b.Key())

	b.BootClasspath[0].CRC++
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestCreateThenOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	manifest := sampleManifest()
	image := []byte("prepared image bytes")
	optData := []byte("opt data bytes")

	require.NoError(t, Create(path, manifest, image, optData))

	c, err := Open(path, manifest)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.ReadImage()
	require.NoError(t, err)
	assert.Equal(t, image, got)
	assert.True(t, c.StillCurrent())
}

func TestCreateWithEmptyOptData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	manifest := sampleManifest()
	image := []byte("image only")

	require.NoError(t, Create(path, manifest, image, nil))

	c, err := Open(path, manifest)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.ReadImage()
	require.NoError(t, err)
	assert.Equal(t, image, got)
}

func TestOpenReturnsErrStaleOnZeroLengthFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path, sampleManifest())
	assert.ErrorIs(t, err, ErrStale)
}

func TestOpenReturnsErrStaleOnManifestMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	require.NoError(t, Create(path, sampleManifest(), []byte("image"), nil))

	other := &Manifest{VMBuildNumber: 99, BootClasspath: []DepEntry{{Path: "other.dex", ModTime: 1, CRC: 1}}}
	_, err := Open(path, other)
	assert.ErrorIs(t, err, ErrStale)
}

func TestOpenAcceptsNilWantManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	manifest := sampleManifest()
	require.NoError(t, Create(path, manifest, []byte("image"), nil))

	c, err := Open(path, nil)
	require.NoError(t, err)
	defer c.Close()
}

func TestStillCurrentFalseAfterUnlinkAndReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	manifest := sampleManifest()
	require.NoError(t, Create(path, manifest, []byte("first image"), nil))

	c, err := Open(path, manifest)
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.StillCurrent())

	require.NoError(t, Create(path, manifest, []byte("second image, different length"), nil))
	assert.False(t, c.StillCurrent())

	c2, err := Open(path, manifest)
	require.NoError(t, err)
	defer c2.Close()
	got, err := c2.ReadImage()
	require.NoError(t, err)
	assert.Equal(t, []byte("second image, different length"), got)
}
