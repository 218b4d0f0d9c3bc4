package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadResolvesAndDedupes(t *testing.T) {
	m, err := Load(filepath.Join("testdata", "museum.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://cdn.museum.local/models/hall/A.glb",
		"https://cdn.museum.local/models/hall/B.glb",
		"https://mirror.museum.local/C.glb",
	}, m.Assets)
	assert.Equal(t, 3, m.Len())
}

func TestParseRejectsBlankEntry(t *testing.T) {
	_, err := Parse([]byte("baseURL: https://cdn.example.org/\nassets:\n  - a.glb\n  - '  '\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlankAsset)
}

func TestParseRelativeWithoutBase(t *testing.T) {
	_, err := Parse([]byte("assets:\n  - hall/A.glb\n"))
	assert.Error(t, err)
}

func TestParseRejectsNonHTTPBase(t *testing.T) {
	_, err := Parse([]byte("baseURL: ftp://cdn.example.org/\nassets: []\n"))
	assert.Error(t, err)
}

func TestParseEmptyManifest(t *testing.T) {
	m, err := Parse([]byte("assets: []\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFromURLs(t *testing.T) {
	m, err := FromURLs("https://x/A.glb", "https://x/B.glb", "https://x/A.glb")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/A.glb", "https://x/B.glb"}, m.Assets)

	_, err = FromURLs("https://x/A.glb", "")
	assert.ErrorIs(t, err, ErrBlankAsset)

	var nilManifest *Manifest
	assert.Equal(t, 0, nilManifest.Len())
}
