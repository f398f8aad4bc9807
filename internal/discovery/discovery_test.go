package discovery

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestWalkWordPerDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sunset", "a.jpg"))
	writeFile(t, filepath.Join(root, "sunset", "b.png"))
	writeFile(t, filepath.Join(root, "ocean", "deep", "c.jpg"))
	writeFile(t, filepath.Join(root, "loose.jpg"))
	writeFile(t, filepath.Join(root, "notes.txt"))

	w := NewWalker([]string{"**/*.jpg", "**/*.png"}, nil)
	files, err := w.Walk(root)
	require.NoError(t, err)
	require.Len(t, files, 4)

	words := map[string]string{}
	for _, f := range files {
		words[f.Rel] = f.Word
		assert.True(t, filepath.IsAbs(f.Path))
		assert.Positive(t, f.Size)
	}

	assert.Equal(t, "sunset", words["sunset/a.jpg"])
	assert.Equal(t, "sunset", words["sunset/b.png"])
	assert.Equal(t, "deep", words["ocean/deep/c.jpg"])
	assert.Equal(t, "loose", words["loose.jpg"])
}

func TestWalkExcludesDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep", "a.jpg"))
	writeFile(t, filepath.Join(root, ".huevec", "cache.jpg"))
	writeFile(t, filepath.Join(root, "skip", "b.jpg"))

	w := NewWalker([]string{"**/*.jpg"}, []string{"**/.huevec/**", "skip/"})
	files, err := w.Walk(root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "keep/a.jpg", files[0].Rel)
}

func TestWalkDefaultsToEverything(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "w", "a.bin"))

	w := NewWalker(nil, nil)
	files, err := w.Walk(root)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestDecodeFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "red.png")

	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			src.Set(x, y, color.NRGBA{R: 200, G: 10, B: 30, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, src))
	require.NoError(t, f.Close())

	img, err := DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, img.W)
	assert.Equal(t, 2, img.H)
	require.NoError(t, img.Validate())
	assert.Equal(t, uint8(200), img.Pix[0])
	assert.Equal(t, uint8(10), img.Pix[1])
	assert.Equal(t, uint8(30), img.Pix[2])
}

func TestDecodeFileMissing(t *testing.T) {
	_, err := DecodeFile(filepath.Join(t.TempDir(), "absent.png"))
	assert.Error(t, err)
}

func TestDecodeFileNotAnImage(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "junk.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0644))

	_, err := DecodeFile(path)
	assert.Error(t, err)
}
