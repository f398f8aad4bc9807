// Package discovery finds and decodes image files for pipeline runs.
// Files are matched against doublestar include/exclude globs relative
// to the walk root; the word for each image is taken from its parent
// directory, matching the one-directory-per-word layout produced by
// image collectors.
package discovery

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ImageFile is one discovered image.
type ImageFile struct {
	// Path is the absolute file path.
	Path string

	// Rel is the path relative to the walk root, slash-separated.
	Rel string

	// Word is the raw label derived from the parent directory name,
	// or the file stem for images directly under the root. It is not
	// normalized; the pipeline does that.
	Word string

	// Size is the file size in bytes.
	Size int64
}

// Walker matches files against include and exclude globs.
type Walker struct {
	includes []string
	excludes []string
}

// NewWalker creates a walker. An empty include list matches every
// file.
func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

// Walk returns the images under root that match the globs, in walk
// order. Excluded directories are skipped without descending.
func (w *Walker) Walk(root string) ([]ImageFile, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var files []ImageFile
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if rel != "." && w.shouldExclude(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if w.shouldInclude(rel) && !w.shouldExclude(rel) {
			files = append(files, ImageFile{
				Path: path,
				Rel:  rel,
				Word: wordFor(rel),
				Size: info.Size(),
			})
		}

		return nil
	})

	return files, err
}

func (w *Walker) shouldInclude(path string) bool {
	for _, pattern := range w.includes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// wordFor derives the label for a relative image path. Images live in
// one directory per word; a file directly under the root falls back
// to its own stem.
func wordFor(rel string) string {
	dir := filepath.Dir(filepath.FromSlash(rel))
	if dir != "." {
		return filepath.Base(dir)
	}
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
