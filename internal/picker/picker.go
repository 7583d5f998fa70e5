// Package picker selects PDF files for upload. It plays the role of a native
// multi-file dialog with an ".pdf" accept filter.
package picker

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extension is the only file extension a picker accepts.
const Extension = ".pdf"

// File is one picked document.
type File struct {
	Name  string
	Size  int64
	Pages int // 0 when the document could not be inspected

	open func() (io.ReadCloser, error)
}

// Open returns a reader over the file's bytes.
func (f File) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %s has no content", f.Name)
	}
	return f.open()
}

// NewFile builds a File from an opener, mainly for callers that already hold
// the content.
func NewFile(name string, size int64, open func() (io.ReadCloser, error)) File {
	return File{Name: name, Size: size, open: open}
}

// Picker yields the user's selection. An empty selection is not an error.
type Picker interface {
	Pick(ctx context.Context) ([]File, error)
}

// Accepts reports whether the accept filter lets name through.
func Accepts(name string) bool {
	return strings.EqualFold(filepath.Ext(name), Extension)
}

// Paths picks files named on a command line. Each argument is either a path
// or a glob pattern; arguments keep their order and the matches of a single
// pattern are sorted. Non-PDF names and directories are silently skipped,
// like entries greyed out by a dialog's filter.
type Paths []string

func (p Paths) Pick(ctx context.Context) ([]File, error) {
	var files []File
	for _, arg := range p {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		matches := []string{arg}
		if hasMeta(arg) {
			m, err := filepath.Glob(arg)
			if err != nil {
				return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
			}
			sort.Strings(m)
			matches = m
		}

		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", path, err)
			}
			if info.IsDir() || !Accepts(path) {
				continue
			}
			f := File{
				Name: filepath.Base(path),
				Size: info.Size(),
				open: func() (io.ReadCloser, error) { return os.Open(path) },
			}
			f.Pages = Inspect(path)
			files = append(files, f)
		}
	}
	return files, nil
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, `*?[`)
}

// Multipart picks the files a browser posted under one form field.
type Multipart []*multipart.FileHeader

func (m Multipart) Pick(ctx context.Context) ([]File, error) {
	var files []File
	for _, fh := range m {
		name := sanitizeFilename(fh.Filename)
		if !Accepts(name) {
			continue
		}
		f := File{
			Name: name,
			Size: fh.Size,
			open: func() (io.ReadCloser, error) { return fh.Open() },
		}
		if src, err := fh.Open(); err == nil {
			f.Pages = InspectReader(src, fh.Size)
			src.Close()
		}
		files = append(files, f)
	}
	return files, nil
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
