package picker

import (
	"io"

	pdflib "github.com/ledongthuc/pdf"
)

// Inspect returns the page count of the PDF at path, or 0 when the file
// cannot be read as a PDF. Unreadable files stay selectable; the service is
// the one that decides whether it can extract text from them.
func Inspect(path string) (pages int) {
	defer func() {
		// ledongthuc/pdf panics on some malformed xref tables.
		if recover() != nil {
			pages = 0
		}
	}()

	f, reader, err := pdflib.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	return reader.NumPage()
}

// InspectReader is Inspect for content that is already open.
func InspectReader(r io.ReaderAt, size int64) (pages int) {
	defer func() {
		if recover() != nil {
			pages = 0
		}
	}()

	reader, err := pdflib.NewReader(r, size)
	if err != nil {
		return 0
	}
	return reader.NumPage()
}
