// Package extracttest builds small, well-formed PDFs for engine and pipeline tests.
package extracttest

import (
	"bytes"
	"fmt"
)

// HelloPDF returns a one-page PDF whose only text is "Hello World".
func HelloPDF() []byte {
	pdf, _ := build("Hello World")
	return pdf
}

// TruncatedXRefPDF returns HelloPDF cut off 20 bytes into its xref table,
// so the trailer and startxref are gone but every object is intact.
func TruncatedXRefPDF() []byte {
	pdf, xref := build("Hello World")
	return pdf[:xref+len("xref\n0 6\n")+20]
}

// build lays out the objects and returns the file and the xref offset.
func build(text string) ([]byte, int) {
	content := fmt.Sprintf("BT /F1 24 Tf 72 720 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objects)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes(), xref
}

// ShortXRefPDF returns HelloPDF with its last two xref entries removed while
// the trailer and startxref stay in place.
func ShortXRefPDF() []byte {
	pdf, xref := build("Hello World")
	table := pdf[xref:]
	end := bytes.Index(table, []byte("trailer"))
	out := append([]byte{}, pdf[:xref+end-40]...)
	return append(out, table[end:]...)
}
