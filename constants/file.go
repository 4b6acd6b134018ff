package constants

import "strings"

const (
	// PDFContentType is the only mime type accepted for uploads.
	PDFContentType = "application/pdf"
	// PDFExtension is appended to every storage key.
	PDFExtension = "pdf"
	// DefaultMaxUploadBytes caps a single upload.
	DefaultMaxUploadBytes int64 = 10 << 20
	// MaxFailureReasonLen bounds the failure reason stored on a document, in characters.
	MaxFailureReasonLen = 500
)

// AllowedExtensions holds the file extensions accepted for upload.
var AllowedExtensions = map[string]struct{}{
	PDFExtension: {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsPDF reports whether an upload looks like a PDF by mime type or filename extension.
func IsPDF(contentType, filename string) bool {
	if strings.EqualFold(strings.TrimSpace(strings.Split(contentType, ";")[0]), PDFContentType) {
		return true
	}
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return false
	}
	_, ok := AllowedExtensions[NormalizeExt(filename[idx:])]
	return ok
}
