package constants

import "strings"

// AllowedMIMETypes holds the document formats the normalizer accepts.
var AllowedMIMETypes = map[string]struct{}{
	"application/pdf":  {},
	"image/png":        {},
	"image/jpeg":       {},
	"image/tiff":       {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
}

// extToMIME maps known file extensions to their MIME type. Used when the
// upload does not declare a usable Content-Type.
var extToMIME = map[string]string{
	"pdf":  "application/pdf",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MIMEForExt returns the MIME type for a file extension, or "" if unknown.
func MIMEForExt(ext string) string {
	return extToMIME[NormalizeExt(ext)]
}

// MIMEAllowed reports whether the given MIME type is accepted for ingestion.
func MIMEAllowed(mime string) bool {
	// strip parameters like "; charset=..."
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	_, ok := AllowedMIMETypes[strings.TrimSpace(strings.ToLower(mime))]
	return ok
}
