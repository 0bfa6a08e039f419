package mirror

import (
	"mime"
	"regexp"
	"strings"
)

var mimeToExt = map[string]string{
	"image/png":       "png",
	"image/jpeg":      "jpg",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"image/svg+xml":   "svg",
	"application/pdf": "pdf",
}

var extRe = regexp.MustCompile(`^[a-z0-9][a-z0-9.+-]*$`)

// Extension derives a file extension from a Content-Type header: known
// types map to their usual extension, others use the media subtype, and
// anything unusable becomes "bin".
func Extension(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "bin"
	}
	if ext, ok := mimeToExt[mt]; ok {
		return ext
	}
	_, sub, ok := strings.Cut(mt, "/")
	sub = strings.ReplaceAll(sub, ".", "-")
	if !ok || !extRe.MatchString(sub) {
		return "bin"
	}
	return sub
}
