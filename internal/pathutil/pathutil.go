// Package pathutil holds the string helpers used to name and place vault files.
//
// Vault paths always use forward slashes regardless of the host platform, so
// these helpers intentionally avoid path/filepath.
package pathutil

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"regexp"
	"strings"
)

// ErrInvalidBase64 is returned when a payload cannot be decoded as base64.
var ErrInvalidBase64 = errors.New("invalid base64 payload")

var (
	forbiddenChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	dataURLPrefix  = regexp.MustCompile(`^data:[^,]*;base64,`)
)

var imageExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"webp": true,
	"bmp":  true,
	"tiff": true,
	"tif":  true,
}

// Join concatenates vault path segments. Empty and "." segments are dropped
// and a leading slash survives only if the first segment started with one.
func Join(segments ...string) string {
	var parts []string
	for _, s := range segments {
		parts = append(parts, strings.Split(s, "/")...)
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		out = append(out, p)
	}

	if len(parts) > 0 && parts[0] == "" {
		out = append([]string{""}, out...)
	}
	return strings.Join(out, "/")
}

// Basename returns everything after the last slash.
func Basename(p string) string {
	return p[strings.LastIndex(p, "/")+1:]
}

// Dir returns everything before the last slash, or "" for a bare name.
func Dir(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Extension returns the text after the last dot of the basename, without the dot.
func Extension(p string) (string, bool) {
	base := Basename(p)
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return "", false
	}
	return base[i+1:], true
}

// Stem returns the basename with its extension removed.
func Stem(p string) string {
	base := Basename(p)
	if i := strings.LastIndex(base, "."); i > 0 {
		return base[:i]
	}
	return base
}

// SanitizeFilename replaces characters that are not allowed in vault file
// names with "-" and trims surrounding whitespace.
func SanitizeFilename(name string) string {
	return strings.TrimSpace(forbiddenChars.ReplaceAllString(name, "-"))
}

// EscapeRegExp quotes every regular expression metacharacter in s.
func EscapeRegExp(s string) string {
	return regexp.QuoteMeta(s)
}

// StripDataURLPrefix removes a leading "data:<mime>;base64," header.
func StripDataURLPrefix(s string) string {
	return dataURLPrefix.ReplaceAllString(s, "")
}

// DecodeBase64 decodes a standard base64 payload, optionally carrying a data URL prefix.
func DecodeBase64(s string) ([]byte, error) {
	payload := strings.TrimSpace(StripDataURLPrefix(s))

	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}

	// some providers drop the padding
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); rawErr == nil {
		return raw, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
}

// IsImageExtension reports whether the path names a raster image the OCR
// provider accepts as an image rather than a document.
func IsImageExtension(p string) bool {
	ext, ok := Extension(p)
	if !ok {
		return false
	}
	return imageExtensions[strings.ToLower(ext)]
}

// MimeTypeForName guesses a MIME type from the file extension.
func MimeTypeForName(name string) string {
	ext, ok := Extension(name)
	if !ok {
		return "application/octet-stream"
	}

	switch strings.ToLower(ext) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "tif", "tiff":
		return "image/tiff"
	case "pdf":
		return "application/pdf"
	}

	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
