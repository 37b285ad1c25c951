package storage

import (
	"strings"
)

// maxFilenameLen caps sanitized names so the joined path stays well under
// filesystem limits even with a type prefix and hash segment.
const maxFilenameLen = 100

// SanitizeFilename makes an arbitrary display name safe to use as a single
// path segment. Reserved characters and control bytes become underscores,
// whitespace runs collapse to one space, leading/trailing dots and spaces are
// trimmed, and the result is capped at 100 characters. An empty result falls
// back to "unnamed".
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteByte('_')
		case r < 0x20 || r == 0x7f:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	cleaned := strings.Join(strings.Fields(b.String()), " ")
	cleaned = strings.Trim(cleaned, ". ")

	if len(cleaned) > maxFilenameLen {
		cleaned = cleaned[:maxFilenameLen]
		// A multi-byte rune may have been cut in half.
		cleaned = strings.ToValidUTF8(cleaned, "")
		cleaned = strings.Trim(cleaned, ". ")
	}

	if cleaned == "" {
		return "unnamed"
	}
	return cleaned
}

// sanitizeExt normalizes a file extension (with or without leading dot) into
// a safe ".ext" suffix, or "" when nothing usable remains.
func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	ext = SanitizeFilename(ext)
	if ext == "unnamed" || ext == "" {
		return ""
	}
	if len(ext) > 10 {
		ext = ext[:10]
	}
	return "." + strings.ToLower(ext)
}
