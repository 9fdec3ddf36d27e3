package services

import (
	"fmt"
	"strconv"
	"strings"
)

// ETags are weak validators encoding a field's identity and version:
// W/"<fieldID>.<version>". The encoding is opaque to clients; they echo the
// tag back in If-Match preconditions.

// MakeETag encodes a field id and server version as an ETag.
func MakeETag(fieldID string, version uint64) string {
	return fmt.Sprintf(`W/"%s.%d"`, fieldID, version)
}

// ParseETag decodes an ETag produced by MakeETag. Accepts the tag with or
// without the weak prefix and surrounding quotes.
func ParseETag(tag string) (string, uint64, error) {
	s := strings.TrimSpace(tag)
	s = strings.TrimPrefix(s, "W/")
	s = strings.Trim(s, `"`)

	dot := strings.LastIndex(s, ".")
	if dot <= 0 || dot == len(s)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidETag, tag)
	}

	fieldID := s[:dot]
	version, err := strconv.ParseUint(s[dot+1:], 10, 64)
	if err != nil || version == 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidETag, tag)
	}

	return fieldID, version, nil
}
