package services_test

import (
	"errors"
	"testing"

	"github.com/agrostack/fieldsync/internal/services"
)

func TestETagRoundTrip(t *testing.T) {
	tag := services.MakeETag("4f5c6a2e-0b1d-4e3f-9a8b-7c6d5e4f3a2b", 42)
	if tag != `W/"4f5c6a2e-0b1d-4e3f-9a8b-7c6d5e4f3a2b.42"` {
		t.Errorf("Unexpected tag encoding: %s", tag)
	}

	fieldID, version, err := services.ParseETag(tag)
	if err != nil {
		t.Fatalf("Failed to parse etag: %v", err)
	}
	if fieldID != "4f5c6a2e-0b1d-4e3f-9a8b-7c6d5e4f3a2b" {
		t.Errorf("Unexpected field id: %s", fieldID)
	}
	if version != 42 {
		t.Errorf("Unexpected version: %d", version)
	}
}

func TestParseETagLenientForms(t *testing.T) {
	// Clients echo the tag back with or without the weak prefix and quotes
	for _, tag := range []string{
		`W/"field-1.7"`,
		`"field-1.7"`,
		`field-1.7`,
		` W/"field-1.7" `,
	} {
		fieldID, version, err := services.ParseETag(tag)
		if err != nil {
			t.Errorf("Failed to parse %q: %v", tag, err)
			continue
		}
		if fieldID != "field-1" || version != 7 {
			t.Errorf("Parsed %q as (%s, %d)", tag, fieldID, version)
		}
	}
}

func TestParseETagIDWithDots(t *testing.T) {
	// Only the last dot separates the version
	fieldID, version, err := services.ParseETag(`W/"a.b.c.3"`)
	if err != nil {
		t.Fatalf("Failed to parse dotted id: %v", err)
	}
	if fieldID != "a.b.c" || version != 3 {
		t.Errorf("Parsed as (%s, %d)", fieldID, version)
	}
}

func TestParseETagRejectsMalformed(t *testing.T) {
	for _, tag := range []string{
		"",
		"garbage",
		`W/"no-version."`,
		`W/".5"`,
		`W/"field-1.notanumber"`,
		`W/"field-1.0"`,
		`W/"field-1.-3"`,
	} {
		if _, _, err := services.ParseETag(tag); !errors.Is(err, services.ErrInvalidETag) {
			t.Errorf("Expected ErrInvalidETag for %q, got: %v", tag, err)
		}
	}
}
