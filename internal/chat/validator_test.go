package chat

import (
	"strings"
	"testing"
)

func TestValidateContent_OK(t *testing.T) {
	cases := []string{
		"hello",
		"multi\nline\nmessage",
		"emoji 👍 and accents éàü",
		strings.Repeat("a", MaxContentChars),
	}
	for i, content := range cases {
		if err := ValidateContent(content); err != nil {
			t.Errorf("case %d: expected valid content, got %v", i, err)
		}
	}
}

func TestValidateContent_Empty(t *testing.T) {
	if err := ValidateContent(""); err == nil {
		t.Fatal("expected error for empty content, got nil")
	}
}

func TestValidateContent_TooManyBytes(t *testing.T) {
	// 1500 runes at 3 bytes each: under the character limit but over the
	// byte limit.
	content := strings.Repeat("€", 1500)
	if err := ValidateContent(content); err == nil {
		t.Fatal("expected error for oversized content, got nil")
	}
}

func TestValidateContent_TooManyChars(t *testing.T) {
	content := strings.Repeat("a", MaxContentChars+1)
	if err := ValidateContent(content); err == nil {
		t.Fatal("expected error for over-long content, got nil")
	}
}

func TestValidateContent_InvalidUTF8(t *testing.T) {
	if err := ValidateContent(string([]byte{0xff, 0xfe})); err == nil {
		t.Fatal("expected error for invalid UTF-8, got nil")
	}
}
