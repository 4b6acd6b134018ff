package utils

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 5, "hell…"},
		{"zero", "hello", 0, ""},
		{"multibyte", "héllo wörld", 4, "hél…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.max); got != tt.want {
				t.Fatalf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestTruncateLongReasonStaysWithinBound(t *testing.T) {
	in := strings.Repeat("ü", 2000)
	got := Truncate(in, 500)
	if n := utf8.RuneCountInString(got); n != 500 {
		t.Fatalf("rune count = %d, want 500", n)
	}
	if !utf8.ValidString(got) {
		t.Fatal("result is not valid UTF-8")
	}
}

func TestStrOrEmptyAndFormatTime(t *testing.T) {
	if StrOrEmpty(nil) != "" {
		t.Fatal("expected empty string for nil")
	}
	if StrOrEmpty(Ptr("x")) != "x" {
		t.Fatal("expected x")
	}
	if FormatTime(nil) != "" {
		t.Fatal("expected empty for nil time")
	}
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	if got := FormatTime(&ts); got != "2024-01-02T02:04:05Z" {
		t.Fatalf("FormatTime = %q", got)
	}
}
