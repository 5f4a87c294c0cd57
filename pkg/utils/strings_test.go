// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import "testing"

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"", true},
		{"   ", true},
		{"\t\n", true},
		{"hello", false},
		{" hello ", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := IsEmpty(tt.input)
			if result != tt.expected {
				t.Errorf("expected %t, got %t", tt.expected, result)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		n        int
		expected string
	}{
		{"shorter than limit", "abc", 10, "abc"},
		{"exactly limit", "abcde", 5, "abcde"},
		{"over limit", "abcdefgh", 5, "abcde..."},
		{"zero limit", "abc", 0, ""},
		{"multibyte runes", "سلام دنیا", 4, "سلام..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Truncate(tt.input, tt.n)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestMustJSON(t *testing.T) {
	if got := MustJSON(map[string]int{"a": 1}); got != `{"a":1}` {
		t.Errorf("unexpected json: %s", got)
	}
	if got := MustJSON(make(chan int)); got != "{}" {
		t.Errorf("expected fallback for unmarshalable value, got %s", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", "fallback", "later"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	if got := FirstNonEmpty("", "   "); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}
