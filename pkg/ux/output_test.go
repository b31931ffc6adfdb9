// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"strings"
	"testing"
)

// =============================================================================
// Plain Mode Tests
// =============================================================================

func TestSetPlain(t *testing.T) {
	orig := IsPlain()
	defer SetPlain(orig)

	SetPlain(true)
	if !IsPlain() {
		t.Error("IsPlain() = false after SetPlain(true)")
	}

	SetPlain(false)
	if IsPlain() {
		t.Error("IsPlain() = true after SetPlain(false)")
	}
}

// =============================================================================
// Icon Tests
// =============================================================================

func TestIcon_Render_Plain(t *testing.T) {
	orig := IsPlain()
	defer SetPlain(orig)
	SetPlain(true)

	tests := []struct {
		icon Icon
		want string
	}{
		{IconSuccess, "✓"},
		{IconWarning, "⚠"},
		{IconError, "✗"},
		{IconPending, "○"},
		{IconArrow, "→"},
	}

	for _, tt := range tests {
		t.Run(string(tt.icon), func(t *testing.T) {
			got := tt.icon.Render()
			if got != tt.want {
				t.Errorf("Icon.Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIcon_Render_ContainsGlyph(t *testing.T) {
	orig := IsPlain()
	defer SetPlain(orig)
	SetPlain(false)

	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconBullet} {
		got := icon.Render()
		if !strings.Contains(got, string(icon)) {
			t.Errorf("Icon.Render() = %q, missing glyph %q", got, icon)
		}
	}
}

// =============================================================================
// ProgressBar Tests
// =============================================================================

func TestProgressBar_Plain(t *testing.T) {
	orig := IsPlain()
	defer SetPlain(orig)
	SetPlain(true)

	got := ProgressBar(3, 10, 20)
	if got != "3/10" {
		t.Errorf("ProgressBar() = %q, want 3/10", got)
	}
}

func TestProgressBar_Percent(t *testing.T) {
	orig := IsPlain()
	defer SetPlain(orig)
	SetPlain(false)

	tests := []struct {
		name    string
		current int
		total   int
		want    string
	}{
		{"empty", 0, 10, "0%"},
		{"half", 5, 10, "50%"},
		{"full", 10, 10, "100%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProgressBar(tt.current, tt.total, 20)
			if !strings.Contains(got, tt.want) {
				t.Errorf("ProgressBar(%d, %d) = %q, want to contain %q",
					tt.current, tt.total, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestRepeatChar(t *testing.T) {
	tests := []struct {
		name string
		c    rune
		n    int
		want string
	}{
		{"zero", '█', 0, ""},
		{"negative", '█', -1, ""},
		{"three", '░', 3, "░░░"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := repeatChar(tt.c, tt.n)
			if got != tt.want {
				t.Errorf("repeatChar(%q, %d) = %q, want %q", tt.c, tt.n, got, tt.want)
			}
		})
	}
}
