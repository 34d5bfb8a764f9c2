package domain

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestDisplayNameFallback(t *testing.T) {
	if got := DisplayName("", 0); got != "User1" {
		t.Fatalf("DisplayName(\"\", 0) = %q, want %q", got, "User1")
	}
	if got := DisplayName("   ", 4); got != "User5" {
		t.Fatalf("DisplayName(blank, 4) = %q, want %q", got, "User5")
	}
	if got := DisplayName("  alice ", 4); got != "alice" {
		t.Fatalf("DisplayName = %q, want %q", got, "alice")
	}
}

func TestNormalizeNameTruncates(t *testing.T) {
	long := strings.Repeat("ж", MaxNameLen+10)
	got, err := NormalizeName(long)
	if err != nil {
		t.Fatalf("NormalizeName: %v", err)
	}
	if n := len([]rune(got)); n != MaxNameLen {
		t.Fatalf("rune length = %d, want %d", n, MaxNameLen)
	}
	if _, err := NormalizeName(""); !errors.Is(err, ErrNameEmpty) {
		t.Fatalf("err = %v, want ErrNameEmpty", err)
	}
}

func TestRandomColorFromPalette(t *testing.T) {
	for range 50 {
		if c := RandomColor(); !slices.Contains(Palette, c) {
			t.Fatalf("color %q not in palette", c)
		}
	}
}

func TestNewParticipantSpawnsAtOrigin(t *testing.T) {
	p := NewParticipant("a1", "alice", Palette[0])
	if p.Position() != (Position{}) {
		t.Fatalf("spawn = %+v, want origin", p.Position())
	}
}
