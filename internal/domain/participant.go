// Package domain contains entities without transport, just spatial meta-data
package domain

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode/utf8"
)

const MaxNameLen = 36

var ErrNameEmpty = errors.New("name empty")

// Palette is the fixed set of avatar colors handed out on join.
var Palette = []string{
	"#FF6B6B",
	"#4ECDC4",
	"#45B7D1",
	"#FFA07A",
	"#98D8C8",
	"#F7DC6F",
	"#BB8FCE",
	"#85C1E2",
}

type ParticipantID string

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Participant struct {
	ID    ParticipantID `json:"id"`
	Name  string        `json:"name"`
	X     float64       `json:"x"`
	Y     float64       `json:"y"`
	Color string        `json:"color"`
}

// NewParticipant spawns at the origin; real placement is up to the client map.
func NewParticipant(id ParticipantID, name, color string) Participant {
	return Participant{ID: id, Name: name, Color: color}
}

func (p Participant) Position() Position { return Position{X: p.X, Y: p.Y} }

// NormalizeName trims and truncates a requested display name.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxNameLen {
		name = string([]rune(name)[:MaxNameLen])
	}
	return name, nil
}

// DisplayName falls back to User<n+1> when the requested name is unusable.
func DisplayName(requested string, present int) string {
	name, err := NormalizeName(requested)
	if err != nil {
		return fmt.Sprintf("User%d", present+1)
	}
	return name
}

func RandomColor() string {
	return Palette[rand.IntN(len(Palette))]
}
