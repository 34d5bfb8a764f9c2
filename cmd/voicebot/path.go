package main

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/proximity"
)

// parsePath reads "x,y;x,y;..." into waypoints.
func parsePath(s string) ([]domain.Position, error) {
	var out []domain.Position
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		xs, ys, ok := strings.Cut(part, ",")
		if !ok {
			return nil, fmt.Errorf("waypoint %q: want x,y", part)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		if err != nil {
			return nil, fmt.Errorf("waypoint %q: %w", part, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if err != nil {
			return nil, fmt.Errorf("waypoint %q: %w", part, err)
		}
		out = append(out, domain.Position{X: x, Y: y})
	}
	if len(out) == 0 {
		return nil, errors.New("path has no waypoints")
	}
	return out, nil
}

// walker moves a fixed distance per step along a closed loop of waypoints.
type walker struct {
	points []domain.Position
	speed  float64
	pos    domain.Position
	next   int
}

func newWalker(points []domain.Position, speed float64) *walker {
	return &walker{points: points, speed: speed, pos: points[0], next: 1 % len(points)}
}

func (w *walker) Position() domain.Position { return w.pos }

func (w *walker) Step() domain.Position {
	budget := w.speed
	for budget > 0 && len(w.points) > 1 {
		target := w.points[w.next]
		d := proximity.Distance(w.pos, target)
		if d <= budget {
			w.pos = target
			budget -= d
			w.next = (w.next + 1) % len(w.points)
			if d == 0 {
				break
			}
			continue
		}
		f := budget / d
		w.pos = domain.Position{
			X: w.pos.X + (target.X-w.pos.X)*f,
			Y: w.pos.Y + (target.Y-w.pos.Y)*f,
		}
		budget = 0
	}
	w.pos.X = math.Round(w.pos.X*100) / 100
	w.pos.Y = math.Round(w.pos.Y*100) / 100
	return w.pos
}
