package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/proximity/internal/core"
	"github.com/dkeye/proximity/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a recipient whose send failed during fan-out.
// It runs after the fan-out completes, outside the registry lock.
type Policy interface {
	OnBackPressure(id domain.ParticipantID, err error) BackpressureAction
}

// DropPolicy loses the message for that recipient; the next state change corrects it.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.ParticipantID, error) BackpressureAction {
	return DropFrame
}

// KickPolicy disconnects recipients that cannot keep up.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(_ domain.ParticipantID, err error) BackpressureAction {
	if errors.Is(err, core.ErrBackpressure) {
		return KickMember
	}
	return NoAction
}

func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
