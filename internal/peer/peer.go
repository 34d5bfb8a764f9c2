// Package peer keeps one voice link per participant in proximity.
//
// Links move Unconnected -> Connecting -> Connected. The higher id of a pair
// dials and sends the offer; the other side answers when the offer arrives.
// Leaving proximity closes the link without any signal to the remote.
package peer

import (
	"errors"

	"github.com/goccy/go-json"

	"github.com/dkeye/proximity/internal/domain"
)

type State int

const (
	Unconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unconnected"
	}
}

// Payload types carried inside a relayed signal.
const (
	PayloadOffer     = "offer"
	PayloadAnswer    = "answer"
	PayloadCandidate = "ice-candidate"
)

var (
	ErrBadPayload = errors.New("bad signal payload")
	ErrNoLink     = errors.New("no link for peer")
)

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Payload is the opaque body of a signal message as browsers send it.
type Payload struct {
	Type      string              `json:"type"`
	Offer     *SessionDescription `json:"offer,omitempty"`
	Answer    *SessionDescription `json:"answer,omitempty"`
	Candidate *Candidate          `json:"candidate,omitempty"`
}

// Conn is one peer connection. Methods are called without the manager lock held.
type Conn interface {
	CreateOffer() (SessionDescription, error)
	AcceptOffer(offer SessionDescription) (SessionDescription, error)
	AcceptAnswer(answer SessionDescription) error
	AddCandidate(c Candidate) error
	Close() error
}

// Callbacks are handed to the Dialer for each new connection. They may be
// called from any goroutine, but not synchronously from inside a Conn method.
type Callbacks struct {
	Candidate   func(Candidate)
	StateChange func(State)
}

type Dialer interface {
	Dial(remote domain.ParticipantID, cb Callbacks) (Conn, error)
}

// Signaler delivers a payload to a remote participant through the server.
type Signaler interface {
	Signal(to domain.ParticipantID, payload json.RawMessage) error
}

func decodePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errors.Join(ErrBadPayload, err)
	}
	switch {
	case p.Type == PayloadOffer && p.Offer != nil:
	case p.Type == PayloadAnswer && p.Answer != nil:
	case p.Type == PayloadCandidate && p.Candidate != nil:
	default:
		return p, ErrBadPayload
	}
	return p, nil
}
