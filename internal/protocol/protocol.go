// Package protocol defines the messages exchanged over a participant's socket.
// Every message is a flat JSON object tagged by "type".
package protocol

import (
	"github.com/goccy/go-json"

	"github.com/dkeye/proximity/internal/domain"
)

// Inbound message types.
const (
	MsgJoin   = "join"
	MsgMove   = "move"
	MsgLeave  = "leave"
	MsgSignal = "signal"
	MsgPing   = "ping"
)

// Outbound message types.
const (
	MsgInit   = "init"
	MsgJoined = "participant-joined"
	MsgMoved  = "participant-moved"
	MsgLeft   = "participant-left"
	MsgPong   = "pong"
	MsgError  = "error"
)

// Message is anything that can be put on the wire.
type Message interface {
	MessageType() string
}

type Join struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type Move struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type Leave struct {
	Type string `json:"type"`
}

// Signal carries an opaque peer-negotiation payload to TargetID.
type Signal struct {
	Type     string               `json:"type"`
	TargetID domain.ParticipantID `json:"targetId"`
	Payload  json.RawMessage      `json:"payload"`
}

type Ping struct {
	Type string `json:"type"`
}

type Init struct {
	Type         string               `json:"type"`
	SelfID       domain.ParticipantID `json:"selfId"`
	Self         domain.Participant   `json:"self"`
	Participants []domain.Participant `json:"participants"`
}

type Joined struct {
	Type        string             `json:"type"`
	Participant domain.Participant `json:"participant"`
}

type Moved struct {
	Type        string             `json:"type"`
	Participant domain.Participant `json:"participant"`
}

type Left struct {
	Type string               `json:"type"`
	ID   domain.ParticipantID `json:"id"`
}

// Relayed is the delivered form of a Signal.
type Relayed struct {
	Type    string               `json:"type"`
	FromID  domain.ParticipantID `json:"fromId"`
	Payload json.RawMessage      `json:"payload"`
}

type Pong struct {
	Type string `json:"type"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (Join) MessageType() string    { return MsgJoin }
func (Move) MessageType() string    { return MsgMove }
func (Leave) MessageType() string   { return MsgLeave }
func (Signal) MessageType() string  { return MsgSignal }
func (Ping) MessageType() string    { return MsgPing }
func (Init) MessageType() string    { return MsgInit }
func (Joined) MessageType() string  { return MsgJoined }
func (Moved) MessageType() string   { return MsgMoved }
func (Left) MessageType() string    { return MsgLeft }
func (Relayed) MessageType() string { return MsgSignal }
func (Pong) MessageType() string    { return MsgPong }
func (Error) MessageType() string   { return MsgError }

func NewInit(self domain.Participant, all []domain.Participant) Init {
	return Init{Type: MsgInit, SelfID: self.ID, Self: self, Participants: all}
}

func NewJoined(p domain.Participant) Joined { return Joined{Type: MsgJoined, Participant: p} }

func NewMoved(p domain.Participant) Moved { return Moved{Type: MsgMoved, Participant: p} }

func NewLeft(id domain.ParticipantID) Left { return Left{Type: MsgLeft, ID: id} }

func NewRelayed(from domain.ParticipantID, payload json.RawMessage) Relayed {
	return Relayed{Type: MsgSignal, FromID: from, Payload: payload}
}

func NewError(msg string) Error { return Error{Type: MsgError, Error: msg} }
