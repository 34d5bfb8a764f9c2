// Package client is a headless participant: it dials the signal socket,
// joins, and keeps a local view of everyone in the space.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/protocol"
)

var (
	ErrClosed    = errors.New("client closed")
	ErrNotJoined = errors.New("not joined")
)

type Options struct {
	Dialer       *websocket.Dialer
	Header       http.Header
	WriteTimeout time.Duration
	SendBuffer   int
}

// Client is safe for concurrent use. Callbacks run on the read goroutine.
type Client struct {
	ws   *websocket.Conn
	opts Options

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	inits     chan protocol.Init
	rejects   chan protocol.Error

	mu       sync.RWMutex
	self     domain.ParticipantID
	view     map[domain.ParticipantID]domain.Participant
	onSignal func(from domain.ParticipantID, payload json.RawMessage)
	onLeft   func(id domain.ParticipantID)
	onError  func(msg string)
}

// Dial connects to url (ws:// or wss://) and starts the socket pumps.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	ws, _, err := opts.Dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, err
	}
	c := &Client{
		ws:      ws,
		opts:    opts,
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
		inits:   make(chan protocol.Init, 1),
		rejects: make(chan protocol.Error, 1),
		view:    make(map[domain.ParticipantID]domain.Participant),
	}
	go c.writePump()
	go c.readPump()
	log.Info().Str("module", "client").Str("url", url).Msg("connected")
	return c, nil
}

func (c *Client) OnSignal(fn func(from domain.ParticipantID, payload json.RawMessage)) {
	c.mu.Lock()
	c.onSignal = fn
	c.mu.Unlock()
}

func (c *Client) OnLeft(fn func(id domain.ParticipantID)) {
	c.mu.Lock()
	c.onLeft = fn
	c.mu.Unlock()
}

func (c *Client) OnError(fn func(msg string)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Join sends a join and waits for the server's init. A join the server
// refuses comes back as an error carrying the server's reason.
func (c *Client) Join(ctx context.Context, name string) (protocol.Init, error) {
	select {
	case <-c.rejects:
	default:
	}
	if err := c.write(protocol.Join{Type: protocol.MsgJoin, Name: name}); err != nil {
		return protocol.Init{}, err
	}
	select {
	case init := <-c.inits:
		return init, nil
	case e := <-c.rejects:
		return protocol.Init{}, fmt.Errorf("join rejected: %s", e.Error)
	case <-c.done:
		return protocol.Init{}, ErrClosed
	case <-ctx.Done():
		return protocol.Init{}, ctx.Err()
	}
}

func (c *Client) Move(x, y float64) error {
	if c.Self() == "" {
		return ErrNotJoined
	}
	if err := c.write(protocol.Move{Type: protocol.MsgMove, X: x, Y: y}); err != nil {
		return err
	}
	// the server does not echo moves back to the mover
	c.mu.Lock()
	if p, ok := c.view[c.self]; ok {
		p.X, p.Y = x, y
		c.view[c.self] = p
	}
	c.mu.Unlock()
	return nil
}

// Signal relays payload to another participant. It satisfies peer.Signaler.
func (c *Client) Signal(to domain.ParticipantID, payload json.RawMessage) error {
	if c.Self() == "" {
		return ErrNotJoined
	}
	return c.write(protocol.Signal{Type: protocol.MsgSignal, TargetID: to, Payload: payload})
}

// Leave ends the session but keeps the socket open for a later Join.
func (c *Client) Leave() error {
	if err := c.write(protocol.Leave{Type: protocol.MsgLeave}); err != nil {
		return err
	}
	c.mu.Lock()
	c.self = ""
	clear(c.view)
	c.mu.Unlock()
	return nil
}

func (c *Client) Ping() error {
	return c.write(protocol.Ping{Type: protocol.MsgPing})
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
		log.Info().Str("module", "client").Str("id", string(c.Self())).Msg("closed")
	})
}

// Done is closed once the socket is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Self() domain.ParticipantID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Participants returns the local view sorted by id, self included.
func (c *Client) Participants() []domain.Participant {
	c.mu.RLock()
	out := make([]domain.Participant, 0, len(c.view))
	for _, p := range c.view {
		out = append(out, p)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Participant) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}

func (c *Client) Participant(id domain.ParticipantID) (domain.Participant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.view[id]
	return p, ok
}

func (c *Client) write(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) writePump() {
	for {
		select {
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Warn().Err(err).Str("module", "client").Msg("write")
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readPump() {
	defer c.Close()
	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "client").Msg("read")
			}
			return
		}
		m, err := protocol.DecodeServer(b)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad server message")
			continue
		}
		c.apply(m)
	}
}

// apply folds one server message into the view. Every update is an upsert or
// a delete keyed by id, so replays leave the view unchanged.
func (c *Client) apply(m protocol.Message) {
	switch m := m.(type) {
	case protocol.Init:
		c.mu.Lock()
		c.self = m.SelfID
		clear(c.view)
		for _, p := range m.Participants {
			c.view[p.ID] = p
		}
		c.view[m.Self.ID] = m.Self
		c.mu.Unlock()
		select {
		case c.inits <- m:
		default:
		}
	case protocol.Joined:
		c.upsert(m.Participant)
	case protocol.Moved:
		c.upsert(m.Participant)
	case protocol.Left:
		c.mu.Lock()
		_, known := c.view[m.ID]
		delete(c.view, m.ID)
		fn := c.onLeft
		c.mu.Unlock()
		if known && fn != nil {
			fn(m.ID)
		}
	case protocol.Relayed:
		c.mu.RLock()
		fn := c.onSignal
		c.mu.RUnlock()
		if fn != nil {
			fn(m.FromID, m.Payload)
		}
	case protocol.Error:
		log.Warn().Str("module", "client").Str("error", m.Error).Msg("server error")
		select {
		case c.rejects <- m:
		default:
		}
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(m.Error)
		}
	}
}

func (c *Client) upsert(p domain.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.self == "" {
		return
	}
	c.view[p.ID] = p
}
