package app

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/proximity/internal/core"
	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/protocol"
)

// PublishResult reports fan-out delivery for one message.
type PublishResult struct {
	SentTo  int
	Dropped []Drop
}

// Drop is one recipient a fan-out could not reach.
type Drop struct {
	ID  domain.ParticipantID
	Err error
}

// Registry is the authoritative set of connected participants.
// One mutex guards both maps; they always hold the same id set.
type Registry struct {
	mu           sync.Mutex
	participants map[domain.ParticipantID]*domain.Participant
	conns        map[domain.ParticipantID]core.Conn

	policy  Policy
	metrics *Metrics
	newID   func() domain.ParticipantID
}

// Option configures a Registry.
type Option func(*Registry)

func WithPolicy(p Policy) Option {
	return func(r *Registry) { r.policy = p }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithIDGenerator replaces uuid ids, mostly for tests.
func WithIDGenerator(gen func() domain.ParticipantID) Option {
	return func(r *Registry) { r.newID = gen }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		participants: make(map[domain.ParticipantID]*domain.Participant),
		conns:        make(map[domain.ParticipantID]core.Conn),
		policy:       DropPolicy{},
		newID:        func() domain.ParticipantID { return domain.ParticipantID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join registers a new participant on conn, sends it the init snapshot and
// announces it to everybody else.
func (r *Registry) Join(conn core.Conn, name string) (domain.ParticipantID, protocol.Init) {
	r.mu.Lock()
	id := r.allocIDLocked()
	p := domain.NewParticipant(id, domain.DisplayName(name, len(r.participants)), domain.RandomColor())
	r.participants[id] = &p
	r.conns[id] = conn

	init := protocol.NewInit(p, r.snapshotLocked())
	if err := r.sendLocked(id, conn, init); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("id", string(id)).Msg("init not delivered")
	}
	res := r.broadcastLocked(protocol.NewJoined(p), id)
	r.metrics.joined()
	r.metrics.setParticipants(len(r.participants))
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("id", string(id)).Str("name", p.Name).Msg("participant joined")
	r.applyPolicy(res)
	return id, init
}

// allocIDLocked regenerates on the unlikely collision with a live id.
func (r *Registry) allocIDLocked() domain.ParticipantID {
	for {
		id := r.newID()
		if _, taken := r.participants[id]; !taken && id != "" {
			return id
		}
		log.Warn().Str("module", "app.registry").Str("id", string(id)).Msg("id collision, regenerating")
	}
}

// Move is a no-op for ids that are no longer registered.
func (r *Registry) Move(id domain.ParticipantID, x, y float64) bool {
	r.mu.Lock()
	p, ok := r.participants[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	p.X, p.Y = x, y
	res := r.broadcastLocked(protocol.NewMoved(*p), id)
	r.mu.Unlock()

	log.Debug().Str("module", "app.registry").Str("id", string(id)).Float64("x", x).Float64("y", y).Msg("moved")
	r.applyPolicy(res)
	return true
}

// Leave removes the participant but keeps its transport open.
func (r *Registry) Leave(id domain.ParticipantID) bool {
	_, ok := r.remove(id, "leave")
	return ok
}

// Disconnect removes the participant and closes its transport.
// Safe to call after Leave or twice; only the first removal is announced.
func (r *Registry) Disconnect(id domain.ParticipantID) bool {
	conn, ok := r.remove(id, "disconnect")
	if ok {
		conn.Close()
	}
	return ok
}

func (r *Registry) remove(id domain.ParticipantID, reason string) (core.Conn, bool) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.participants, id)
	delete(r.conns, id)
	res := r.broadcastLocked(protocol.NewLeft(id), "")
	r.metrics.left()
	r.metrics.setParticipants(len(r.participants))
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("id", string(id)).Str("reason", reason).Msg("participant removed")
	r.applyPolicy(res)
	return conn, true
}

// RelaySignal forwards an opaque payload to `to`. It is dropped silently when
// either side is not registered or the target cannot take it.
func (r *Registry) RelaySignal(from, to domain.ParticipantID, payload json.RawMessage) bool {
	r.mu.Lock()
	_, fromOK := r.participants[from]
	conn, toOK := r.conns[to]
	if !fromOK || !toOK {
		r.mu.Unlock()
		r.metrics.relayed(false)
		log.Debug().Str("module", "app.registry").Str("from", string(from)).Str("to", string(to)).Msg("signal target unknown, dropped")
		return false
	}
	err := r.sendLocked(to, conn, protocol.NewRelayed(from, payload))
	r.mu.Unlock()

	r.metrics.relayed(err == nil)
	if err != nil {
		log.Debug().Err(err).Str("module", "app.registry").Str("from", string(from)).Str("to", string(to)).Msg("signal dropped")
		r.applyPolicy(PublishResult{Dropped: []Drop{{ID: to, Err: err}}})
		return false
	}
	return true
}

// Broadcast delivers msg to every participant except exclude.
func (r *Registry) Broadcast(msg protocol.Message, exclude domain.ParticipantID) PublishResult {
	r.mu.Lock()
	res := r.broadcastLocked(msg, exclude)
	r.mu.Unlock()
	r.applyPolicy(res)
	return res
}

// broadcastLocked never blocks: TrySend either queues or fails immediately.
func (r *Registry) broadcastLocked(msg protocol.Message, exclude domain.ParticipantID) PublishResult {
	var res PublishResult
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("broadcast encode")
		return res
	}
	for id, conn := range r.conns {
		if id == exclude {
			continue
		}
		if err := conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, Drop{ID: id, Err: err})
			r.metrics.droppedSend(dropReason(err))
			continue
		}
		res.SentTo++
	}
	r.metrics.delivered(res.SentTo)
	log.Debug().Str("module", "app.registry").Str("type", msg.MessageType()).Str("exclude", string(exclude)).
		Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *Registry) sendLocked(id domain.ParticipantID, conn core.Conn, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.TrySend(frame); err != nil {
		r.metrics.droppedSend(dropReason(err))
		return err
	}
	r.metrics.delivered(1)
	return nil
}

func (r *Registry) applyPolicy(res PublishResult) {
	if r.policy == nil {
		return
	}
	for _, d := range res.Dropped {
		switch r.policy.OnBackPressure(d.ID, d.Err) {
		case KickMember:
			log.Warn().Str("module", "app.registry").Str("id", string(d.ID)).Msg("kicking slow participant")
			r.Disconnect(d.ID)
		case DropFrame, NoAction:
		}
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, core.ErrBackpressure):
		return "backpressure"
	case errors.Is(err, core.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}

// Snapshot is a consistent copy of all participants ordered by id.
func (r *Registry) Snapshot() []domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b domain.Participant) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}

func (r *Registry) Participant(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// HasConn reports whether id has a registered transport.
func (r *Registry) HasConn(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}
