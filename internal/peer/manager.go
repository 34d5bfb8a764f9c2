package peer

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/proximity"
)

var ErrWrongSide = errors.New("offer from the answering side")

// Link is the externally visible state of one pair.
type Link struct {
	Remote    domain.ParticipantID
	State     State
	Initiator bool
}

type link struct {
	Link
	conn Conn

	// remote candidates that arrived before conn was ready
	inbox []Candidate
	// local candidates gathered before our description went out
	outbox   []Candidate
	signaled bool
}

type Manager struct {
	dialer   Dialer
	signaler Signaler

	mu    sync.Mutex
	self  domain.ParticipantID
	links map[domain.ParticipantID]*link
}

func NewManager(d Dialer, s Signaler) *Manager {
	return &Manager{
		dialer:   d,
		signaler: s,
		links:    make(map[domain.ParticipantID]*link),
	}
}

// Update reconciles links with the clusters computed for this tick.
func (m *Manager) Update(self domain.ParticipantID, clusters []proximity.Cluster) {
	near := proximity.UsersInProximityOf(self, clusters)

	m.mu.Lock()
	var stale, dial []*link
	// answerer links accepted before the first tick belong to the new self
	if m.self != "" && self != m.self {
		for _, l := range m.links {
			stale = append(stale, l)
		}
		clear(m.links)
	}
	m.self = self
	for id, l := range m.links {
		if _, ok := near[id]; !ok {
			stale = append(stale, l)
			delete(m.links, id)
		}
	}
	if self != "" {
		for id := range near {
			if _, ok := m.links[id]; ok {
				continue
			}
			l := &link{Link: Link{Remote: id, State: Connecting, Initiator: proximity.ShouldInitiate(self, id)}}
			m.links[id] = l
			if l.Initiator {
				dial = append(dial, l)
			}
		}
	}
	m.mu.Unlock()

	for _, l := range stale {
		m.closeLink(l, "out of range")
	}
	slices.SortFunc(dial, func(a, b *link) int { return strings.Compare(string(a.Remote), string(b.Remote)) })
	for _, l := range dial {
		m.offer(l)
	}
}

// HandleSignal routes a payload relayed from another participant.
func (m *Manager) HandleSignal(from domain.ParticipantID, raw json.RawMessage) error {
	p, err := decodePayload(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("from", string(from)).Msg("drop signal")
		return err
	}
	switch p.Type {
	case PayloadOffer:
		return m.answer(from, *p.Offer)
	case PayloadAnswer:
		m.mu.Lock()
		l := m.links[from]
		var conn Conn
		if l != nil && l.Initiator {
			conn = l.conn
		}
		m.mu.Unlock()
		if conn == nil {
			return ErrNoLink
		}
		if err := conn.AcceptAnswer(*p.Answer); err != nil {
			m.fail(l, err, "accept answer")
			return err
		}
		return nil
	default:
		m.mu.Lock()
		l := m.links[from]
		if l == nil {
			m.mu.Unlock()
			return ErrNoLink
		}
		if l.conn == nil {
			l.inbox = append(l.inbox, *p.Candidate)
			m.mu.Unlock()
			return nil
		}
		conn := l.conn
		m.mu.Unlock()
		return conn.AddCandidate(*p.Candidate)
	}
}

func (m *Manager) MarkConnected(id domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.links[id]; l != nil {
		l.State = Connected
	}
}

// Forget closes the link to a participant that left the space.
func (m *Manager) Forget(id domain.ParticipantID) {
	m.mu.Lock()
	l := m.links[id]
	delete(m.links, id)
	m.mu.Unlock()
	if l != nil {
		m.closeLink(l, "participant left")
	}
}

func (m *Manager) State(id domain.ParticipantID) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.links[id]; l != nil {
		return l.State
	}
	return Unconnected
}

// Links returns the current links sorted by remote id.
func (m *Manager) Links() []Link {
	m.mu.Lock()
	out := make([]Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l.Link)
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b Link) int { return strings.Compare(string(a.Remote), string(b.Remote)) })
	return out
}

func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		all = append(all, l)
	}
	clear(m.links)
	m.mu.Unlock()
	for _, l := range all {
		m.closeLink(l, "shutdown")
	}
}

func (m *Manager) offer(l *link) {
	conn, err := m.dialer.Dial(l.Remote, m.callbacks(l))
	if err != nil {
		m.fail(l, err, "dial")
		return
	}
	sd, err := conn.CreateOffer()
	if err != nil {
		_ = conn.Close()
		m.fail(l, err, "create offer")
		return
	}
	if !m.attach(l, conn) {
		return
	}
	log.Debug().Str("module", "peer").Str("remote", string(l.Remote)).Msg("offer")
	m.publish(l, Payload{Type: PayloadOffer, Offer: &sd})
}

func (m *Manager) answer(from domain.ParticipantID, offer SessionDescription) error {
	m.mu.Lock()
	if from == "" || from == m.self {
		m.mu.Unlock()
		return ErrNoLink
	}
	old := m.links[from]
	if old != nil && old.Initiator {
		m.mu.Unlock()
		log.Warn().Str("module", "peer").Str("from", string(from)).Msg("offer from lower id ignored")
		return ErrWrongSide
	}
	l := old
	if l == nil || l.conn != nil {
		l = &link{Link: Link{Remote: from, State: Connecting}}
		m.links[from] = l
	} else {
		old = nil
	}
	m.mu.Unlock()

	if old != nil {
		m.closeLink(old, "renegotiated")
	}
	conn, err := m.dialer.Dial(from, m.callbacks(l))
	if err != nil {
		m.fail(l, err, "dial")
		return err
	}
	sd, err := conn.AcceptOffer(offer)
	if err != nil {
		_ = conn.Close()
		m.fail(l, err, "accept offer")
		return err
	}
	if !m.attach(l, conn) {
		return nil
	}
	log.Debug().Str("module", "peer").Str("remote", string(from)).Msg("answer")
	m.publish(l, Payload{Type: PayloadAnswer, Answer: &sd})
	return nil
}

// attach binds conn to l unless l was dropped meanwhile. The latest conn wins.
func (m *Manager) attach(l *link, conn Conn) bool {
	m.mu.Lock()
	if m.links[l.Remote] != l {
		m.mu.Unlock()
		_ = conn.Close()
		return false
	}
	prev := l.conn
	l.conn = conn
	inbox := l.inbox
	l.inbox = nil
	m.mu.Unlock()

	// a newer offer replaced the one this conn was answering
	if prev != nil {
		_ = prev.Close()
	}

	for _, c := range inbox {
		if err := conn.AddCandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.Remote)).Msg("queued candidate")
		}
	}
	return true
}

// publish sends our description, then any candidates held back until it went out.
func (m *Manager) publish(l *link, p Payload) {
	m.send(l.Remote, p)

	m.mu.Lock()
	l.signaled = true
	out := l.outbox
	l.outbox = nil
	m.mu.Unlock()

	for i := range out {
		m.send(l.Remote, Payload{Type: PayloadCandidate, Candidate: &out[i]})
	}
}

func (m *Manager) send(to domain.ParticipantID, p Payload) {
	raw, err := json.Marshal(p)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("encode payload")
		return
	}
	if err := m.signaler.Signal(to, raw); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(to)).Str("type", p.Type).Msg("signal")
	}
}

func (m *Manager) callbacks(l *link) Callbacks {
	return Callbacks{
		Candidate: func(c Candidate) {
			m.mu.Lock()
			if m.links[l.Remote] != l {
				m.mu.Unlock()
				return
			}
			if !l.signaled {
				l.outbox = append(l.outbox, c)
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()
			m.send(l.Remote, Payload{Type: PayloadCandidate, Candidate: &c})
		},
		StateChange: func(s State) {
			switch s {
			case Connected:
				m.mu.Lock()
				if m.links[l.Remote] == l {
					l.State = Connected
				}
				m.mu.Unlock()
				log.Info().Str("module", "peer").Str("remote", string(l.Remote)).Msg("connected")
			case Unconnected:
				m.fail(l, errors.New("connection lost"), "state")
			}
		},
	}
}

// fail removes l if it is still current and closes it.
func (m *Manager) fail(l *link, err error, what string) {
	m.mu.Lock()
	current := m.links[l.Remote] == l
	if current {
		delete(m.links, l.Remote)
	}
	m.mu.Unlock()
	if !current {
		return
	}
	log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.Remote)).Msg(what)
	m.closeLink(l, what)
}

func (m *Manager) closeLink(l *link, reason string) {
	m.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.State = Unconnected
	m.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.Remote)).Msg("close")
	}
	log.Info().Str("module", "peer").Str("remote", string(l.Remote)).Str("reason", reason).Msg("link closed")
}
