package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/protocol"
)

// session is the per-connection state. Only the read pump touches it.
type session struct {
	sid    string
	remote string
	conn   *wsSignalConn

	id     domain.ParticipantID
	joined bool
}

func (ctl *SignalWSController) handleJoin(s *session, m protocol.Join) {
	if !ctl.Limiter.Allow(s.remote) {
		log.Warn().Str("module", "signal").Str("sid", s.sid).Str("remote", s.remote).Msg("join rate limited")
		ctl.send(s.conn, protocol.NewError("rate_limited"))
		return
	}
	// one participant per connection: a second join replaces the first
	if s.joined {
		ctl.Registry.Leave(s.id)
		log.Info().Str("module", "signal").Str("sid", s.sid).Str("id", string(s.id)).Msg("rejoin, previous session left")
	}
	id, _ := ctl.Registry.Join(s.conn, m.Name)
	s.id, s.joined = id, true
	log.Info().Str("module", "signal").Str("sid", s.sid).Str("id", string(id)).Msg("join")
}

func (ctl *SignalWSController) handleMove(s *session, m protocol.Move) {
	if !s.joined {
		return
	}
	ctl.Registry.Move(s.id, m.X, m.Y)
}

func (ctl *SignalWSController) handleLeave(s *session) {
	if !s.joined {
		return
	}
	log.Info().Str("module", "signal").Str("sid", s.sid).Str("id", string(s.id)).Msg("leave")
	ctl.Registry.Leave(s.id)
	s.joined = false
}

func (ctl *SignalWSController) handleRelay(s *session, m protocol.Signal) {
	if !s.joined {
		log.Debug().Str("module", "signal").Str("sid", s.sid).Msg("signal before join ignored")
		return
	}
	ctl.Registry.RelaySignal(s.id, m.TargetID, m.Payload)
}

// disconnect runs once when the transport goes away.
func (ctl *SignalWSController) disconnect(s *session) {
	if s.joined && ctl.Registry.Disconnect(s.id) {
		return
	}
	s.conn.Close()
}
