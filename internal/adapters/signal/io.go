package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/proximity/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, cancel context.CancelFunc, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Opts.WriteTimeout)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, s *session) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", s.sid).Str("id", string(s.id)).Msg("readPump closing")
		cancel()
		ctl.disconnect(s)
	}()

	ws := s.conn.conn
	ws.SetReadLimit(ctl.Opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(ctl.Opts.pongWait()))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(ctl.Opts.pongWait()))
	})

	// Unblock ReadMessage when the server shuts down.
	go func() {
		<-ctx.Done()
		_ = ws.SetReadDeadline(time.Now())
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", s.sid).Msg("readPump read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(ctl.Opts.pongWait()))
		ctl.handleMessage(s, data)
	}
}

// handleMessage never lets a bad message close the connection.
func (ctl *SignalWSController) handleMessage(s *session, data []byte) {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", s.sid).Msg("malformed message dropped")
		ctl.Metrics.Malformed(malformedReason(err))
		return
	}

	switch m := msg.(type) {
	case protocol.Join:
		ctl.handleJoin(s, m)
	case protocol.Move:
		ctl.handleMove(s, m)
	case protocol.Leave:
		ctl.handleLeave(s)
	case protocol.Signal:
		ctl.handleRelay(s, m)
	case protocol.Ping:
		ctl.handlePing(s.conn)
	}
}

func malformedReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, protocol.ErrMissingField):
		return "missing_field"
	case errors.Is(err, protocol.ErrEmpty):
		return "empty"
	default:
		return "invalid_json"
	}
}

func (ctl *SignalWSController) send(c *wsSignalConn, m protocol.Message) {
	b, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send encode")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("type", m.MessageType()).Msg("send dropped")
	}
}
