package signal

import "github.com/dkeye/proximity/internal/protocol"

func (ctl *SignalWSController) handlePing(conn *wsSignalConn) {
	ctl.send(conn, protocol.Pong{Type: protocol.MsgPong})
}
