package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/proximity/internal/app"
	"github.com/dkeye/proximity/internal/core"
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:    32768,
		PingPeriod:   54 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   64,
	}
}

// pongWait must exceed the ping period so one lost pong is tolerated.
func (o Options) pongWait() time.Duration {
	return o.PingPeriod * 10 / 9
}

type SignalWSController struct {
	Registry *app.Registry
	Metrics  *app.Metrics
	Limiter  *JoinLimiter
	Opts     Options

	upgrader websocket.Upgrader
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = d.PingPeriod
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	return o
}

func NewSignalWSController(reg *app.Registry, metrics *app.Metrics, limiter *JoinLimiter, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	return &SignalWSController{
		Registry: reg,
		Metrics:  metrics,
		Limiter:  limiter,
		Opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wsSignalConn is the connection handle the registry fans out to.
type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	remote := c.ClientIP()
	log.Info().Str("module", "signal").Str("sid", sid).Str("remote", remote).Msg("new WS connection")

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Opts.SendBuffer),
	}
	s := &session{sid: sid, remote: remote, conn: conn}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, conn)
	go ctl.readPump(ctx, cancel, s)
}
