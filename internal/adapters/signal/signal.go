package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Calls/internal/app/orch"
	"github.com/dkeye/Calls/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Options tune every connection served by a controller.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	WriteWait  time.Duration
	SendBuffer int
	// RateLimit control messages per RateInterval; zero disables the limiter.
	RateLimit    int
	RateInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.RateInterval <= 0 {
		o.RateInterval = time.Second
	}
	return o
}

type SignalWSController struct {
	Orch *orch.Orchestrator

	opts     Options
	limiter  *RateLimiter
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	ctl := &SignalWSController{
		Orch: o,
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if opts.RateLimit > 0 {
		ctl.limiter = NewRateLimiter(opts.RateLimit, opts.RateInterval)
	}
	return ctl
}

type outFrame struct {
	kind int
	data core.Frame
}

// WsSignalConn is a transport endpoint (WebSocket).
// It implements core.SignalConnection; frames leave in the order they were queued.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan outFrame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan outFrame, buffer),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	return c.enqueue(websocket.TextMessage, f)
}

func (c *WsSignalConn) TrySendBinary(f core.Frame) error {
	return c.enqueue(websocket.BinaryMessage, f)
}

func (c *WsSignalConn) enqueue(kind int, f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- outFrame{kind: kind, data: f}:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades a gin request. The client token set by the router
// middleware is attached to the session for log correlation.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ctl.ServeWS(ctx, c.Writer, c.Request, c.GetString("client_token"))
}

// ServeWS upgrades the request, registers a new session and starts its pumps.
func (ctl *SignalWSController) ServeWS(ctx context.Context, w http.ResponseWriter, r *http.Request, client string) {
	ws, err := ctl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := core.NewSessionID()
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("remote", r.RemoteAddr).Msg("new WS connection")

	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	ctx, cancel := context.WithCancel(ctx)

	go ctl.writePump(ctx, conn)
	if err := ctl.Orch.OnOpen(sid, conn, client); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("register session")
		cancel()
		conn.Close()
		return
	}
	go ctl.readPump(ctx, cancel, sid, conn)
}
