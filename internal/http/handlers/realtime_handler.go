// README: Websocket endpoint that runs one realtime session per connection.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"diomy/internal/modules/realtime"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

type RealtimeHandler struct {
	deps     realtime.Deps
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewRealtimeHandler(deps realtime.Deps, log *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Clients are native apps; the token already authenticates the caller.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Serve upgrades the connection and streams directives until either side
// goes away.
// The optional since query parameter (RFC 3339) tells when the client was
// last in sync, so a trip that ended in between is replayed.
func (h *RealtimeHandler) Serve(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Warn("websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	actorID := caller(c)
	// A hijacked connection does not cancel the request context; the read
	// pump does when the peer goes away.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		readPump(conn)
	}()
	go func() {
		defer wg.Done()
		pingLoop(ctx, conn)
	}()

	sess := realtime.NewSession(actorID, &wsSink{conn: conn}, h.deps).Since(since)
	if err := sess.Run(ctx); err != nil {
		h.log.Info("realtime session ended", "actor_id", actorID, "err", err)
	}
	cancel()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	_ = conn.Close()
	wg.Wait()
}

// wsSink writes directives as JSON text frames. Only the session goroutine
// calls Send, which is the single writer gorilla requires.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(_ context.Context, d realtime.Directive) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(d)
}

// readPump discards client frames; it exists to process control frames and
// notice the peer closing.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(wsPingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
