package embed

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/embedchat/backend/internal/model/chat"
	"github.com/zhouzirui/embedchat/backend/internal/model/event"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 54 * time.Second
)

// wsError 在WebSocket上代替HTTP状态码返回的错误信封
type wsError struct {
	Type    string            `json:"type"`
	Error   string            `json:"error"`
	Details []chat.FieldError `json:"details,omitempty"`
}

// handleWebSocket 每条文本消息都是一轮对话请求，事件以JSON信封逐条返回
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	embedID := chi.URLParam(r, "embedId")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for embed: %s", embedID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	go pingLoop(ctx, conn)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if msgType != websocket.TextMessage {
			sendError(conn, wsError{Type: "error", Error: "only text messages are supported"})
			continue
		}

		req, err := chat.ParseTurnRequest(payload)
		if err != nil {
			envelope := wsError{Type: "error", Error: err.Error()}
			var verr *chat.ValidationError
			if errors.As(err, &verr) {
				envelope.Error = "invalid chat request"
				envelope.Details = verr.Fields
			}
			sendError(conn, envelope)
			continue
		}

		res := h.runner.Run(ctx, h.buildTurn(embedID, req), wsEmitter{conn: conn})
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		log.Printf("[websocket] turn done embed=%s session=%s outcome=%s", embedID, req.SessionID, res.Outcome)
	}
}

// wsEmitter 每个事件写成一条WebSocket文本消息
type wsEmitter struct {
	conn *websocket.Conn
}

func (e wsEmitter) Emit(_ context.Context, ev event.Event) error {
	_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return e.conn.WriteJSON(ev.Envelope())
}

func sendError(conn *websocket.Conn, msg wsError) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
