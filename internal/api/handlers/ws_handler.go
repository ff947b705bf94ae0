package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoobatch/internal/notify"
	"github.com/yoockh/yoobatch/internal/utils"
)

// EventSource opens a subscription to a user's event channel.
type EventSource interface {
	Subscribe(ctx context.Context, userID string) *redis.PubSub
}

type WSHandler struct {
	scheduler Scheduler
	events    EventSource
	log       *logrus.Logger
	upgrader  websocket.Upgrader
}

func NewWSHandler(scheduler Scheduler, events EventSource, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		scheduler: scheduler,
		events:    events,
		log:       log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

type wsClientMsg struct {
	Type string `json:"type"` // "message" | "ping"
	Text string `json:"text"`
}

type wsErrorMsg struct {
	Type    string     `json:"type"`
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.writeText(b)
}

func (w *wsConn) writeError(err error) error {
	return w.writeJSON(wsErrorMsg{Type: "error", Code: utils.CodeOf(err), Message: notify.UserText(err)})
}

// Chat upgrades to a websocket. Inbound {"type":"message"} frames are
// submitted; every event published for the user is forwarded as-is.
func (h *WSHandler) Chat(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	pubsub := h.events.Subscribe(ctx, userID)
	defer pubsub.Close()

	log := h.log.WithField("user_id", userID)

	// reader: WS -> scheduler
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = wc.writeJSON(wsErrorMsg{Type: "error", Code: utils.CodeInvalidArgument, Message: "invalid json"})
				continue
			}

			switch msg.Type {
			case "message":
				if err := h.scheduler.Submit(ctx, userID, msg.Text); err != nil {
					log.WithError(err).Warn("ws submit failed")
					_ = wc.writeError(err)
					continue
				}
				_ = wc.writeText([]byte(`{"type":"ack","status":"buffered"}`))

			case "ping":
				_ = wc.writeText([]byte(`{"type":"pong"}`))

			default:
				_ = wc.writeJSON(wsErrorMsg{Type: "error", Code: utils.CodeInvalidArgument, Message: "unknown message type"})
			}
		}
	}()

	// writer: Redis Pub/Sub -> WS
	events := pubsub.Channel()
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case m, ok := <-events:
			if !ok {
				return
			}
			if werr := wc.writeText([]byte(m.Payload)); werr != nil {
				return
			}
		}
	}
}
