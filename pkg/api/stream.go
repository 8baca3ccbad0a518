package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dsa110/taskq/pkg/events"
	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/queue"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// Dashboards are served from other origins, so the stream accepts any.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// stream upgrades to a websocket and forwards events, optionally filtered by
// ?queue=. When a queue is given the first message is its current stats.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	if h.Fanout == nil {
		respondError(w, r, h.log, notConfigured("event stream"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.WarnContext(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	queueName := r.URL.Query().Get("queue")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.Fanout.Subscribe(ctx, queueName)
	defer sub.Close()

	log := h.log.With(logger.Queue(queueName), logger.Component("stream"))
	log.DebugContext(ctx, "stream client connected")

	go h.readPump(conn, cancel)

	if queueName != "" {
		if counts, err := h.Client.QueueStats(ctx, queueName); err == nil {
			snapshot := events.Event{
				Type:      events.TypeQueueStatsUpdate,
				Queue:     queueName,
				Stats:     queue.FillStatusCounts(counts),
				Timestamp: h.Now().UTC(),
			}
			if err := writeEvent(conn, snapshot); err != nil {
				return
			}
		}
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(streamWriteWait))
			return
		case event, ok := <-sub.Events():
			if !ok {
				// Dropped for falling behind, or the fanout shut down.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "stream closed"), time.Now().Add(streamWriteWait))
				return
			}
			if err := writeEvent(conn, event); err != nil {
				log.DebugContext(ctx, "stream write failed", logger.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close messages are processed.
func (h *handlers) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, event events.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(event)
}
