package reach

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const (
	subscriberBuffer = 16
	writeTimeout     = 5 * time.Second
)

// streamMessage is one frame on the events websocket.
type streamMessage struct {
	Type    string        `json:"type"` // "snapshot" or "change"
	Targets []TargetState `json:"targets,omitempty"`
	Change  *StatusChange `json:"change,omitempty"`
}

// hub fans status changes out to websocket clients. Slow clients lose
// messages rather than stall the run loop.
type hub struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[chan StatusChange]struct{}
}

func newHub(logger *zap.Logger) *hub {
	return &hub{logger: logger, subs: make(map[chan StatusChange]struct{})}
}

func (h *hub) subscribe() chan StatusChange {
	ch := make(chan StatusChange, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan StatusChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) broadcast(c StatusChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- c:
		default:
			h.logger.Debug("dropping change for slow websocket client", zap.String("target", c.Target))
		}
	}
}

// closeAll disconnects every client.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// handleEvents streams a snapshot followed by every status change.
func (m *Module) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		m.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ch := m.hub.subscribe()
	defer m.hub.unsubscribe(ch)

	// Clients only listen; CloseRead handles their close frames.
	ctx := conn.CloseRead(r.Context())

	if err := m.writeFrame(ctx, conn, streamMessage{Type: "snapshot", Targets: m.States()}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := m.writeFrame(ctx, conn, streamMessage{Type: "change", Change: &c}); err != nil {
				return
			}
		}
	}
}

func (m *Module) writeFrame(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		m.logger.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}
