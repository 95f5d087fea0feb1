package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"reportsync/internal/download"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 10 * time.Second
)

// Stream message types
const (
	streamSnapshot = "snapshot"
	streamState    = "state"
)

// streamMessage is one WebSocket frame of the state stream. Clients order
// "state" messages per artifact by revision.
type streamMessage struct {
	Type   string                     `json:"type"`
	States []download.DependencyState `json:"states,omitempty"`
	State  *download.DependencyState  `json:"state,omitempty"`
}

// StreamDownloads handles GET /v1/downloads/stream. It sends a snapshot of
// every artifact followed by one message per applied transition. A client
// that falls behind gets a fresh snapshot instead of the missed messages.
func (h *Handler) StreamDownloads(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	store := h.downloads.Store()
	feed := newStateFeed(streamBuffer)
	unsubscribe := store.Subscribe(feed.push)
	defer unsubscribe()

	write := func(msg streamMessage) error {
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(msg)
	}

	if err := write(streamMessage{Type: streamSnapshot, States: store.Snapshot()}); err != nil {
		return
	}

	// The reader only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-h.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-feed.resync:
			feed.discard()
			if err := write(streamMessage{Type: streamSnapshot, States: store.Snapshot()}); err != nil {
				slog.Debug("State stream closed", "error", err)
				return
			}
		case st := <-feed.updates:
			if err := write(streamMessage{Type: streamState, State: &st}); err != nil {
				slog.Debug("State stream closed", "error", err)
				return
			}
		}
	}
}

// stateFeed buffers transitions for one stream. When the buffer is full the
// transition is dropped and a resync is signalled on its own channel, so the
// snapshot goes out even if no further transition follows.
type stateFeed struct {
	updates chan download.DependencyState
	resync  chan struct{}
}

func newStateFeed(size int) *stateFeed {
	return &stateFeed{
		updates: make(chan download.DependencyState, size),
		resync:  make(chan struct{}, 1),
	}
}

func (f *stateFeed) push(s download.DependencyState) {
	select {
	case f.updates <- s:
	default:
		select {
		case f.resync <- struct{}{}:
		default:
		}
	}
}

// discard drops buffered transitions a snapshot supersedes.
func (f *stateFeed) discard() {
	for {
		select {
		case <-f.updates:
		default:
			return
		}
	}
}
