package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

const (
	// DefaultHistory is how many events are replayed to a late subscriber
	DefaultHistory = 256

	sendBuffer = 64
	writeWait  = 10 * time.Second
)

// Run states reported in the status snapshot
const (
	StateIdle     = "idle"
	StateStarting = "starting"
	StateRunning  = "running"
	StateFinished = "finished"
)

// Worker states reported in the status snapshot
const (
	WorkerAdmitted = "admitted"
	WorkerFinished = "finished"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans run events out to websocket subscribers and folds them into a
// status snapshot
type Hub struct {
	mu         sync.Mutex
	clients    map[*client]struct{}
	history    [][]byte
	maxHistory int
	status     models.RunStatus
	workers    map[int]*models.WorkerStatus
	log        *slog.Logger
}

// NewHub creates a hub keeping the last maxHistory events for replay
func NewHub(maxHistory int, logger *slog.Logger) *Hub {
	if maxHistory <= 0 {
		maxHistory = DefaultHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		maxHistory: maxHistory,
		status:     models.RunStatus{State: StateIdle, Workers: []models.WorkerStatus{}},
		workers:    make(map[int]*models.WorkerStatus),
		log:        logger.With("component", "stream"),
	}
}

// Publish records an event and broadcasts it. Slow subscribers drop events
// rather than blocking the run.
func (h *Hub) Publish(event models.RunEvent) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	message, err := json.Marshal(event)
	if err != nil {
		h.log.Error("Failed to encode event", "type", event.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.apply(event)

	h.history = append(h.history, message)
	if len(h.history) > h.maxHistory {
		h.history = h.history[len(h.history)-h.maxHistory:]
	}

	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			h.log.Warn("Dropping event for slow subscriber", "type", event.Type)
		}
	}
}

// apply folds event into the status snapshot. Callers hold h.mu.
func (h *Hub) apply(event models.RunEvent) {
	h.status.UpdatedAt = event.Time

	switch event.Type {
	case models.EventRunStarted:
		h.status = models.RunStatus{
			RunID:     event.RunID,
			State:     StateStarting,
			StartedAt: event.Time,
			UpdatedAt: event.Time,
		}
		h.workers = make(map[int]*models.WorkerStatus)
	case models.EventTunnelOpen:
		h.status.State = StateRunning
	case models.EventWorkerAdmitted:
		h.worker(event).State = WorkerAdmitted
	case models.EventWorkerFinished:
		w := h.worker(event)
		w.State = WorkerFinished
		w.ExitCode = event.ExitCode
		w.Message = event.Message
	case models.EventRunFinished:
		h.status.State = StateFinished
		exitCode := event.ExitCode
		h.status.ExitCode = &exitCode
	}
}

func (h *Hub) worker(event models.RunEvent) *models.WorkerStatus {
	w, ok := h.workers[event.Index]
	if !ok {
		w = &models.WorkerStatus{Index: event.Index, Browser: event.Browser}
		h.workers[event.Index] = w
	}
	return w
}

// Snapshot returns the current run status
func (h *Hub) Snapshot() models.RunStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := h.status
	if status.ExitCode != nil {
		exitCode := *status.ExitCode
		status.ExitCode = &exitCode
	}
	status.Workers = make([]models.WorkerStatus, 0, len(h.workers))
	for _, w := range h.workers {
		status.Workers = append(status.Workers, *w)
	}
	sort.Slice(status.Workers, func(i, j int) bool {
		return status.Workers[i].Index < status.Workers[j].Index
	})
	return status
}

// Subscribers returns the number of connected websocket clients
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket, replays recent events and
// streams new ones until the client goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer+h.maxHistory)}

	h.mu.Lock()
	for _, message := range h.history {
		c.send <- message
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("Subscriber connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeMessages(c)
	}()

	h.readUntilClosed(c)

	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	<-done
	conn.Close()
	h.log.Debug("Subscriber disconnected", "remote", r.RemoteAddr)
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) writeMessages(c *client) {
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.log.Debug("Failed to write event", "err", err)
			c.conn.Close()
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}

// readUntilClosed discards inbound frames; it returns once the peer closes
func (h *Hub) readUntilClosed(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug("Subscriber read error", "err", err)
			}
			return
		}
	}
}
