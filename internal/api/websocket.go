package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"pvpserver/internal/dispatcher"
	"pvpserver/internal/lagcomp"
	"pvpserver/internal/metrics"
	"pvpserver/internal/session"
	"pvpserver/internal/snapshot"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed.
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP.
	MaxWSConnectionsPerIP = 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if IsAllowedOrigin(origin) {
			return true
		}
		log.Printf("websocket connection rejected from origin: %s", origin)
		metrics.RecordConnectionRejected("origin")
		return false
	},
}

// clientFrame is the envelope for a message sent by a connected client.
// Type is one of "input", "join", or "shot".
type clientFrame struct {
	Type  string        `json:"type"`
	Name  string        `json:"name,omitempty"`
	Input session.Input `json:"input,omitempty"`
	Shot  *shotClaim    `json:"shot,omitempty"`
}

// shotClaim is a client's assertion that a shot fired at ClientTimestamp
// hit something. The server validates it against rewound history; the
// shooter is always the connection's bound player, never a payload field.
type shotClaim struct {
	ClientTimestamp uint64  `json:"client_timestamp"`
	OriginX         float64 `json:"origin_x"`
	OriginY         float64 `json:"origin_y"`
	DirX            float64 `json:"dir_x"`
	DirY            float64 `json:"dir_y"`
}

// serverFrame is the envelope for a message pushed to connected clients.
type serverFrame struct {
	Type      string             `json:"type"`
	Sequence  uint32             `json:"sequence,omitempty"`
	Snapshot  *snapshot.Snapshot `json:"snapshot,omitempty"`
	Delta     *snapshot.Delta    `json:"delta,omitempty"`
	HitResult *lagcomp.HitResult `json:"hit_result,omitempty"`
}

// defaultInputDt is used for a client's first input frame, when there is no
// prior timestamp to derive an elapsed time from.
const defaultInputDt = 1.0 / 60.0

// maxInputDt bounds the elapsed time applied to a single input, so a client
// that stalls and resumes doesn't teleport on its next frame.
const maxInputDt = 0.25

// wsClient tracks one WebSocket connection bound to a player.
type wsClient struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex // serializes writes: broadcasts race shot replies
	ip           string
	playerID     string
	lastInputMs  uint64
	haveLastTime bool
}

func (c *wsClient) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WebSocketHub fans out state broadcasts (full keyframes and deltas) to
// connected clients and feeds parsed client input into the session
// dispatcher. One endpoint
// handle (a monotonically increasing connection id) is assigned per
// connection so a reconnect under the same player id can reclaim the
// dispatcher's mapping without destroying in-session state.
type WebSocketHub struct {
	dispatcher *dispatcher.Dispatcher

	mu      sync.RWMutex
	clients map[string]*wsClient // endpoint handle -> client

	nextHandle uint64 // atomic

	wsLimiter *WebSocketRateLimiter
}

// NewWebSocketHub creates a hub bound to the given dispatcher.
func NewWebSocketHub(d *dispatcher.Dispatcher) *WebSocketHub {
	h := &WebSocketHub{
		dispatcher: d,
		clients:    make(map[string]*wsClient),
		wsLimiter:  NewWebSocketRateLimiter(MaxWSConnectionsPerIP),
	}
	d.SetBroadcastHook(h.broadcastSnapshot)
	return h
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHub) broadcastSnapshot(snap snapshot.Snapshot, delta *snapshot.Delta) {
	if h.ClientCount() == 0 {
		return
	}
	frame := serverFrame{Type: "state_full", Sequence: snap.Sequence, Snapshot: &snap}
	if delta != nil {
		frame = serverFrame{Type: "state_delta", Sequence: snap.Sequence, Delta: delta}
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	h.mu.RLock()
	stale := make([]string, 0)
	for handle, client := range h.clients {
		if err := client.write(data); err != nil {
			stale = append(stale, handle)
			continue
		}
		metrics.WSMessagesTotal.Inc()
	}
	h.mu.RUnlock()

	for _, handle := range stale {
		h.drop(handle)
	}
}

func (h *WebSocketHub) drop(handle string) {
	h.mu.Lock()
	client, ok := h.clients[handle]
	if ok {
		delete(h.clients, handle)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	client.conn.Close()
	h.wsLimiter.Release(client.ip)
	h.dispatcher.OnClientDisconnect(handle)
	metrics.WSConnectionsActive.Set(float64(h.ClientCount()))
}

// HandleWebSocket upgrades the request and binds the connection to the
// dispatcher once the client identifies itself with a "join" frame.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if h.ClientCount() >= MaxWSConnectionsTotal {
		metrics.RecordConnectionRejected("ws_total_limit")
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.wsLimiter.Allow(ip) {
		metrics.RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.wsLimiter.Release(ip)
		return
	}

	handle := fmt.Sprintf("ws-%d", atomic.AddUint64(&h.nextHandle, 1))
	client := &wsClient{conn: conn, ip: ip}

	h.mu.Lock()
	h.clients[handle] = client
	h.mu.Unlock()
	metrics.WSConnectionsActive.Set(float64(h.ClientCount()))

	go h.readLoop(handle, client)
}

func (h *WebSocketHub) readLoop(handle string, client *wsClient) {
	defer h.drop(handle)

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "join":
			if frame.Name == "" {
				continue
			}
			h.mu.Lock()
			client.playerID = frame.Name
			h.mu.Unlock()
			h.dispatcher.OnClientConnect(frame.Name, handle)
		case "input":
			h.mu.Lock()
			playerID := client.playerID
			dt := defaultInputDt
			if client.haveLastTime && frame.Input.ClientTimestamp > client.lastInputMs {
				if d := float64(frame.Input.ClientTimestamp-client.lastInputMs) / 1000.0; d < maxInputDt {
					dt = d
				} else {
					dt = maxInputDt
				}
			}
			client.lastInputMs = frame.Input.ClientTimestamp
			client.haveLastTime = true
			h.mu.Unlock()

			if playerID == "" {
				continue
			}
			h.dispatcher.OnClientInput(playerID, frame.Input, dt)
		case "shot":
			if frame.Shot == nil {
				continue
			}
			h.mu.RLock()
			playerID := client.playerID
			h.mu.RUnlock()
			if playerID == "" {
				continue
			}
			result := h.dispatcher.OnShotClaim(playerID, lagcomp.HitRequest{
				ClientTimestamp: frame.Shot.ClientTimestamp,
				OriginX:         frame.Shot.OriginX,
				OriginY:         frame.Shot.OriginY,
				DirX:            frame.Shot.DirX,
				DirY:            frame.Shot.DirY,
			}, uint64(time.Now().UnixMilli()))
			reply := serverFrame{Type: "hit_result", HitResult: &result}
			data, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			if err := client.write(data); err != nil {
				return
			}
			metrics.WSMessagesTotal.Inc()
		}
	}
}
