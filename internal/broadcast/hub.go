package broadcast

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gestionsostenible/console-core/internal/infrastructure/config"
	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
)

// peerSendBuffer is the per-peer outbound frame buffer size.
const peerSendBuffer = 64

// Hub manages WebSocket peer links: the direct-connection channel of the
// broadcast protocol. Peers are frames, openers and children of the same
// console shell; every frame received from one peer is handed to the
// receiver and relayed to all the others, never back to the sender.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	peers   map[*Peer]struct{}
	receive func(peer *Peer, data []byte)
}

// Peer is one connected peer link.
type Peer struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates the peer hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		peers:  make(map[*Peer]struct{}),
	}
}

// SetReceiver installs the handler for inbound peer frames. Must be set
// before the first peer connects.
func (h *Hub) SetReceiver(fn func(peer *Peer, data []byte)) {
	h.mu.Lock()
	h.receive = fn
	h.mu.Unlock()
}

// Run blocks until ctx is cancelled, then disconnects all peers.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// TrustedOrigin reports whether a request may open a peer link: the API's
// own origin, a configured trusted origin, or a sourceless origin ("null"
// or absent, as sent by sandboxed same-origin frames). Everything else is
// rejected.
func (h *Hub) TrustedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	for _, trusted := range h.cfg.TrustedOrigins {
		if origin == trusted {
			return true
		}
	}
	return false
}

// HandlePeer upgrades the request to a peer link. Untrusted origins are
// rejected silently at the upgrade handshake.
func (h *Hub) HandlePeer(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.TrustedOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("peer link upgrade rejected", "origin", r.Header.Get("Origin"), "error", err)
		return
	}

	peer := &Peer{
		hub:  h,
		conn: conn,
		send: make(chan []byte, peerSendBuffer),
	}
	h.register(peer)

	go peer.writePump(h.cfg)
	go peer.readPump(h.cfg)
}

// Broadcast sends a frame to every peer except the one it arrived from.
// except is nil for locally originated frames.
func (h *Hub) Broadcast(data []byte, except *Peer) {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.peers))
	for peer := range h.peers {
		if peer != except {
			peers = append(peers, peer)
		}
	}
	h.mu.RUnlock()

	for _, peer := range peers {
		peer.trySend(data)
	}
}

// PeerCount returns the number of connected peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) register(peer *Peer) {
	h.mu.Lock()
	h.peers[peer] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("peer link connected", "peers", h.PeerCount())
}

// unregister removes a peer. Only the goroutine that successfully removes
// the peer closes the send channel, preventing double-close panics.
func (h *Hub) unregister(peer *Peer) {
	h.mu.Lock()
	_, existed := h.peers[peer]
	delete(h.peers, peer)
	h.mu.Unlock()

	if existed {
		close(peer.send)
	}
	h.logger.Debug("peer link disconnected", "peers", h.PeerCount())
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for peer := range h.peers {
		close(peer.send)
		if peer.conn != nil {
			peer.conn.Close()
		}
		delete(h.peers, peer)
	}
}

func (h *Hub) dispatch(peer *Peer, data []byte) {
	h.mu.RLock()
	receive := h.receive
	h.mu.RUnlock()
	if receive != nil {
		receive(peer, data)
	}
}

func (p *Peer) readPump(cfg config.WebSocketConfig) {
	defer func() {
		p.hub.unregister(p)
		p.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		p.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval, pongWait := keepaliveIntervals(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	p.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.hub.logger.Warn("peer link read error", "error", err)
			} else {
				p.hub.logger.Debug("peer link closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		p.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		p.hub.dispatch(p, message)
	}
}

func (p *Peer) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := keepaliveIntervals(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				p.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			p.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			p.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func keepaliveIntervals(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping = time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	pong = time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = 60 * time.Second
	}
	return ping, pong
}

// trySend drops the frame when the peer's buffer is full or the channel
// closed mid-broadcast; a lagging peer re-converges on its next update.
func (p *Peer) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case p.send <- data:
	default:
	}
}
