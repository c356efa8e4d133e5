// Package control implements the optional out-of-band handshake that lets
// a sender and receiver learn each other's UDP four-tuple before the data
// plane starts. It is not part of the media transport itself - once both
// sides have exchanged addresses the websocket connection is idle, and all
// subsequent traffic moves over the raw UDP socket in transport.Conn.
package control

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

// Message is the single JSON envelope exchanged over the control socket.
// Type is one of "hello" (announce a UDP address) or "peer" (the hub
// telling a peer about the other side's address).
type Message struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	ID      string `json:"id"`
	UDPAddr string `json:"udp_addr"`
}

// Peer is one websocket client of the hub. Writes go through send so that
// a single goroutine owns the connection's write side.
type Peer struct {
	ID   string
	Room string
	conn *websocket.Conn
	send chan []byte

	udpAddr string
}

// Hub pairs peers within a room and, once both have announced a UDP
// address, notifies both via OnPaired.
type Hub struct {
	log log.Interface

	mu    sync.Mutex
	rooms map[string]map[string]*Peer

	// OnPaired is invoked (if set) once both members of a room have
	// announced their UDP address, with the room id and the two
	// (id, addr) pairs: first the peer whose announcement completed the
	// pair, then the other peer.
	OnPaired func(room string, a, b Message)
}

// NewHub constructs an empty Hub.
func NewHub(logger log.Interface) *Hub {
	return &Hub{log: logger, rooms: make(map[string]map[string]*Peer)}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the connection and runs its read/write pumps until the
// peer disconnects. room and id come from the query string.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	id := r.URL.Query().Get("id")
	if room == "" || id == "" {
		http.Error(w, "room and id are required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("control: upgrade failed")
		return
	}

	p := &Peer{ID: id, Room: room, conn: conn, send: make(chan []byte, 8)}
	h.register(p)

	go h.writePump(p)
	h.readPump(p)

	h.unregister(p)
}

func (h *Hub) register(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[p.Room] == nil {
		h.rooms[p.Room] = make(map[string]*Peer)
	}
	h.rooms[p.Room][p.ID] = p
}

func (h *Hub) unregister(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.rooms[p.Room]; ok {
		if cur, ok := peers[p.ID]; ok && cur == p {
			delete(peers, p.ID)
			close(p.send)
		}
		if len(peers) == 0 {
			delete(h.rooms, p.Room)
		}
	}
}

func (h *Hub) writePump(p *Peer) {
	defer p.conn.Close()
	for msg := range p.send {
		if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.WithError(err).WithField("peer", p.ID).Warn("control: write failed")
			return
		}
	}
}

func (h *Hub) readPump(p *Peer) {
	defer p.conn.Close()
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.log.WithError(err).Warn("control: bad JSON")
			continue
		}
		if msg.Type == "hello" {
			h.onHello(p, msg)
		}
	}
}

func (h *Hub) onHello(p *Peer, msg Message) {
	h.mu.Lock()
	p.udpAddr = msg.UDPAddr
	peers := h.rooms[p.Room]
	var other *Peer
	for id, q := range peers {
		if id != p.ID {
			other = q
			break
		}
	}
	var mine, theirs Message
	ready := other != nil && other.udpAddr != ""
	if ready {
		mine = Message{Type: "peer", Room: p.Room, ID: other.ID, UDPAddr: other.udpAddr}
		theirs = Message{Type: "peer", Room: p.Room, ID: p.ID, UDPAddr: p.udpAddr}
	}
	h.mu.Unlock()

	if !ready {
		return
	}
	h.send(p, mine)
	h.send(other, theirs)

	if h.OnPaired != nil {
		h.OnPaired(p.Room, Message{ID: p.ID, UDPAddr: p.udpAddr}, Message{ID: other.ID, UDPAddr: other.udpAddr})
	}
}

func (h *Hub) send(p *Peer, msg Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case p.send <- raw:
	default:
		h.log.WithField("peer", p.ID).Warn("control: send buffer full, dropping")
	}
}
