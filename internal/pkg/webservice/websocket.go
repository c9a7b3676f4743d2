package webservice

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/gridflex/flexsim/internal/pkg/circuit"
)

// hub tracks websocket clients receiving state summaries.
type hub struct {
	mux      *sync.Mutex
	clients  map[*websocket.Conn]bool
	upgrader websocket.Upgrader
}

func newHub() *hub {
	return &hub{
		mux:     &sync.Mutex{},
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// statusStream upgrades the connection and replays state summaries to
// it until the peer goes away.
func (s *Server) statusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[Webservice] websocket upgrade:", err)
		return
	}
	s.hub.add(conn)

	// Prime the new client with the current state.
	result := s.circuit.SolveAndManage(10)
	if !s.hub.send(conn, s.circuit.StateDetails(result)) {
		return
	}

	// Reads are only for detecting the close handshake.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.remove(conn)
				return
			}
		}
	}()
}

func (h *hub) add(conn *websocket.Conn) {
	h.mux.Lock()
	defer h.mux.Unlock()
	h.clients[conn] = true
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mux.Lock()
	defer h.mux.Unlock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
}

// send writes one summary to one client under the hub lock, which
// serializes writers per connection. Returns false if the client was
// dropped.
func (h *hub) send(conn *websocket.Conn, details circuit.StateDetails) bool {
	h.mux.Lock()
	defer h.mux.Unlock()
	if !h.clients[conn] {
		return false
	}
	if err := conn.WriteJSON(details); err != nil {
		delete(h.clients, conn)
		conn.Close()
		return false
	}
	return true
}

// broadcast pushes a state summary to every connected client, dropping
// the ones that fail to take it.
func (h *hub) broadcast(details circuit.StateDetails) {
	h.mux.Lock()
	defer h.mux.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(details); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}
