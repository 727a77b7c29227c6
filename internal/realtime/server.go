package realtime

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"surfacehost/internal/protocol"
	"surfacehost/internal/service"
	"surfacehost/internal/surface"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Server exposes the surface registry and the hosted services over HTTP, and
// lets websocket clients act as remote views of custom surfaces.
type Server struct {
	reg      *surface.Registry
	services *service.Manager

	// runtime is the runtime context that HTTP writes go through.
	runtime *surface.Dispatcher

	clients   map[*client]bool
	clientsMu sync.RWMutex

	// viewers maps a custom surface name to the client that offered to show it.
	viewers   map[string]*viewer
	viewersMu sync.Mutex
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server

	mu     sync.Mutex
	closed bool
}

// New creates a realtime server. Register Views with the registry's factory
// mux so runtimes can bind custom surfaces to websocket clients.
func New(reg *surface.Registry, services *service.Manager) *Server {
	s := &Server{
		reg:      reg,
		services: services,
		clients:  make(map[*client]bool),
		viewers:  make(map[string]*viewer),
	}
	s.runtime = surface.NewDispatcher(reg, surface.EventHandlerFunc(s.logRuntimeEvent))
	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /surfaces", s.handleListSurfaces)
	mux.HandleFunc("GET /surfaces/{name}", s.handleGetSurface)
	mux.HandleFunc("DELETE /surfaces/{name}", s.handleReleaseSurface)
	mux.HandleFunc("POST /surfaces/{name}/write", s.handleWriteSurface)

	mux.HandleFunc("POST /services", s.handleCreateService)
	mux.HandleFunc("GET /services", s.handleListServices)
	mux.HandleFunc("GET /services/{id}", s.handleGetService)
	mux.HandleFunc("GET /services/{id}/output", s.handleServiceOutput)
	mux.HandleFunc("POST /services/{id}/input", s.handleServiceInput)
	mux.HandleFunc("DELETE /services/{id}", s.handleKillService)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Run delivers view events for surfaces written over HTTP until ctx is done,
// then detaches them.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-s.runtime.Notify():
			s.runtime.Pump()
		case <-ctx.Done():
			s.runtime.Close("server shutting down")
			return nil
		}
	}
}

func (s *Server) logRuntimeEvent(name string, ev surface.ViewEvent) {
	switch ev.Type {
	case surface.EventInputText:
		log.Printf("surface %s: input %q has no runtime to receive it", name, ev.Text)
	case surface.EventDetached:
		log.Printf("surface %s: detached: %s", name, ev.Reason)
	}
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues data for the client without blocking. It reports false when
// the client is gone or its buffer is full.
func (c *client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) sendMessage(msg *protocol.Message) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("websocket encode %s: %v", msg.Type, err)
		return false
	}
	return c.trySend(data)
}

func (c *client) sendError(code, message string) {
	msg, err := protocol.NewErrorMessage(code, message)
	if err != nil {
		return
	}
	c.sendMessage(msg)
}

// removeClient cleans up a disconnected client. Surfaces it was showing are
// detached.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	for _, v := range s.dropViewers(c) {
		v.detach("connection lost")
	}

	c.mu.Lock()
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		c.sendError(protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeViewAttach:
		var p protocol.ViewAttachPayload
		protocol.DecodePayload(msg, &p)
		if code, err := s.offerViewer(c, p.Surface, p.Kind); err != nil {
			c.sendError(code, err.Error())
		}

	case protocol.TypeViewReady:
		var p protocol.SurfacePayload
		protocol.DecodePayload(msg, &p)
		s.emitFrom(c, p.Surface, surface.Ready())

	case protocol.TypeViewInput:
		var p protocol.ViewInputPayload
		protocol.DecodePayload(msg, &p)
		s.emitFrom(c, p.Surface, surface.InputText(p.Text))

	case protocol.TypeViewResized:
		var p protocol.ViewResizedPayload
		protocol.DecodePayload(msg, &p)
		s.emitFrom(c, p.Surface, surface.Resized(p.Width, p.Height))

	case protocol.TypeViewDetach:
		var p protocol.ViewDetachPayload
		protocol.DecodePayload(msg, &p)
		reason := p.Reason
		if reason == "" {
			reason = "detached by view"
		}
		if v, ok := s.dropViewer(c, p.Surface); ok {
			v.detach(reason)
		}
	}
}

// emitFrom passes an event from c to the surface it is bound to.
func (s *Server) emitFrom(c *client, name string, ev surface.ViewEvent) {
	s.viewersMu.Lock()
	v, ok := s.viewers[name]
	s.viewersMu.Unlock()

	if !ok || v.client != c {
		c.sendError(protocol.ErrSurfaceNotFound, "not viewing surface "+name)
		return
	}
	if err := v.emit(ev); err != nil {
		c.sendError(protocol.CodeFor(err), err.Error())
	}
}
