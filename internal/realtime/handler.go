package realtime

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades HTTP requests into STOMP sessions.
type Handler struct {
	broker   *Broker
	auth     Authenticator
	sender   MessageSender
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
}

func NewHandler(broker *Broker, authn Authenticator, sender MessageSender, allowedOrigins []string) *Handler {
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return &Handler{
		broker: broker,
		auth:   authn,
		sender: sender,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{"v12.stomp", "v11.stomp", "v10.stomp"},
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
		sessions: make(map[*session]struct{}),
	}
}

// ServeWS accepts raw STOMP over WebSocket. A plain GET gets the SockJS
// greeting.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
		_, _ = w.Write([]byte("Welcome to SockJS!\n"))
		return
	}
	h.serve(w, r, rawCodec{})
}

// ServeSockJS accepts the SockJS websocket transport at
// /ws/{server}/{session}/websocket.
func (h *Handler) ServeSockJS(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, sockJSCodec{})
}

type sockJSInfo struct {
	WebSocket    bool     `json:"websocket"`
	Origins      []string `json:"origins"`
	CookieNeeded bool     `json:"cookie_needed"`
	Entropy      uint32   `json:"entropy"`
}

// Info answers the SockJS /info probe.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	_ = json.NewEncoder(w).Encode(sockJSInfo{
		WebSocket: true,
		Origins:   []string{"*:*"},
		Entropy:   rand.Uint32(),
	})
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, c codec) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Debugf("realtime: upgrade failed: %v", err)
		return
	}
	s := newSession(conn, c, h.broker, h.auth, h.sender)

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, s)
		h.mu.Unlock()
	}()

	s.run(context.WithoutCancel(r.Context()))
}

// Shutdown closes every open session with a going-away close frame.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	open := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range open {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.shutdown(3000, "Go away!")
		}()
	}
	wg.Wait()
}
