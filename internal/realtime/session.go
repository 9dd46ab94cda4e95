package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowerwine/filebounty-backend/internal/apperr"
	"github.com/flowerwine/filebounty-backend/internal/auth"
	"github.com/flowerwine/filebounty-backend/internal/metrics"
	"github.com/flowerwine/filebounty-backend/internal/models"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readLimit         = 64 * 1024
	readTimeout       = 90 * time.Second
	pingInterval      = 30 * time.Second
	heartbeatInterval = 25 * time.Second
	writeTimeout      = 10 * time.Second
	outboxSize        = 64

	sendDestination = "/app/chat"
)

// Authenticator resolves a bearer token to a user id.
type Authenticator func(ctx context.Context, token string) (int64, error)

// MessageSender stores and pushes a private message.
type MessageSender interface {
	SendPrivateMessage(ctx context.Context, senderID, receiverID int64, content string) (*models.Message, error)
}

type chatPayload struct {
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	Content    string `json:"content"`
}

var errDisconnect = errors.New("disconnect")

// session serves one WebSocket connection. The reader goroutine handles
// inbound frames; a writer goroutine drains outbox.
type session struct {
	conn   *websocket.Conn
	codec  codec
	broker *Broker
	auth   Authenticator
	sender MessageSender

	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	seq       atomic.Int64

	mu     sync.Mutex
	userID int64
	subs   map[string]string
}

func newSession(conn *websocket.Conn, c codec, broker *Broker, authn Authenticator, sender MessageSender) *session {
	return &session{
		conn:   conn,
		codec:  c,
		broker: broker,
		auth:   authn,
		sender: sender,
		outbox: make(chan []byte, outboxSize),
		done:   make(chan struct{}),
		subs:   make(map[string]string),
	}
}

func (s *session) run(ctx context.Context) {
	metrics.WSConnected()
	defer metrics.WSDisconnected()
	defer s.close()
	defer s.broker.RemoveSink(s)

	if open := s.codec.opening(); open != nil {
		s.enqueue(open)
	}
	go s.writeLoop()

	s.conn.SetReadLimit(readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))

		payloads, err := s.codec.decode(data)
		if err != nil {
			zap.S().Debugf("realtime: %v", err)
			continue
		}
		for _, p := range payloads {
			if err := s.handlePayload(ctx, p); errors.Is(err, errDisconnect) {
				s.shutdown(1000, "Normal closure")
				return
			}
		}
	}
}

func (s *session) handlePayload(ctx context.Context, payload []byte) error {
	r := frame.NewReader(bytes.NewReader(payload))
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			s.send(errorFrame(nil, "malformed frame"))
			return nil
		}
		if f == nil {
			continue
		}
		if err := s.handleFrame(ctx, f); err != nil {
			return err
		}
	}
}

func (s *session) handleFrame(ctx context.Context, f *frame.Frame) error {
	var err error
	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		err = s.onConnect(ctx, f)
	case frame.SUBSCRIBE:
		err = s.onSubscribe(ctx, f)
	case frame.UNSUBSCRIBE:
		s.onUnsubscribe(f)
	case frame.SEND:
		err = s.onSend(ctx, f)
	case frame.DISCONNECT:
		s.receipt(f)
		return errDisconnect
	}
	if err != nil {
		s.send(errorFrame(f, errorMessage(err)))
		return nil
	}
	s.receipt(f)
	return nil
}

func (s *session) onConnect(ctx context.Context, f *frame.Frame) error {
	if tok := auth.BearerToken(f.Header.Get("Authorization")); tok != "" {
		id, err := s.auth(ctx, tok)
		if err != nil {
			return apperr.Unauthorized("invalid token")
		}
		s.mu.Lock()
		s.userID = id
		s.mu.Unlock()
	}
	s.send(frame.New(frame.CONNECTED,
		"version", "1.2",
		"heart-beat", "0,10000",
		"server", "filebounty"))
	return nil
}

// userFor prefers an Authorization header on the frame over the identity
// set at CONNECT.
func (s *session) userFor(ctx context.Context, f *frame.Frame) (int64, error) {
	if tok := auth.BearerToken(f.Header.Get("Authorization")); tok != "" {
		id, err := s.auth(ctx, tok)
		if err != nil {
			return 0, apperr.Unauthorized("invalid token")
		}
		return id, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == 0 {
		return 0, apperr.Unauthorized("authentication required")
	}
	return s.userID, nil
}

// parseUserDestination splits /user/{id}/{kind}.
func parseUserDestination(dest string) (int64, string, bool) {
	parts := strings.Split(strings.TrimPrefix(dest, "/user/"), "/")
	if !strings.HasPrefix(dest, "/user/") || len(parts) != 2 {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, parts[1], true
}

func (s *session) authorizeSubscribe(ctx context.Context, f *frame.Frame, dest string) error {
	if dest == TopicSystem {
		return nil
	}
	id, kind, ok := parseUserDestination(dest)
	if !ok {
		return apperr.BadRequest("unknown destination")
	}
	switch kind {
	case "system":
		return nil
	case "message":
		user, err := s.userFor(ctx, f)
		if err != nil {
			return err
		}
		if user != id {
			return apperr.Forbidden("cannot subscribe to another user's messages")
		}
		return nil
	}
	return apperr.BadRequest("unknown destination")
}

func (s *session) onSubscribe(ctx context.Context, f *frame.Frame) error {
	dest := f.Header.Get("destination")
	id := f.Header.Get("id")
	if dest == "" || id == "" {
		return apperr.BadRequest("destination and id are required")
	}
	if err := s.authorizeSubscribe(ctx, f, dest); err != nil {
		return err
	}
	s.mu.Lock()
	if old, ok := s.subs[id]; ok {
		s.broker.Unsubscribe(s, id, old)
	}
	s.subs[id] = dest
	s.mu.Unlock()
	s.broker.Subscribe(s, id, dest)
	return nil
}

func (s *session) onUnsubscribe(f *frame.Frame) {
	id := f.Header.Get("id")
	s.mu.Lock()
	dest, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if ok {
		s.broker.Unsubscribe(s, id, dest)
	}
}

func (s *session) onSend(ctx context.Context, f *frame.Frame) error {
	if dest := f.Header.Get("destination"); dest != sendDestination {
		return apperr.BadRequest("unknown destination")
	}
	user, err := s.userFor(ctx, f)
	if err != nil {
		return err
	}
	var p chatPayload
	if err := json.Unmarshal(f.Body, &p); err != nil {
		return apperr.BadRequest("invalid message body")
	}
	if p.SenderID != 0 && p.SenderID != user {
		return apperr.Forbidden("sender does not match the authenticated user")
	}
	_, err = s.sender.SendPrivateMessage(ctx, user, p.ReceiverID, p.Content)
	return err
}

func (s *session) receipt(f *frame.Frame) {
	if id := f.Header.Get("receipt"); id != "" {
		s.send(frame.New(frame.RECEIPT, "receipt-id", id))
	}
}

func errorMessage(err error) string {
	if e, ok := apperr.As(err); ok {
		return e.Message
	}
	zap.S().Errorf("realtime: %v", err)
	return "internal server error"
}

func errorFrame(src *frame.Frame, msg string) *frame.Frame {
	f := frame.New(frame.ERROR, "message", msg, "content-type", "text/plain")
	if src != nil {
		if id := src.Header.Get("receipt"); id != "" {
			f.Header.Set("receipt-id", id)
		}
	}
	f.Body = []byte(msg)
	return f
}

// Deliver implements Sink. It never blocks; a session whose outbox is full
// is dropped.
func (s *session) Deliver(destination, subscriptionID string, body []byte) {
	f := frame.New(frame.MESSAGE,
		"destination", destination,
		"subscription", subscriptionID,
		"message-id", strconv.FormatInt(s.seq.Add(1), 10),
		"content-type", "application/json")
	f.Body = body
	s.send(f)
}

func encodeFrame(f *frame.Frame) []byte {
	if len(f.Body) > 0 {
		f.Header.Set("content-length", strconv.Itoa(len(f.Body)))
	}
	var buf bytes.Buffer
	_ = frame.NewWriter(&buf).Write(f)
	return buf.Bytes()
}

func (s *session) send(f *frame.Frame) {
	s.enqueue(s.codec.encode(encodeFrame(f)))
}

// enqueue hands data to the writer; nil asks it to close the connection.
func (s *session) enqueue(data []byte) {
	select {
	case <-s.done:
	case s.outbox <- data:
	default:
		zap.S().Warn("realtime: outbox full, dropping slow client")
		s.close()
	}
}

func (s *session) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	var heartbeat <-chan time.Time
	if s.codec.heartbeat() != nil {
		t := time.NewTicker(heartbeatInterval)
		defer t.Stop()
		heartbeat = t.C
	}

	write := func(data []byte) bool {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return s.conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for {
		select {
		case <-s.done:
			return
		case data := <-s.outbox:
			if data == nil {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				s.close()
				return
			}
			if !write(data) {
				s.close()
				return
			}
		case <-heartbeat:
			if !write(s.codec.heartbeat()) {
				s.close()
				return
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.close()
				return
			}
		}
	}
}

// shutdown queues the transport close frame behind pending frames and
// waits briefly for the writer to flush them.
func (s *session) shutdown(code int, reason string) {
	if c := s.codec.closing(code, reason); c != nil {
		s.enqueue(c)
	}
	s.enqueue(nil)
	select {
	case <-s.done:
	case <-time.After(time.Second):
		s.close()
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
