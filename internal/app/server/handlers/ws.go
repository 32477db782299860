package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"possync/internal/app/server/ws"
	"possync/internal/core/domain"
	"possync/internal/core/services"
	"possync/pkg/logging"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type WSHandler struct {
	engine   *services.Engine
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *services.Engine, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// session is one socket's set of live subscriptions. Closing the socket
// releases all of them.
type session struct {
	log     *slog.Logger
	engine  *services.Engine
	client  *ws.Client
	mu      sync.Mutex
	streams map[string]*services.Stream[domain.Document] // handle id -> stream
}

func (s *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade - ws upgrade failed", logging.Err(err))
		return
	}
	ctx := context.WithoutCancel(r.Context())
	socket := ws.NewWebSocket(ctx, log, conn)
	client := ws.NewClient(socket.Context(), socket, 0)
	sess := &session{
		log:     log,
		engine:  s.engine,
		client:  client,
		streams: make(map[string]*services.Stream[domain.Document]),
	}
	defer sess.closeAll()
	defer client.Close()
	log.InfoContext(ctx, "ws handler - connection established")

	socket.ReadLoop(func(data []byte) {
		var f ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			sess.send(ServerFrame{Type: TypeError, Error: NewErrorView("decode", domain.NewError("decode", domain.ResourcePath{}, domain.ErrDecoding, err))})
			return
		}
		span.AddEvent("ws.frame", trace.WithAttributes(attribute.String("type", f.Type)))
		sess.handle(client.Context(), f)
	})
	log.InfoContext(ctx, "ws handler - connection closed")
}

func (s *session) handle(ctx context.Context, f ClientFrame) {
	switch f.Type {
	case TypeSubscribe:
		s.subscribe(ctx, f)
	case TypeUnsubscribe:
		s.unsubscribe(f)
	default:
		s.send(ServerFrame{Type: TypeError, RequestID: f.RequestID,
			Error: &ErrorView{Kind: "decoding_error", Message: "unknown frame type " + f.Type}})
	}
}

func (s *session) subscribe(ctx context.Context, f ClientFrame) {
	path, err := f.ResourcePath()
	if err != nil {
		s.send(ServerFrame{Type: TypeError, RequestID: f.RequestID, Error: NewErrorView("watch", err)})
		return
	}
	stream, err := s.engine.Subscribe(ctx, path)
	if err != nil {
		s.log.WarnContext(ctx, "ws handler - subscribe - failed", logging.Path(path), logging.Err(err))
		s.send(ServerFrame{Type: TypeError, RequestID: f.RequestID, Path: path.Key(), Error: NewErrorView("watch", err)})
		return
	}
	h := stream.Handle
	s.mu.Lock()
	s.streams[h.ID] = stream
	s.mu.Unlock()
	s.send(ServerFrame{Type: TypeSubscribed, RequestID: f.RequestID, Handle: h.ID, Path: path.Key()})
	s.log.DebugContext(ctx, "ws handler - subscribe - handle issued", logging.Path(path), logging.Handle(h.ID))
	go s.forward(stream)
}

// forward relays stream results until the stream ends. Frames for a handle
// stop as soon as it leaves the session.
func (s *session) forward(stream *services.Stream[domain.Document]) {
	h := stream.Handle
	for res := range stream.C() {
		frame := ServerFrame{Type: TypeSnapshot, Handle: h.ID, Path: h.Path.Key()}
		if res.Err != nil {
			frame.Type = TypeError
			frame.Error = NewErrorView("watch", res.Err)
		} else {
			exists, at := res.Exists, res.ReceivedAt
			frame.Exists, frame.ReceivedAt = &exists, &at
			frame.Documents = documentViews(res.Items)
		}
		s.mu.Lock()
		_, live := s.streams[h.ID]
		if live {
			s.sendLocked(frame)
		}
		s.mu.Unlock()
		if !live {
			return
		}
	}
	// ended by a terminal error
	s.mu.Lock()
	delete(s.streams, h.ID)
	s.mu.Unlock()
}

func (s *session) unsubscribe(f ClientFrame) {
	s.mu.Lock()
	stream, ok := s.streams[f.Handle]
	delete(s.streams, f.Handle)
	s.mu.Unlock()
	if ok {
		stream.Unsubscribe()
	}
	// repeated unsubscribes are acknowledged the same way
	s.send(ServerFrame{Type: TypeUnsubscribed, RequestID: f.RequestID, Handle: f.Handle})
}

func (s *session) closeAll() {
	s.mu.Lock()
	streams := make([]*services.Stream[domain.Document], 0, len(s.streams))
	for id, st := range s.streams {
		streams = append(streams, st)
		delete(s.streams, id)
	}
	s.mu.Unlock()
	for _, st := range streams {
		st.Unsubscribe()
	}
}

func (s *session) send(f ServerFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLocked(f)
}

func (s *session) sendLocked(f ServerFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		s.log.Error("ws handler - send - encode failed", logging.Err(err))
		return
	}
	if err := s.client.Send(data); err != nil && !errors.Is(err, ws.ErrClientClosed) {
		s.log.Warn("ws handler - send - dropping client", logging.Err(err))
	}
}
