package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"maestro/internal/domain"
)

// RPCHandler handles a single RPC method call. The returned payload becomes
// the response frame body; a non-nil error turns into an error frame.
type RPCHandler func(ctx context.Context, client *Client, payload json.RawMessage) (json.RawMessage, error)

// Client is one authenticated WebSocket connection. Handlers can push event
// frames to it directly, which is how chat_stream delivers deltas to the
// requesting client without broadcasting them.
type Client struct {
	Name string

	ws        *websocket.Conn
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

// Push queues a frame for this client without blocking. It reports false
// when the outbound queue is full or the connection is closing, in which
// case the frame is dropped.
func (c *Client) Push(frame Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendCh <- frame:
		return true
	default:
		return false
	}
}

// Server is the WebSocket endpoint that exposes RPC methods and forwards
// bus events to connected clients.
type Server struct {
	bus        domain.EventBus
	clients    sync.Map // connID (uint64) -> *Client
	auth       Authenticator
	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	logger     *slog.Logger
	addr       string
	httpSrv    *http.Server
	boundAddr  string
	ready      chan struct{}
	nextID     atomic.Uint64
	unsubAll   func()
	httpRoutes []httpRoute
	middleware []func(http.Handler) http.Handler
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// NewServer creates an API server.
func NewServer(bus domain.EventBus, auth Authenticator, addr string, logger *slog.Logger) *Server {
	return &Server{
		bus:      bus,
		auth:     auth,
		handlers: make(map[string]RPCHandler),
		logger:   logger,
		addr:     addr,
		ready:    make(chan struct{}),
	}
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// RegisterHTTPRoute adds an HTTP handler to the server's mux.
// Must be called before Start().
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Use appends HTTP middleware applied to every route, the WebSocket
// upgrade included. Must be called before Start().
func (s *Server) Use(mw ...func(http.Handler) http.Handler) {
	s.middleware = append(s.middleware, mw...)
}

// Start begins accepting connections. Blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}

	var handler http.Handler = mux
	for i := len(s.middleware) - 1; i >= 0; i-- {
		handler = s.middleware[i](handler)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	close(s.ready)

	s.httpSrv = &http.Server{Handler: handler}

	// Forward every bus event to connected clients.
	if s.bus != nil {
		s.unsubAll = s.bus.SubscribeAll(func(_ context.Context, event domain.Event) {
			s.broadcast(event)
		})
	}

	s.logger.Info("api server started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubAll != nil {
		s.unsubAll()
	}

	s.clients.Range(func(key, value any) bool {
		client := value.(*Client)
		client.closeOnce.Do(func() { close(client.done) })
		client.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid
// after Start has signalled readiness.
func (s *Server) BoundAddr() string {
	select {
	case <-s.ready:
		return s.boundAddr
	default:
		return ""
	}
}

func (s *Server) broadcast(event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{
		Type:    FrameTypeEvent,
		Payload: payload,
	}
	s.clients.Range(func(_, value any) bool {
		client := value.(*Client)
		if !client.Push(frame) {
			s.logger.Warn("api: dropped event for slow client", "client", client.Name, "event", string(event.Type))
		}
		return true
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on a WebSocket dial, so the token
	// rides in the query string.
	token := r.URL.Query().Get("token")
	info, err := s.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	client := &Client{
		Name:   info.Name,
		ws:     ws,
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, client)

	s.logger.Info("api client connected", "conn_id", connID, "client", info.Name)

	go s.writeLoop(client)

	// Read loop (blocking).
	s.readLoop(r.Context(), client)

	client.closeOnce.Do(func() { close(client.done) })
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("api client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		select {
		case <-client.done:
			return
		default:
		}

		var frame Frame
		err := wsjson.Read(ctx, client.ws, &frame)
		if err != nil {
			return // connection closed or error
		}

		if frame.Type != FrameTypeRequest {
			continue
		}

		go s.dispatchRPC(ctx, client, frame)
	}
}

func (s *Server) writeLoop(client *Client) {
	for {
		select {
		case <-client.done:
			return
		case frame := <-client.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, client.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, client *Client, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(client, req.ID, nil, domain.ErrRPCMethodNotFound)
		return
	}

	result, err := handler(ctx, client, req.Payload)
	s.sendResponse(client, req.ID, result, err)
}

func (s *Server) sendResponse(client *Client, id uint64, result json.RawMessage, err error) {
	resp := Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		Payload: result,
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = domain.ErrorCodeOf(err)
	}
	if !client.Push(resp) {
		s.logger.Warn("api: dropped RPC response for slow client", "frame_id", id)
	}
}
