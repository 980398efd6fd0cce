package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
	"pixelchat/internal/infra/middleware"
	"pixelchat/internal/usecase"
)

// maxFrameBytes allows a handful of base64 encoded uploads in one frame.
const maxFrameBytes = 64 << 20

// RPCHandler handles a single RPC method call. send pushes an event frame to
// the calling client only.
type RPCHandler func(ctx context.Context, call *Call) (any, error)

// Call carries one RPC invocation.
type Call struct {
	Client  *ClientInfo
	Method  string
	Payload json.RawMessage
	send    func(Frame)
}

// Notify pushes an event to the calling client.
func (c *Call) Notify(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.send(Frame{Type: FrameTypeEvent, Method: event, Payload: data})
}

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	info      *ClientInfo
	ws        *websocket.Conn
	sendCh    chan Frame
	limiter   *rate.Limiter
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Server is the WebSocket gateway in front of a single chat session.
type Server struct {
	clients    sync.Map // connID (uint64) -> *clientConn
	auth       Authenticator
	validator  *payloadValidator
	limit      config.RateLimitConfig
	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	logger     *slog.Logger
	addr       string
	httpSrv    *http.Server
	nextID     atomic.Uint64
	routes     []httpRoute

	boundMu   sync.Mutex
	boundAddr string
}

type httpRoute struct {
	pattern string
	handler http.Handler
}

// NewServer creates a gateway server listening on cfg.Addr.
func NewServer(cfg config.GatewayConfig, auth Authenticator, logger *slog.Logger) (*Server, error) {
	validator, err := newPayloadValidator(methodSchemas)
	if err != nil {
		return nil, fmt.Errorf("gateway schemas: %w", err)
	}
	return &Server{
		auth:      auth,
		validator: validator,
		limit:     cfg.Limit,
		handlers:  make(map[string]RPCHandler),
		logger:    logger,
		addr:      cfg.Addr,
	}, nil
}

// RegisterHandler adds an RPC handler for the given method name.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// RegisterHTTPRoute adds an HTTP handler to the gateway's mux.
// Must be called before Start.
func (s *Server) RegisterHTTPRoute(pattern string, handler http.Handler) {
	s.routes = append(s.routes, httpRoute{pattern: pattern, handler: handler})
}

// Broadcast sends an event frame to every connected client. Slow clients
// drop the event rather than block the caller.
func (s *Server) Broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("gateway: unencodable event", "event", event, "error", err)
		return
	}
	frame := Frame{Type: FrameTypeEvent, Method: event, Payload: data}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
		default:
			s.logger.Warn("gateway: dropped event for slow client", "client", cc.info.Name)
		}
		return true
	})
}

// Start begins accepting connections. It blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	for _, route := range s.routes {
		mux.Handle(route.pattern, route.handler)
	}
	handler := middleware.SecurityHeaders(middleware.RateLimit(ctx, s.limit)(mux))

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundMu.Lock()
	s.boundAddr = listener.Addr().String()
	s.boundMu.Unlock()

	s.httpSrv = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("gateway started", "addr", s.BoundAddr())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes every client and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
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

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	n := 0
	s.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// BoundAddr returns the address the server bound to, or "" before Start.
func (s *Server) BoundAddr() string {
	s.boundMu.Lock()
	defer s.boundMu.Unlock()
	return s.boundAddr
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	clientInfo, err := s.auth.Authenticate(requestToken(r))
	if err != nil {
		s.logger.Warn("gateway auth rejected", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:   clientInfo,
		ws:     ws,
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	if s.limit.RequestsPerSecond > 0 {
		cc.limiter = rate.NewLimiter(rate.Limit(s.limit.RequestsPerSecond), max(s.limit.Burst, 1))
	}
	s.clients.Store(connID, cc)
	s.logger.Info("gateway client connected", "conn_id", connID, "client", clientInfo.Name)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.close()
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		if cc.limiter != nil && !cc.limiter.Allow() {
			s.respond(cc, frame.ID, nil, fmt.Errorf("%w: gateway request budget exhausted", domain.ErrRateLimit))
			continue
		}
		go s.dispatch(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.respond(cc, req.ID, nil, domain.NewDomainError(req.Method, domain.ErrRPCMethodUnknown, ""))
		return
	}
	if err := s.validator.Validate(req.Method, req.Payload); err != nil {
		s.respond(cc, req.ID, nil, err)
		return
	}

	call := &Call{
		Client:  cc.info,
		Method:  req.Method,
		Payload: req.Payload,
		send: func(f Frame) {
			select {
			case cc.sendCh <- f:
			case <-cc.done:
			}
		},
	}
	result, err := handler(ctx, call)
	s.respond(cc, req.ID, result, err)
}

func (s *Server) respond(cc *clientConn, id uint64, result any, err error) {
	resp := Frame{Type: FrameTypeResponse, ID: id}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = string(domain.ErrorCodeOf(err))
		resp.Surfaced = usecase.IsSurfaced(err)
	} else if result != nil {
		data, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = "encode result: " + merr.Error()
			resp.Code = string(domain.CodeUnknown)
		} else {
			resp.Payload = data
		}
	}

	select {
	case cc.sendCh <- resp:
	case <-cc.done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("gateway: dropped RPC response for slow client", "frame_id", id)
	}
}
