package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"steward/internal/metrics"
	"steward/pkg/logging"
)

const tokenRequestTimeout = 30 * time.Second

// Handler returns the channel's HTTP handler. Every request to it must come
// from a loopback address and carry the current connection key in the key
// query parameter; anything else is answered with an empty 403 before the
// websocket upgrade.
func (c *Channel) Handler() http.Handler {
	ws := websocket.Server{
		// Browser extensions and CLIs send arbitrary origins; the key and
		// the loopback check are the gate.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   c.serveConn,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if err := c.authorize(r); err != nil {
			c.reject(r, err)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		metrics.ChannelConnections.WithLabelValues("accepted").Inc()
		ws.ServeHTTP(w, r)
	})
	if c.cfg.ServeMetrics {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			if !isLoopbackAddr(r.RemoteAddr) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			metrics.Handler().ServeHTTP(w, r)
		})
	}
	return mux
}

func (c *Channel) authorize(r *http.Request) error {
	if !isLoopbackAddr(r.RemoteAddr) {
		return fmt.Errorf("%w: non-loopback address %s", ErrConnectionRejected, r.RemoteAddr)
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		return fmt.Errorf("%w: missing key", ErrConnectionRejected)
	}
	if c.keys == nil || !c.keys.Validate(key) {
		return fmt.Errorf("%w: invalid key", ErrConnectionRejected)
	}
	return nil
}

func (c *Channel) reject(r *http.Request, err error) {
	metrics.ChannelConnections.WithLabelValues("rejected").Inc()
	if c.rejectLog.Allow() {
		logging.Audit("Approval", "connection rejected",
			slog.String("remote", r.RemoteAddr),
			slog.String("reason", err.Error()))
	}
}

// isLoopbackAddr accepts 127.0.0.1 and ::1, including the IPv4-mapped form.
func isLoopbackAddr(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.Equal(net.IPv4(127, 0, 0, 1)) || ip.Equal(net.IPv6loopback)
}

func (c *Channel) serveConn(conn *websocket.Conn) {
	conn.MaxPayloadBytes = c.cfg.MaxMessageBytes
	p := newPeer(conn)
	c.addClient(p)
	defer func() {
		c.removeClient(p)
		p.close()
	}()

	remote := conn.Request().RemoteAddr
	logging.Debug("Approval", "Client connected from %s", remote)

	for {
		var frame []byte
		err := websocket.Message.Receive(conn, &frame)
		if errors.Is(err, websocket.ErrFrameTooLarge) {
			logging.Warn("Approval", "Dropped frame from %s larger than %d bytes", remote, c.cfg.MaxMessageBytes)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logging.Debug("Approval", "Client %s read error: %v", remote, err)
			}
			logging.Debug("Approval", "Client disconnected from %s", remote)
			return
		}
		c.handleFrame(conn.Request().Context(), p, frame)
	}
}

func (c *Channel) handleFrame(ctx context.Context, p *peer, frame []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		logging.Warn("Approval", "Ignoring malformed frame: %v", err)
		return
	}

	if env.Type == TypeRequestToken {
		if err := p.send(c.tokenResponse(ctx, env.RequestID)); err != nil {
			logging.Debug("Approval", "Failed to send token reply: %v", err)
		}
		return
	}

	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		logging.Warn("Approval", "Ignoring malformed message: %v", err)
		return
	}
	stored := c.Submit(msg)
	if err := p.send(Ack{Type: TypeMessageReceived, ID: stored.ID}); err != nil {
		logging.Debug("Approval", "Failed to acknowledge message %s: %v", stored.ID, err)
	}
}

func (c *Channel) tokenResponse(ctx context.Context, requestID string) AuthTokenResponse {
	resp := AuthTokenResponse{Type: TypeAuthToken, RequestID: requestID}
	if c.tokens == nil {
		return resp
	}

	ctx, cancel := context.WithTimeout(ctx, tokenRequestTimeout)
	defer cancel()
	tokens := c.tokens.Current(ctx)
	if tokens == nil {
		return resp
	}
	access := tokens.AccessToken
	resp.Token = &access
	resp.Authenticated = true
	if tokens.User != nil {
		resp.User = tokens.User
	}
	return resp
}

// Server runs a Channel on a TCP listener.
type Server struct {
	channel *Channel

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewServer wraps channel for serving.
func NewServer(channel *Channel) *Server {
	return &Server{channel: channel}
}

// Start listens on host:port and serves until ctx is cancelled or Shutdown
// is called. Port 0 picks an ephemeral port, reported by Port.
func (s *Server) Start(ctx context.Context, host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("approval server already started")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.srv = &http.Server{
		Handler:           s.channel.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.srv

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Approval", err, "Channel server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	logging.Info("Approval", "Channel listening on %s", listener.Addr())
	return nil
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Shutdown closes client connections and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.channel.CloseClients()
	return srv.Shutdown(ctx)
}
