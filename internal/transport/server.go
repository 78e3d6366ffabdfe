// Package transport runs the websocket endpoint: upgrade checks, framing
// limits, per-connection write pumps and the inbound flood guard. Protocol
// semantics live in the hub; the transport only moves frames.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/arivum/pianoroom/internal/logger"
	"github.com/arivum/pianoroom/internal/protocol"
)

const readTimeout = 60 * time.Second

// RateLimitConfig is the token-bucket flood guard applied to inbound
// messages per connection, ahead of the hub's per-action windows.
type RateLimitConfig struct {
	MessagesPerSecond rate.Limit
	Burst             int
	Enabled           bool
}

// DefaultRateLimitConfig sizes the guard above the sum of the per-action
// budgets, so it only trips on raw floods.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 5000,
		Burst:             5000,
		Enabled:           true,
	}
}

// NoRateLimit disables the flood guard.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

// ServerConfig wires the websocket server to its consumer.
type ServerConfig struct {
	Addr string

	// AllowedOrigins restricts upgrades; empty allows any origin.
	AllowedOrigins []string

	// TestCookie, when non-empty, names a cookie whose IPv4 value
	// overrides the observed source address. Integration-test hook.
	TestCookie string

	RateLimit *RateLimitConfig

	// OnConnect runs after the handshake, before the read loop. A
	// returned error rejects the connection.
	OnConnect func(c *Client) error
	// OnFrame receives each inbound binary frame, called synchronously
	// from the read loop so one connection's frames are handled in order.
	OnFrame func(c *Client, data []byte)
	// OnDisconnect runs once when the connection ends, only for
	// connections OnConnect accepted.
	OnDisconnect func(c *Client)
}

// Server accepts websocket connections and pumps their frames to OnFrame.
type Server struct {
	cfg          ServerConfig
	server       *http.Server
	clients      sync.Map // map[string]*Client
	upgrader     websocket.Upgrader
	testCookieRe *regexp.Regexp

	mu      sync.Mutex
	running bool
}

// New creates a server from cfg, applying the default flood guard when
// none is set.
func New(cfg ServerConfig) *Server {
	if cfg.RateLimit == nil {
		cfg.RateLimit = DefaultRateLimitConfig()
	}
	s := &Server{cfg: cfg}
	if cfg.TestCookie != "" {
		s.testCookieRe = regexp.MustCompile(regexp.QuoteMeta(cfg.TestCookie) + "=" + ipv4Pattern)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

// originChecker builds the upgrade origin policy: any origin when the
// allowlist is empty, exact matches otherwise.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if !set[origin] {
			logger.Infof("connection rejected due to invalid origin: %s", origin)
			return false
		}
		return true
	}
}

// Start begins listening. It returns once the listener is up (or failed to
// come up); cancelling ctx stops the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop closes every client connection and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.clients.Range(func(key, value interface{}) bool {
		if client, ok := value.(*Client); ok {
			client.Close()
		}
		return true
	})

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	addr := s.sourceAddr(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(protocol.MaxFrameSize)

	client := NewClient(conn, addr, s.cfg.RateLimit)

	if s.cfg.OnConnect != nil {
		if err := s.cfg.OnConnect(client); err != nil {
			logger.Infof("connection from %s rejected: %v", addr, err)
			client.SoftClose()
			return
		}
	}

	s.clients.Store(client.ID(), client)
	go s.handleClient(client)
}

var ipv4Pattern = `(((25[0-5]|(2[0-4]|1\d|[1-9]|)\d)\.?\b){4})`

// sourceAddr derives the client's source address: the first
// X-Forwarded-For hop when present, otherwise the peer address without the
// port. A configured test cookie carrying an IPv4 value overrides both.
func (s *Server) sourceAddr(r *http.Request) string {
	addr := r.Header.Get("X-Forwarded-For")
	if i := strings.IndexByte(addr, ','); i >= 0 {
		addr = strings.TrimSpace(addr[:i])
	}
	if addr == "" {
		addr = r.RemoteAddr
		if host, _, err := net.SplitHostPort(addr); err == nil {
			addr = host
		}
	}

	if s.testCookieRe != nil {
		if cookie := r.Header.Get("Cookie"); cookie != "" {
			if m := s.testCookieRe.FindStringSubmatch(cookie); m != nil {
				addr = m[1]
			}
		}
	}
	return addr
}

// handleClient owns a connection's read loop. Frames are delivered to
// OnFrame synchronously so a connection's frames never interleave.
func (s *Server) handleClient(c *Client) {
	defer func() {
		if s.cfg.OnDisconnect != nil {
			s.cfg.OnDisconnect(c)
		}
		s.clients.Delete(c.ID())
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		select {
		case <-c.Context().Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					logger.Debugf("unexpected close from %s: %v", c.Addr(), err)
				}
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(readTimeout))

			if !c.checkRateLimit() {
				logger.Warnf("flood guard tripped for %s", c.Addr())
				c.CloseWithCode(websocket.ClosePolicyViolation, "rate limit exceeded")
				return
			}

			if s.cfg.OnFrame != nil {
				s.cfg.OnFrame(c, data)
			}
		}
	}
}
