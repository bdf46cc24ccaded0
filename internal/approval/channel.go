package approval

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"steward/internal/clock"
	"steward/internal/metrics"
	"steward/internal/token"
	"steward/pkg/logging"
)

// DefaultMaxMessageBytes caps one inbound websocket frame.
const DefaultMaxMessageBytes = 1 << 20

// KeyValidator checks a presented connection key.
type KeyValidator interface {
	Validate(candidate string) bool
}

// TokenSource returns valid tokens for the active provider, or nil.
type TokenSource interface {
	Current(ctx context.Context) *token.ProviderTokens
}

// Config configures a Channel.
type Config struct {
	// AllowRedecide lets Decide change an already decided message; the last
	// decision wins.
	AllowRedecide   bool
	MaxMessageBytes int
	// RejectLogRate limits rejected-connection log lines per second.
	RejectLogRate float64
	// ServeMetrics exposes /metrics on the channel listener.
	ServeMetrics bool
}

// Channel is the authenticated local socket through which tools submit
// approval requests and receive decisions.
type Channel struct {
	cfg    Config
	keys   KeyValidator
	tokens TokenSource
	clock  clock.Clock

	// seq serializes mutations with their notifications so handlers and
	// clients observe events in mutation order.
	seq      sync.Mutex
	mu       sync.RWMutex
	messages map[string]*Message
	order    []string

	clientsMu sync.RWMutex
	clients   map[*peer]struct{}

	handlersMu       sync.RWMutex
	messageHandlers  []func(Message)
	decisionHandlers []func(Decision)

	rejectLog *rate.Limiter
}

// Option configures a Channel.
type Option func(*Channel)

// WithClock sets the clock used for message timestamps.
func WithClock(c clock.Clock) Option {
	return func(ch *Channel) {
		ch.clock = clock.OrReal(c)
	}
}

// New creates a Channel. tokens may be nil, in which case token requests are
// answered as unauthenticated.
func New(cfg Config, keys KeyValidator, tokens TokenSource, opts ...Option) *Channel {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.RejectLogRate <= 0 {
		cfg.RejectLogRate = 5
	}
	burst := int(cfg.RejectLogRate)
	if burst < 1 {
		burst = 1
	}

	ch := &Channel{
		cfg:       cfg,
		keys:      keys,
		tokens:    tokens,
		clock:     clock.Real{},
		messages:  make(map[string]*Message),
		clients:   make(map[*peer]struct{}),
		rejectLog: rate.NewLimiter(rate.Limit(cfg.RejectLogRate), burst),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// OnMessage registers a handler for newly submitted messages.
func (c *Channel) OnMessage(h func(Message)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.messageHandlers = append(c.messageHandlers, h)
}

// OnDecision registers a handler for decisions on messages that require a response.
func (c *Channel) OnDecision(h func(Decision)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.decisionHandlers = append(c.decisionHandlers, h)
}

// Submit stores msg, defaulting its id, timestamp and status, and notifies
// OnMessage handlers. A message with an existing id replaces the stored one.
func (c *Channel) Submit(msg Message) Message {
	c.seq.Lock()
	defer c.seq.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = TimestampOf(c.clock.Now())
	}
	if msg.Status == "" {
		msg.Status = StatusPending
	}

	c.mu.Lock()
	if _, exists := c.messages[msg.ID]; !exists {
		c.order = append(c.order, msg.ID)
	} else {
		logging.Warn("Approval", "Message %s resubmitted, replacing stored copy", msg.ID)
	}
	stored := msg
	c.messages[msg.ID] = &stored
	c.mu.Unlock()

	metrics.ApprovalMessages.Inc()
	logging.Info("Approval", "Received message %s %q (risk=%s, requiresResponse=%t)", msg.ID, msg.Title, msg.RiskLevel, msg.RequiresResponse)

	c.handlersMu.RLock()
	handlers := append([]func(Message){}, c.messageHandlers...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
	return msg
}

// Decide sets the status and feedback of message id. ok is false when no
// such message exists, which is not an error. When the message requires a
// response, the decision is broadcast to every connected client after the
// change has been applied.
func (c *Channel) Decide(id string, status Status, feedback string) (msg Message, ok bool, err error) {
	if !status.Terminal() {
		return Message{}, false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	c.seq.Lock()
	defer c.seq.Unlock()

	c.mu.Lock()
	stored, exists := c.messages[id]
	if !exists {
		c.mu.Unlock()
		logging.Debug("Approval", "Decision for unknown message %s ignored", id)
		return Message{}, false, nil
	}
	if stored.Status.Terminal() && !c.cfg.AllowRedecide {
		current := *stored
		c.mu.Unlock()
		return current, true, fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, id, current.Status)
	}
	stored.Status = status
	stored.Feedback = feedback
	msg = *stored
	c.mu.Unlock()

	metrics.ApprovalDecisions.WithLabelValues(string(status)).Inc()
	logging.Info("Approval", "Message %s %s", id, status)

	if !msg.RequiresResponse {
		return msg, true, nil
	}

	decision := newDecision(msg, TimestampOf(c.clock.Now()))
	c.handlersMu.RLock()
	handlers := append([]func(Decision){}, c.decisionHandlers...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		h(decision)
	}
	c.broadcast(decision)
	return msg, true, nil
}

// Get returns the message with id.
func (c *Channel) Get(id string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msg, ok := c.messages[id]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// List returns all messages in arrival order.
func (c *Channel) List() []Message {
	return c.filter(func(Message) bool { return true })
}

// Pending returns the messages still awaiting a decision, in arrival order.
func (c *Channel) Pending() []Message {
	return c.filter(func(m Message) bool { return m.Status == StatusPending })
}

func (c *Channel) filter(keep func(Message) bool) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Message, 0, len(c.order))
	for _, id := range c.order {
		if msg := *c.messages[id]; keep(msg) {
			result = append(result, msg)
		}
	}
	return result
}

// Clients returns the number of connected clients.
func (c *Channel) Clients() int {
	c.clientsMu.RLock()
	defer c.clientsMu.RUnlock()
	return len(c.clients)
}

// CloseClients disconnects every client. Used after key rotation so URLs
// carrying the old key stop working immediately.
func (c *Channel) CloseClients() {
	c.clientsMu.Lock()
	peers := make([]*peer, 0, len(c.clients))
	for p := range c.clients {
		peers = append(peers, p)
	}
	c.clientsMu.Unlock()

	for _, p := range peers {
		p.close()
	}
	if len(peers) > 0 {
		logging.Info("Approval", "Closed %d client connections", len(peers))
	}
}

func (c *Channel) broadcast(v any) {
	c.clientsMu.RLock()
	peers := make([]*peer, 0, len(c.clients))
	for p := range c.clients {
		peers = append(peers, p)
	}
	c.clientsMu.RUnlock()

	for _, p := range peers {
		if err := p.send(v); err != nil {
			logging.Debug("Approval", "Dropping client from broadcast: %v", err)
		}
	}
}

func (c *Channel) addClient(p *peer) {
	c.clientsMu.Lock()
	c.clients[p] = struct{}{}
	c.clientsMu.Unlock()
	metrics.ChannelClients.Inc()
}

func (c *Channel) removeClient(p *peer) {
	c.clientsMu.Lock()
	_, ok := c.clients[p]
	delete(c.clients, p)
	c.clientsMu.Unlock()
	if ok {
		metrics.ChannelClients.Dec()
	}
}
