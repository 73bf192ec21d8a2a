// Package subscription maintains long-lived account-change
// subscriptions. Each watched address gets its own WebSocket
// connection and listener goroutine; a failed connection is torn down
// and reported, never silently redialed.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"solana-wallet-service/internal/domain"
	"solana-wallet-service/internal/observability"
)

// Default subscription parameters.
const (
	DefaultEncoding   = "jsonParsed"
	DefaultCommitment = "finalized"

	DefaultHandshakeTimeout = 30 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

// Handler receives the account payload of one notification. Handlers
// run on the listener goroutine; a panic is recovered and recorded
// without disturbing the subscription.
type Handler func(payload json.RawMessage)

// Options configures one subscription.
type Options struct {
	Encoding   string // defaults to jsonParsed
	Commitment string // defaults to finalized
}

// Status is a point-in-time snapshot of one subscription.
type Status struct {
	Address        string
	SubscriptionID int64
	Active         bool
	LastPayload    json.RawMessage
	LastPayloadAt  time.Time
	LastError      string
	LastErrorAt    time.Time
}

// Manager owns all account subscriptions for one WebSocket endpoint.
type Manager struct {
	endpoint string
	dialer   *websocket.Dialer
	logger   *log.Logger
	metrics  *observability.Metrics

	handshakeTimeout time.Duration
	writeTimeout     time.Duration

	requestID atomic.Uint64

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

// subscription is the live state for one address.
type subscription struct {
	address string
	conn    *websocket.Conn
	id      int64

	mu      sync.Mutex
	handler Handler

	lastPayload   json.RawMessage
	lastPayloadAt time.Time
	lastError     string
	lastErrorAt   time.Time

	done chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics attaches metrics.
func WithMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithHandshakeTimeout sets how long Subscribe waits for the
// subscription id.
func WithHandshakeTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.handshakeTimeout = d
	}
}

// NewManager creates a Manager for the given WebSocket endpoint.
func NewManager(endpoint string, opts ...ManagerOption) *Manager {
	m := &Manager{
		endpoint:         endpoint,
		dialer:           &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:           log.New(io.Discard, "", 0),
		handshakeTimeout: DefaultHandshakeTimeout,
		writeTimeout:     DefaultWriteTimeout,
		subs:             make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DeriveWSEndpoint maps an HTTP RPC endpoint to its WebSocket
// counterpart.
func DeriveWSEndpoint(rpcEndpoint string) string {
	switch {
	case strings.HasPrefix(rpcEndpoint, "https://"):
		return "wss://" + strings.TrimPrefix(rpcEndpoint, "https://")
	case strings.HasPrefix(rpcEndpoint, "http://"):
		return "ws://" + strings.TrimPrefix(rpcEndpoint, "http://")
	}
	return rpcEndpoint
}

// wsRequest is a JSON-RPC 2.0 request frame.
type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsMessage covers every frame shape the node sends: subscription
// confirmations (Result), errors, and notifications (Params).
type wsMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
	Params  *wsParams       `json:"params,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsParams struct {
	Subscription int64           `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// Subscribe starts watching an address. Subscribing an address that is
// already live rebinds the handler and returns the existing
// subscription id without opening a second connection.
func (m *Manager) Subscribe(ctx context.Context, address string, handler Handler, opts *Options) (int64, error) {
	if err := domain.ValidateAddress(address); err != nil {
		return 0, domain.NewError(domain.KindInput, "subscribe", err)
	}
	if handler == nil {
		return 0, domain.NewError(domain.KindInput, "subscribe: nil handler", nil)
	}

	encoding := DefaultEncoding
	commitment := DefaultCommitment
	if opts != nil {
		if opts.Encoding != "" {
			encoding = opts.Encoding
		}
		if opts.Commitment != "" {
			commitment = opts.Commitment
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, fmt.Errorf("manager closed")
	}
	if existing, ok := m.subs[address]; ok {
		existing.mu.Lock()
		existing.handler = handler
		id := existing.id
		existing.mu.Unlock()
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	conn, id, err := m.handshake(ctx, address, encoding, commitment)
	if err != nil {
		if m.metrics != nil {
			m.metrics.SubscriptionErrors.Inc()
		}
		return 0, err
	}

	sub := &subscription{
		address: address,
		conn:    conn,
		id:      id,
		handler: handler,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return 0, fmt.Errorf("manager closed")
	}
	if existing, ok := m.subs[address]; ok {
		// Lost the race to another Subscribe for the same address. Keep
		// the established one, drop ours.
		existing.mu.Lock()
		existing.handler = handler
		id := existing.id
		existing.mu.Unlock()
		m.mu.Unlock()
		conn.Close()
		return id, nil
	}
	m.subs[address] = sub
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSubscriptions.Inc()
	}
	m.logger.Printf("subscribed address=%s id=%d", address, id)

	go m.listen(sub)

	return id, nil
}

// handshake dials a dedicated connection and performs accountSubscribe,
// returning the confirmed subscription id.
func (m *Manager) handshake(ctx context.Context, address, encoding, commitment string) (*websocket.Conn, int64, error) {
	conn, _, err := m.dialer.DialContext(ctx, m.endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("websocket dial: %w", err)
	}

	reqID := m.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "accountSubscribe",
		Params: []interface{}{
			address,
			map[string]string{
				"encoding":   encoding,
				"commitment": commitment,
			},
		},
	}

	conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("write subscribe: %w", err)
	}

	deadline := time.Now().Add(m.handshakeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetReadDeadline(deadline)

	// Notifications cannot arrive before the confirmation, but error
	// frames and unrelated messages can. Read until our request id
	// answers.
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return nil, 0, fmt.Errorf("subscription handshake: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.ID != reqID {
			continue
		}
		if msg.Error != nil {
			conn.Close()
			return nil, 0, fmt.Errorf("accountSubscribe rejected: %d %s", msg.Error.Code, msg.Error.Message)
		}

		var id int64
		if err := json.Unmarshal(msg.Result, &id); err != nil {
			conn.Close()
			return nil, 0, fmt.Errorf("unexpected subscribe result %s", string(msg.Result))
		}

		conn.SetReadDeadline(time.Time{})
		return conn, id, nil
	}
}

// listen consumes notifications until the connection fails or the
// subscription is removed. On read error the address is dropped from
// the manager; callers observe it via Status and may resubscribe.
func (m *Manager) listen(sub *subscription) {
	defer close(sub.done)

	for {
		_, raw, err := sub.conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			removed := m.subs[sub.address] == sub
			if removed {
				delete(m.subs, sub.address)
			}
			closed := m.closed
			m.mu.Unlock()

			sub.conn.Close()

			if !closed {
				sub.mu.Lock()
				sub.lastError = err.Error()
				sub.lastErrorAt = time.Now()
				sub.mu.Unlock()

				if removed && m.metrics != nil {
					m.metrics.ActiveSubscriptions.Dec()
					m.metrics.SubscriptionErrors.Inc()
				}
				m.logger.Printf("subscription lost address=%s id=%d: %v", sub.address, sub.id, err)
			}
			return
		}

		// Binary frames carry the same JSON text.
		if !utf8.Valid(raw) {
			continue
		}

		payload, ok := extractPayload(raw)
		if !ok {
			continue
		}

		sub.mu.Lock()
		sub.lastPayload = payload
		sub.lastPayloadAt = time.Now()
		handler := sub.handler
		sub.mu.Unlock()

		m.invoke(sub, handler, payload)
	}
}

// extractPayload pulls the account payload out of a frame: top-level
// result for direct responses, params.result for notifications.
// Integer results (subscription confirmations) are ignored.
func extractPayload(raw []byte) (json.RawMessage, bool) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, false
	}
	if msg.Params != nil && len(msg.Params.Result) > 0 {
		return msg.Params.Result, true
	}
	if len(msg.Result) > 0 && msg.Result[0] == '{' {
		return msg.Result, true
	}
	return nil, false
}

// invoke runs the handler, isolating the subscription from panics.
func (m *Manager) invoke(sub *subscription, handler Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			sub.mu.Lock()
			sub.lastError = fmt.Sprintf("handler panic: %v", r)
			sub.lastErrorAt = time.Now()
			sub.mu.Unlock()
			if m.metrics != nil {
				m.metrics.HandlerErrors.Inc()
			}
			m.logger.Printf("handler panic address=%s: %v", sub.address, r)
		}
	}()

	handler(payload)
	if m.metrics != nil {
		m.metrics.NotificationsDelivered.Inc()
	}
}

// Unsubscribe stops watching an address. The server-side
// accountUnsubscribe is best effort; the connection is closed and the
// address forgotten regardless.
func (m *Manager) Unsubscribe(address string) error {
	m.mu.Lock()
	sub, ok := m.subs[address]
	if ok {
		delete(m.subs, address)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("address %s not subscribed", address)
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      m.requestID.Add(1),
		Method:  "accountUnsubscribe",
		Params:  []interface{}{sub.id},
	}
	sub.conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	sub.conn.WriteJSON(req) // best effort

	sub.conn.Close()
	<-sub.done

	if m.metrics != nil {
		m.metrics.ActiveSubscriptions.Dec()
	}
	m.logger.Printf("unsubscribed address=%s id=%d", address, sub.id)
	return nil
}

// Status returns the current state of one address. Active is false for
// addresses that were never subscribed or whose connection failed.
func (m *Manager) Status(address string) Status {
	m.mu.Lock()
	sub, ok := m.subs[address]
	m.mu.Unlock()

	if !ok {
		return Status{Address: address}
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	return Status{
		Address:        address,
		SubscriptionID: sub.id,
		Active:         true,
		LastPayload:    sub.lastPayload,
		LastPayloadAt:  sub.lastPayloadAt,
		LastError:      sub.lastError,
		LastErrorAt:    sub.lastErrorAt,
	}
}

// Addresses lists currently subscribed addresses.
func (m *Manager) Addresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for addr := range m.subs {
		out = append(out, addr)
	}
	return out
}

// Close tears down every subscription and waits for all listeners.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.conn.Close()
	}
	for _, sub := range subs {
		<-sub.done
	}
	if m.metrics != nil {
		m.metrics.ActiveSubscriptions.Set(0)
	}
	return nil
}
