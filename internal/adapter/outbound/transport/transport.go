// Package transport implements the Transport component: a single
// persistent outbound WebSocket connection with connect/reconnect/backoff,
// a serialized send path, a ping loop, and a receive loop that fans
// responses to the Request Broker and events to the Event Router.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unrealtools/mcp-bridge/internal/bridgeerr"
	"github.com/unrealtools/mcp-bridge/internal/domain/endpoint"
	"github.com/unrealtools/mcp-bridge/internal/domain/wire"
	"github.com/unrealtools/mcp-bridge/internal/port"
)

// state is the per-connection-attempt lifecycle from §4.5.
type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateConnected
	stateDraining
)

// Resolver is the narrow broker surface the Transport needs to deliver
// responses and fail everything pending on disconnect.
type Resolver interface {
	ResolveFromMessage(obj map[string]any) bool
	FailAll(err error)
}

// Config tunes one Transport instance.
type Config struct {
	URL                string
	ConnectTimeout     time.Duration
	PingInterval       time.Duration
	ReconnectInitial   time.Duration
	ReconnectMax       time.Duration
	ExpectedInstanceID string
	ExpectedProcessID  string
	ExpectedProjectDir string
}

// Transport owns the single downstream WebSocket connection.
type Transport struct {
	cfg     Config
	broker  Resolver
	router  port.EventRouter
	metrics port.Metrics
	logger  *slog.Logger

	sendMu sync.Mutex
	conn   *websocket.Conn
	connURL string
	connMu sync.RWMutex

	state      state
	stateMu    sync.Mutex
	connectedC chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup

	retryCount atomic.Int32

	urlMu            sync.Mutex
	lastConnectedURL string
}

// New builds a Transport; Start must be called to begin connecting.
func New(cfg Config, broker Resolver, router port.EventRouter, metrics port.Metrics, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:        cfg,
		broker:     broker,
		router:     router,
		metrics:    metrics,
		logger:     logger,
		connectedC: make(chan struct{}),
	}
}

// Start launches the connect loop in the background and returns immediately.
func (t *Transport) Start(ctx context.Context) error {
	t.stopCh = make(chan struct{})
	t.wg.Add(1)
	go t.connectLoop(ctx)
	return nil
}

// Stop cancels the connect loop and waits for every owned goroutine to exit.
func (t *Transport) Stop() error {
	if t.stopCh != nil {
		close(t.stopCh)
	}
	t.closeConn()
	t.wg.Wait()
	return nil
}

// WaitUntilConnected blocks until the transport reaches stateConnected or
// ctx is done.
func (t *Transport) WaitUntilConnected(ctx context.Context) error {
	t.stateMu.Lock()
	ch := t.connectedC
	connected := t.state == stateConnected
	t.stateMu.Unlock()
	if connected {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendJSON serializes v and writes it over the single send path, guarded by
// a mutex so whole frames are never interleaved on the wire.
func (t *Transport) SendJSON(ctx context.Context, v any) error {
	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()
	if conn == nil {
		return bridgeerr.Connection(fmt.Errorf("transport: not connected"))
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal outgoing frame: %w", err)
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return bridgeerr.Connection(fmt.Errorf("transport: write: %w", err))
	}
	return nil
}

func (t *Transport) setState(s state) {
	t.stateMu.Lock()
	t.state = s
	if s == stateConnected {
		close(t.connectedC)
	} else if s == stateDisconnected {
		t.connectedC = make(chan struct{})
	}
	t.stateMu.Unlock()
}

func (t *Transport) candidateURLs() []string {
	urls := []string{t.cfg.URL}
	if parsed, err := url.Parse(t.cfg.URL); err == nil && endpoint.IsWSL() {
		host := parsed.Hostname()
		ip := net.ParseIP(host)
		if host == "localhost" || (ip != nil && ip.IsLoopback()) {
			if gw, err := endpoint.DefaultGatewayIP(); err == nil {
				if u, err := swapHost(t.cfg.URL, gw); err == nil {
					urls = append(urls, u)
				}
			}
		}
	}
	return moveToHead(urls, t.getLastConnectedURL())
}

// moveToHead reorders urls so preferred (the URL that last connected
// successfully) is tried first, preserving the relative order of the rest.
func moveToHead(urls []string, preferred string) []string {
	if preferred == "" {
		return urls
	}
	for i, u := range urls {
		if u != preferred {
			continue
		}
		if i == 0 {
			return urls
		}
		out := make([]string, 0, len(urls))
		out = append(out, u)
		out = append(out, urls[:i]...)
		out = append(out, urls[i+1:]...)
		return out
	}
	return urls
}

func (t *Transport) getLastConnectedURL() string {
	t.urlMu.Lock()
	defer t.urlMu.Unlock()
	return t.lastConnectedURL
}

func (t *Transport) setLastConnectedURL(u string) {
	t.urlMu.Lock()
	t.lastConnectedURL = u
	t.urlMu.Unlock()
}

func swapHost(rawURL, host string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	_, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}
	return u.String(), nil
}

func (t *Transport) connectLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		t.setState(stateConnecting)
		conn, usedURL, err := t.dial(ctx)
		if err != nil {
			t.logger.Warn("transport: connect failed", "error", err)
			t.observeReconnect()
			if !t.sleepBackoff(ctx) {
				return
			}
			continue
		}

		t.logger.Debug("transport: dial succeeded, awaiting handshake", "url", usedURL)
		t.connMu.Lock()
		t.conn = conn
		t.connURL = usedURL
		t.connMu.Unlock()

		t.runConnected(ctx, conn)

		t.setState(stateDraining)
		t.closeConn()
		t.broker.FailAll(bridgeerr.Connection(fmt.Errorf("transport: disconnected")))
		t.setState(stateDisconnected)

		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if !t.sleepBackoff(ctx) {
			return
		}
	}
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, string, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.ConnectTimeout}
	var lastErr error
	for _, u := range t.candidateURLs() {
		dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
		conn, _, err := dialer.DialContext(dialCtx, u, nil)
		cancel()
		if err == nil {
			return conn, u, nil
		}
		lastErr = err
	}
	return nil, "", bridgeerr.ConnectTimeout(fmt.Errorf("transport: no candidate reachable: %w", lastErr))
}

func (t *Transport) runConnected(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	var inner sync.WaitGroup
	inner.Add(2)

	go func() {
		defer inner.Done()
		defer closeDone()
		t.pingLoop(ctx, conn, done)
	}()
	go func() {
		defer inner.Done()
		defer closeDone()
		t.receiveLoop(conn, done)
	}()

	select {
	case <-done:
	case <-t.stopCh:
	case <-ctx.Done():
	}
	closeDone()
	inner.Wait()
}

func (t *Transport) pingLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.sendMu.Lock()
			err := conn.WriteJSON(wire.NewPing())
			t.sendMu.Unlock()
			if err != nil && isClosed(err) {
				return
			}
		case <-done:
			return
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) receiveLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if !isClosed(err) {
				t.logger.Debug("transport: read error", "error", err)
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			raw = []byte(string(raw))
		}

		obj, err := wire.DecodeTopLevel(raw)
		if err != nil {
			t.logger.Debug("transport: decode failed", "error", err)
			continue
		}
		t.handleFrame(obj)

		select {
		case <-done:
			return
		default:
		}
	}
}

func (t *Transport) handleFrame(obj map[string]any) {
	if _, isResponse := obj["response_json"]; isResponse {
		t.broker.ResolveFromMessage(obj)
		return
	}
	if typ, _ := obj["type"].(string); typ != "" {
		switch typ {
		case "pong":
			return
		case "mcp.transport.connected":
			if err := t.validateHandshake(obj); err != nil {
				t.logger.Warn("transport: handshake mismatch", "error", err)
				t.closeConn()
				return
			}
			t.connMu.RLock()
			usedURL := t.connURL
			t.connMu.RUnlock()
			t.setLastConnectedURL(usedURL)
			t.retryCount.Store(0)
			t.setState(stateConnected)
			t.logger.Info("transport: connected", "url", usedURL)
			if t.metrics != nil {
				t.metrics.IncCounter("transport.connected", nil)
			}
			return
		case "mcp.transport.error":
			t.logger.Warn("transport: peer reported error", "payload", obj)
			return
		}
	}
	if _, hasEventType := obj["event_type"]; hasEventType {
		t.publishEvent(obj)
		return
	}
	t.logger.Debug("transport: unhandled frame", "payload", obj)
}

func (t *Transport) publishEvent(obj map[string]any) {
	b, err := json.Marshal(obj)
	if err != nil {
		return
	}
	var e wire.Event
	if err := json.Unmarshal(b, &e); err != nil {
		return
	}
	t.router.Publish(e)
}

func (t *Transport) validateHandshake(obj map[string]any) error {
	check := func(expected string, key string) error {
		if expected == "" {
			return nil
		}
		got, _ := obj[key].(string)
		if got != expected {
			return fmt.Errorf("transport: handshake %s mismatch: got %q want %q", key, got, expected)
		}
		return nil
	}
	if err := check(t.cfg.ExpectedInstanceID, "instance_id"); err != nil {
		return err
	}
	if err := check(t.cfg.ExpectedProcessID, "process_id"); err != nil {
		return err
	}
	return check(t.cfg.ExpectedProjectDir, "project_dir")
}

func (t *Transport) closeConn() {
	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (t *Transport) observeReconnect() {
	if t.metrics != nil {
		t.metrics.IncCounter("transport.reconnect_attempt", nil)
	}
}

// sleepBackoff waits the doubling-capped reconnect delay, incrementing the
// retry counter, and returns false if the wait was interrupted by Stop.
func (t *Transport) sleepBackoff(ctx context.Context) bool {
	retries := int(t.retryCount.Load())
	delay := t.cfg.ReconnectInitial
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay > t.cfg.ReconnectMax {
			delay = t.cfg.ReconnectMax
			break
		}
	}
	t.retryCount.Add(1)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// isClosed classifies a WebSocket read/write error as "connection closed",
// checked in the order the close-code surface of gorilla/websocket exposes
// it: explicit close errors, unexpected close errors, then the generic
// net.ErrClosed sentinel for a locally-closed connection.
func isClosed(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		return true
	}
	if websocket.IsUnexpectedCloseError(err) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
