// Package runtimebridge connects to the external spatial-runtime service over
// Socket.IO. It implements host.RuntimeService with ack-based RPCs and turns
// the runtime's broadcasts into session signals.
package runtimebridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bhandras/immersive/internal/compat"
	"github.com/bhandras/immersive/internal/host"
	"github.com/bhandras/immersive/pkg/logger"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
)

// Event names spoken by the runtime service.
const (
	EventProbeVersion = "probe-version"
	EventLaunch       = "launch"
	EventExit         = "exit"
	EventReady        = "ready"
	EventResumed      = "resumed"
	EventDoffRequired = "doff-required"
)

const defaultRPCTimeout = 5 * time.Second

// inboxSize bounds broadcasts queued ahead of the dispatcher.
const inboxSize = 64

// ErrNotConnected is returned by RPCs issued before Connect.
var ErrNotConnected = errors.New("runtime bridge not connected")

// Signals receives the runtime's asynchronous notifications. The session
// controller implements it.
type Signals interface {
	OnBroadcastReady(ctx context.Context) error
	OnResume(ctx context.Context) error
}

// Config configures a Client.
type Config struct {
	// URL is the runtime service base URL.
	URL string
	// Path is the Socket.IO path. Defaults to /v1/runtime.
	Path string
	// Token authenticates this host to the runtime service.
	Token string
	// Verifier checks ready broadcasts. Nil accepts them unverified.
	Verifier   *Verifier
	RPCTimeout time.Duration
}

// transport is the subset of a Socket.IO connection the client uses.
type transport interface {
	emitWithAck(ctx context.Context, event string, data map[string]any) (map[string]any, error)
	connected() bool
	close()
}

// Client is a host.RuntimeService backed by the runtime service.
type Client struct {
	cfg Config

	mu      sync.RWMutex
	conn    transport
	signals Signals
	doff    bool

	// Ready and resumed broadcasts are handled on one goroutine in arrival
	// order.
	inbox        chan func()
	done         chan struct{}
	dispatchOnce sync.Once
	closeOnce    sync.Once
}

var _ host.RuntimeService = (*Client)(nil)

// NewClient returns an unconnected Client.
func NewClient(cfg Config) *Client {
	if cfg.Path == "" {
		cfg.Path = "/v1/runtime"
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = defaultRPCTimeout
	}
	return &Client{
		cfg:   cfg,
		inbox: make(chan func(), inboxSize),
		done:  make(chan struct{}),
	}
}

// Bind routes broadcasts to sig. Broadcasts arriving before Bind are
// dropped.
func (c *Client) Bind(sig Signals) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = sig
}

// Connect dials the runtime service. The connection is established in the
// background; RPCs fail with the transport error until it is up.
func (c *Client) Connect() error {
	if c.cfg.Verifier == nil {
		logger.Warnf("[bridge] no runtime public key configured; ready broadcasts are not verified")
	}
	logger.Debugf("[bridge] connecting to %s (path: %s)", c.cfg.URL, c.cfg.Path)

	opts := socket.DefaultOptions()
	opts.SetPath(c.cfg.Path)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetAuth(map[string]any{
		"token":      c.cfg.Token,
		"clientType": "immersive-host",
	})

	sock, err := socket.Connect(c.cfg.URL, opts)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	sock.On(types.EventName("connect"), func(...any) {
		logger.Infof("[bridge] connected to runtime service")
	})
	sock.On(types.EventName("disconnect"), func(args ...any) {
		logger.Warnf("[bridge] disconnected: %v", firstArg(args))
	})
	sock.On(types.EventName("connect_error"), func(args ...any) {
		logger.Warnf("[bridge] connection error: %v", firstArg(args))
	})
	sock.On(types.EventName(EventReady), func(args ...any) {
		c.onReady(args...)
	})
	sock.On(types.EventName(EventResumed), func(...any) {
		c.onResumed()
	})
	sock.On(types.EventName(EventDoffRequired), func(args ...any) {
		c.handleDoffRequired(args...)
	})

	c.mu.Lock()
	c.conn = &socketTransport{sock: sock}
	c.mu.Unlock()
	return nil
}

// IsConnected reports whether the socket is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	return conn != nil && conn.connected()
}

// Close disconnects from the runtime service and stops broadcast delivery.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.close()
	}
	return nil
}

// ProbeVersion implements compat.Prober.
func (c *Client) ProbeVersion(ctx context.Context) (compat.VersionInfo, error) {
	resp, err := c.call(ctx, EventProbeVersion, nil)
	if err != nil {
		return compat.VersionInfo{}, fmt.Errorf("%w: %v", compat.ErrUnavailable, err)
	}
	if resp == nil {
		return compat.VersionInfo{}, fmt.Errorf("%w: missing ack", compat.ErrUnavailable)
	}

	info := compat.VersionInfo{
		Version:     int(getInt64(resp["version"])),
		Unsupported: getBool(resp["unsupported"]),
	}
	if v, ok := resp["doff"]; ok {
		c.setDoff(getBool(v))
	}
	return info, nil
}

// LaunchImmersive implements host.RuntimeService.
func (c *Client) LaunchImmersive(ctx context.Context) (bool, error) {
	return c.callOK(ctx, EventLaunch)
}

// ExitImmersive implements host.RuntimeService.
func (c *Client) ExitImmersive(ctx context.Context) (bool, error) {
	return c.callOK(ctx, EventExit)
}

// RequiresDoff implements host.RuntimeService. The flag is learned from the
// version probe and from doff-required broadcasts.
func (c *Client) RequiresDoff() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doff
}

func (c *Client) callOK(ctx context.Context, event string) (bool, error) {
	resp, err := c.call(ctx, event, nil)
	if err != nil {
		return false, err
	}
	if resp == nil {
		return false, fmt.Errorf("%s: missing ack", event)
	}
	if msg, ok := resp["error"].(string); ok && msg != "" {
		return false, fmt.Errorf("%s: %s", event, msg)
	}
	return getBool(resp["ok"]), nil
}

func (c *Client) call(ctx context.Context, event string, data map[string]any) (map[string]any, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}
	if data == nil {
		data = map[string]any{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()

	logger.Tracef("[bridge] -> %s", event)
	resp, err := conn.emitWithAck(ctx, event, data)
	if err != nil {
		logger.Debugf("[bridge] %s failed: %v", event, err)
		return nil, err
	}
	return resp, nil
}

func (c *Client) onReady(args ...any) {
	c.deliver(func() { c.handleReady(args...) })
}

func (c *Client) onResumed() {
	c.deliver(c.handleResumed)
}

// deliver queues fn behind every broadcast received before it.
func (c *Client) deliver(fn func()) {
	select {
	case <-c.done:
		return
	default:
	}
	c.dispatchOnce.Do(func() { go c.dispatch() })
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

func (c *Client) dispatch() {
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Client) handleReady(args ...any) {
	c.mu.RLock()
	sig := c.signals
	c.mu.RUnlock()
	if sig == nil {
		logger.Debugf("[bridge] ready broadcast with no listener")
		return
	}

	if v := c.cfg.Verifier; v != nil {
		token := readyToken(args)
		claims, err := v.Verify(token)
		if err != nil {
			logger.Warnf("[bridge] dropping ready broadcast: %v", err)
			return
		}
		logger.Debugf("[bridge] ready from %s v%d", claims.Runtime, claims.Version)
	}

	if err := sig.OnBroadcastReady(context.Background()); err != nil {
		logger.Debugf("[bridge] ready not delivered: %v", err)
	}
}

func (c *Client) handleResumed() {
	c.mu.RLock()
	sig := c.signals
	c.mu.RUnlock()
	if sig == nil {
		return
	}
	if err := sig.OnResume(context.Background()); err != nil {
		logger.Debugf("[bridge] resume not delivered: %v", err)
	}
}

func (c *Client) handleDoffRequired(args ...any) {
	required := true
	if m, ok := firstArg(args).(map[string]any); ok {
		required = getBool(m["required"])
	}
	c.setDoff(required)
}

func (c *Client) setDoff(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doff = v
}

// readyToken extracts the signed token from a ready broadcast. The runtime
// sends either {"token": "..."} or the bare token string.
func readyToken(args []any) string {
	switch v := firstArg(args).(type) {
	case string:
		return v
	case map[string]any:
		s, _ := v["token"].(string)
		return s
	default:
		return ""
	}
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func getInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func getBool(value any) bool {
	b, _ := value.(bool)
	return b
}

type socketTransport struct {
	sock *socket.Socket
}

func (t *socketTransport) emitWithAck(ctx context.Context, event string, data map[string]any) (map[string]any, error) {
	resultCh := make(chan map[string]any, 1)
	errCh := make(chan error, 1)

	t.sock.Emit(event, data, func(args []any, err error) {
		if err != nil {
			errCh <- err
			return
		}
		payload, _ := firstArg(args).(map[string]any)
		resultCh <- payload
	})

	select {
	case res := <-resultCh:
		return res, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("ack timeout: %w", ctx.Err())
	}
}

func (t *socketTransport) connected() bool { return t.sock.Connected() }

func (t *socketTransport) close() { t.sock.Disconnect() }
