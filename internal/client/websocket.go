// ABOUTME: WebSocket client for the soundboard remote control protocol
// ABOUTME: Handles connection, handshake, command round trips and state updates
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Resonate-Protocol/soundboard-go/internal/protocol"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned when the connection is gone
var ErrClosed = errors.New("connection closed")

// Config holds client configuration
type Config struct {
	ServerAddr string
	Path       string
	ClientID   string
	Name       string
}

// CommandError is a command the server rejected
type CommandError struct {
	Kind    string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Client represents a WebSocket client
type Client struct {
	config Config
	conn   *websocket.Conn
	mu     sync.RWMutex
	logger *log.Logger

	// cmdMu serializes command round trips
	cmdMu sync.Mutex

	// Message channels
	States  chan protocol.State
	Results chan protocol.Result
	Errors  chan protocol.Error

	hello     protocol.ServerHello
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	if config.Path == "" {
		config.Path = protocol.Path
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:  config,
		logger:  log.WithPrefix("client"),
		States:  make(chan protocol.State, 10),
		Results: make(chan protocol.Result, 10),
		Errors:  make(chan protocol.Error, 10),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Connect establishes WebSocket connection and performs handshake
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	c.logger.Debug("Connecting", "url", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		close(c.done)
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return nil
}

// handshake performs the protocol handshake
func (c *Client) handshake() error {
	hello := protocol.ClientHello{
		ClientID: c.config.ClientID,
		Name:     c.config.Name,
		Version:  protocol.Version,
	}
	if err := c.sendJSON(protocol.Message{Type: protocol.TypeClientHello, Payload: hello}); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	_ = c.conn.SetReadDeadline(time.Time{})

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}

	switch msg.Type {
	case protocol.TypeServerHello:
	case protocol.TypeError:
		var e protocol.Error
		if err := protocol.DecodePayload(msg.Payload, &e); err != nil {
			return err
		}
		return &CommandError{Kind: e.Kind, Message: e.Message}
	default:
		return fmt.Errorf("expected server/hello, got %s", msg.Type)
	}

	var sh protocol.ServerHello
	if err := protocol.DecodePayload(msg.Payload, &sh); err != nil {
		return err
	}
	c.mu.Lock()
	c.hello = sh
	c.mu.Unlock()

	c.logger.Debug("Handshake complete", "server", sh.Name, "id", sh.ServerID)
	return nil
}

// Hello returns the server's hello
func (c *Client) Hello() protocol.ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hello
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(msg protocol.Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return ErrClosed
	}
	return c.conn.WriteJSON(msg)
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer close(c.done)
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("Read error", "err", err)
			}
			return
		}
		c.handleJSONMessage(data)
	}
}

// handleJSONMessage routes JSON messages. State and error pushes are dropped
// when nobody is reading them.
func (c *Client) handleJSONMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("Failed to parse message", "err", err)
		return
	}

	switch msg.Type {
	case protocol.TypeState:
		var state protocol.State
		if err := protocol.DecodePayload(msg.Payload, &state); err != nil {
			c.logger.Warn("Bad state payload", "err", err)
			return
		}
		select {
		case c.States <- state:
		default:
		}

	case protocol.TypeResult:
		var res protocol.Result
		if err := protocol.DecodePayload(msg.Payload, &res); err != nil {
			c.logger.Warn("Bad result payload", "err", err)
			return
		}
		select {
		case c.Results <- res:
		case <-c.ctx.Done():
		}

	case protocol.TypeError:
		var e protocol.Error
		if err := protocol.DecodePayload(msg.Payload, &e); err != nil {
			c.logger.Warn("Bad error payload", "err", err)
			return
		}
		select {
		case c.Errors <- e:
		default:
			c.logger.Warn("Server error", "kind", e.Kind, "message", e.Message)
		}

	default:
		c.logger.Debug("Unknown message type", "type", msg.Type)
	}
}

// isCommandError reports whether kind rejects a command rather than a playback
func isCommandError(kind string) bool {
	switch kind {
	case protocol.ErrorBadRequest, protocol.ErrorRateLimited, protocol.ErrorUnknownProfile, protocol.ErrorDuplicateID:
		return true
	}
	return false
}

// Do sends a command and waits for its result
func (c *Client) Do(ctx context.Context, msgType string, payload interface{}) (protocol.Result, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if err := c.sendJSON(protocol.Message{Type: msgType, Payload: payload}); err != nil {
		return protocol.Result{}, err
	}

	for {
		select {
		case res := <-c.Results:
			return res, nil
		case e := <-c.Errors:
			if isCommandError(e.Kind) {
				return protocol.Result{}, &CommandError{Kind: e.Kind, Message: e.Message}
			}
			c.logger.Warn("Playback failed", "kind", e.Kind, "device", e.Device, "path", e.Path, "message", e.Message)
		case <-ctx.Done():
			return protocol.Result{}, ctx.Err()
		case <-c.done:
			return protocol.Result{}, ErrClosed
		}
	}
}

// Play asks the server to play a clip now
func (c *Client) Play(ctx context.Context, req protocol.PlayRequest) (protocol.Result, error) {
	return c.Do(ctx, protocol.TypePlay, req)
}

// Queue appends a clip to the server's queue
func (c *Client) Queue(ctx context.Context, req protocol.PlayRequest) (protocol.Result, error) {
	return c.Do(ctx, protocol.TypeQueue, req)
}

// StopAll clears the queue and stops everything
func (c *Client) StopAll(ctx context.Context) (protocol.Result, error) {
	return c.Do(ctx, protocol.TypeStopAll, nil)
}

// StopName stops clips whose name contains criteria
func (c *Client) StopName(ctx context.Context, criteria string) (protocol.Result, error) {
	return c.Do(ctx, protocol.TypeStopName, protocol.StopName{Criteria: criteria})
}

// StopExclusive stops exclusive clips sent no later than ref; nil stops all of them
func (c *Client) StopExclusive(ctx context.Context, ref *time.Time) (protocol.Result, error) {
	return c.Do(ctx, protocol.TypeStopExclusive, protocol.StopExclusive{ClientSendTime: ref})
}

// Stop stops one playing instance by handle
func (c *Client) Stop(ctx context.Context, handle int) (protocol.Result, error) {
	return c.Do(ctx, protocol.TypeStop, protocol.Stop{Handle: handle})
}

// State requests and returns a fresh registry snapshot
func (c *Client) State(ctx context.Context) (protocol.State, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	// discard pushes that arrived before the request
	for {
		select {
		case <-c.States:
			continue
		default:
		}
		break
	}

	if err := c.sendJSON(protocol.Message{Type: protocol.TypeState}); err != nil {
		return protocol.State{}, err
	}
	select {
	case state := <-c.States:
		return state, nil
	case <-ctx.Done():
		return protocol.State{}, ctx.Err()
	case <-c.done:
		return protocol.State{}, ErrClosed
	}
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
		c.logger.Debug("Connection closed")
	}
}

// Done is closed once the connection has shut down
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
