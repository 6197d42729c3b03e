// ABOUTME: Tests for WebSocket client implementation
// ABOUTME: Tests connection, handshake, and message routing
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/soundboard-go/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubServer answers the hello and then hands every command to respond
type stubServer struct {
	t       *testing.T
	reject  *protocol.Error
	respond func(msg protocol.Message) []protocol.Message
	hellos  chan protocol.ClientHello
}

func (s *stubServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var hello protocol.Message
	if err := conn.ReadJSON(&hello); err != nil {
		return
	}
	var ch protocol.ClientHello
	_ = protocol.DecodePayload(hello.Payload, &ch)
	select {
	case s.hellos <- ch:
	default:
	}

	if s.reject != nil {
		_ = conn.WriteJSON(protocol.Message{Type: protocol.TypeError, Payload: s.reject})
		return
	}
	_ = conn.WriteJSON(protocol.Message{Type: protocol.TypeServerHello, Payload: protocol.ServerHello{
		ServerID: "srv-1", Name: "Test Board", Version: protocol.Version, Profiles: []string{"DEFAULT"},
	}})

	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if s.respond == nil {
			continue
		}
		for _, out := range s.respond(msg) {
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
	}
}

func startStub(t *testing.T, s *stubServer) *Client {
	t.Helper()
	s.t = t
	s.hellos = make(chan protocol.ClientHello, 1)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	c := NewClient(Config{
		ServerAddr: strings.TrimPrefix(ts.URL, "http://"),
		ClientID:   "test-client",
		Name:       "Test Player",
	})
	return c
}

func TestNewClient(t *testing.T) {
	config := Config{
		ServerAddr: "localhost:8927",
		ClientID:   "test-client",
		Name:       "Test Player",
	}

	client := NewClient(config)
	require.NotNil(t, client)
	assert.Equal(t, "localhost:8927", client.config.ServerAddr)
	assert.Equal(t, protocol.Path, client.config.Path)
	assert.False(t, client.IsConnected())
}

func TestConnectHandshake(t *testing.T) {
	stub := &stubServer{}
	c := startStub(t, stub)

	require.NoError(t, c.Connect())
	defer c.Close()

	hello := <-stub.hellos
	assert.Equal(t, "test-client", hello.ClientID)
	assert.Equal(t, protocol.Version, hello.Version)

	assert.True(t, c.IsConnected())
	assert.Equal(t, "Test Board", c.Hello().Name)
	assert.Equal(t, []string{"DEFAULT"}, c.Hello().Profiles)
}

func TestConnectRejected(t *testing.T) {
	stub := &stubServer{reject: &protocol.Error{Kind: protocol.ErrorDuplicateID, Message: "client id already connected"}}
	c := startStub(t, stub)

	err := c.Connect()
	require.Error(t, err)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, protocol.ErrorDuplicateID, cmdErr.Kind)
	assert.False(t, c.IsConnected())

	select {
	case <-c.Done():
	default:
		t.Fatal("done should be closed after a failed connect")
	}
}

func TestConnectRefused(t *testing.T) {
	c := NewClient(Config{ServerAddr: "127.0.0.1:1", ClientID: "x"})
	assert.Error(t, c.Connect())
}

func TestDoReturnsResult(t *testing.T) {
	stub := &stubServer{respond: func(msg protocol.Message) []protocol.Message {
		var req protocol.PlayRequest
		_ = protocol.DecodePayload(msg.Payload, &req)
		return []protocol.Message{{Type: protocol.TypeResult, Payload: protocol.Result{Command: msg.Type, ID: req.Path}}}
	}}
	c := startStub(t, stub)
	require.NoError(t, c.Connect())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Queue(ctx, protocol.PlayRequest{User: "alice", Path: "horn.mp3"})
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeQueue, res.Command)
	assert.Equal(t, "horn.mp3", res.ID)
}

func TestDoReturnsCommandError(t *testing.T) {
	stub := &stubServer{respond: func(msg protocol.Message) []protocol.Message {
		return []protocol.Message{{Type: protocol.TypeError, Payload: protocol.Error{Kind: protocol.ErrorBadRequest, Message: "criteria is required"}}}
	}}
	c := startStub(t, stub)
	require.NoError(t, c.Connect())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.StopName(ctx, "")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, protocol.ErrorBadRequest, cmdErr.Kind)
	assert.Equal(t, "bad_request: criteria is required", err.Error())
}

func TestDoSkipsPlaybackErrors(t *testing.T) {
	stub := &stubServer{respond: func(msg protocol.Message) []protocol.Message {
		return []protocol.Message{
			{Type: protocol.TypeError, Payload: protocol.Error{Kind: "device_init", Message: "no device", Device: "Speakers"}},
			{Type: protocol.TypeResult, Payload: protocol.Result{Command: msg.Type, Count: 2}},
		}
	}}
	c := startStub(t, stub)
	require.NoError(t, c.Connect())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.StopAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
}

func TestDoContextTimeout(t *testing.T) {
	stub := &stubServer{}
	c := startStub(t, stub)
	require.NoError(t, c.Connect())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Stop(ctx, 7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStateRequest(t *testing.T) {
	stub := &stubServer{respond: func(msg protocol.Message) []protocol.Message {
		if msg.Type != protocol.TypeState {
			return nil
		}
		return []protocol.Message{{Type: protocol.TypeState, Payload: protocol.State{
			Playing: []protocol.ClipState{{Handle: 3, Name: "horn", Device: "Speakers", Position: 0.4, Length: 2}},
		}}}
	}}
	c := startStub(t, stub)
	require.NoError(t, c.Connect())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	state, err := c.State(ctx)
	require.NoError(t, err)
	require.Len(t, state.Playing, 1)
	assert.Equal(t, "horn", state.Playing[0].Name)
	assert.Empty(t, state.Queued)
}

func TestServerCloseEndsClient(t *testing.T) {
	stub := &stubServer{respond: func(msg protocol.Message) []protocol.Message {
		return nil
	}}
	c := startStub(t, stub)
	require.NoError(t, c.Connect())

	// a close frame from our side makes the stub return and drop the socket
	c.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not shut down")
	}

	_, err := c.StopAll(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHandleJSONMessageDropsWhenFull(t *testing.T) {
	c := NewClient(Config{ServerAddr: "localhost:1"})

	data, err := json.Marshal(protocol.Message{Type: protocol.TypeState, Payload: protocol.State{}})
	require.NoError(t, err)
	for i := 0; i < cap(c.States)+5; i++ {
		c.handleJSONMessage(data)
	}
	assert.Len(t, c.States, cap(c.States))

	c.handleJSONMessage([]byte("not json"))
	c.handleJSONMessage([]byte(`{"type":"something/else"}`))
	assert.Empty(t, c.Results)
}
