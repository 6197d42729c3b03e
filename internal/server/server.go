// ABOUTME: Remote control server for the soundboard engine
// ABOUTME: Accepts websocket commands, pushes registry state and serves metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Resonate-Protocol/soundboard-go/internal/discovery"
	"github.com/Resonate-Protocol/soundboard-go/internal/engine"
	"github.com/Resonate-Protocol/soundboard-go/internal/metrics"
	"github.com/Resonate-Protocol/soundboard-go/internal/protocol"
	"github.com/Resonate-Protocol/soundboard-go/internal/version"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	sendBuffer    = 100
	writeDeadline = 10 * time.Second
	helloTimeout  = 5 * time.Second
	pingInterval  = 30 * time.Second

	// progressInterval throttles state pushes caused only by position updates
	progressInterval = time.Second
)

// Commander is the engine surface the server drives
type Commander interface {
	Play(clip engine.SoundClip)
	AddToQueue(clip engine.SoundClip) string
	Reset()
	StopMatchingName(substr string) int
	StopExclusive(ref *time.Time) int
	StopPlaying(handle int) bool
	CurrentlyPlaying() []engine.PlayingClip
	Queued() []engine.SoundClip
	Watch() (<-chan engine.Event, func())
}

// ProfileSource resolves output profile names to device targets
type ProfileSource interface {
	Get(name string) ([]engine.OutputTarget, bool)
	Names() []string
}

// Config holds server configuration
type Config struct {
	Host       string
	Port       int
	Name       string
	EnableMDNS bool

	// RateLimit is commands per second per client; zero disables limiting
	RateLimit float64
	Burst     int
}

// Server is the soundboard remote control server
type Server struct {
	config   Config
	serverID string
	engine   Commander
	profiles ProfileSource
	metrics  *metrics.Metrics
	logger   *log.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux

	clients   map[string]*Client
	clientsMu sync.RWMutex

	mdnsManager *discovery.Manager
	progress    rate.Sometimes

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// Client is a connected remote
type Client struct {
	ID          string
	Name        string
	Conn        *websocket.Conn
	ConnectedAt time.Time

	limiter  *rate.Limiter
	sendChan chan interface{}
}

// ClientInfo describes a connected client for display
type ClientInfo struct {
	ID          string
	Name        string
	Addr        string
	ConnectedAt time.Time
}

// New creates a server driving cmd with targets from profiles. m may be nil.
func New(config Config, cmd Commander, profiles ProfileSource, m *metrics.Metrics) *Server {
	mux := http.NewServeMux()

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		engine:   cmd,
		profiles: profiles,
		metrics:  m,
		logger:   log.WithPrefix("server"),
		mux:      mux,
		clients:  make(map[string]*Client),
		progress: rate.Sometimes{Interval: progressInterval},
		stopChan: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients
				return true
			}
			s.logger.Warn("Accepting websocket from origin", "origin", origin)
			return true
		},
	}

	mux.HandleFunc(protocol.Path, s.handleWebSocket)
	m.RegisterHandlers(mux)
	return s
}

// Handler returns the HTTP handler serving the websocket and metrics endpoints
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ID returns the server id sent in server/hello
func (s *Server) ID() string {
	return s.serverID
}

// Start listens on the configured address and serves until Stop is called
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Serve serves on l until Stop is called or the listener fails
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("Server starting", "name", s.config.Name, "id", s.serverID, "addr", l.Addr())

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			s.logger.Warn("Failed to start mDNS advertisement", "err", err)
		}
	}

	events, unwatch := s.engine.Watch()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.stateLoop(events)
	}()

	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		s.logger.Info("Server shutting down")
	case err := <-errChan:
		s.logger.Error("HTTP server error", "err", err)
		serverErr = err
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown error", "err", err)
	}

	// hijacked websocket connections are not closed by Shutdown
	s.clientsMu.RLock()
	for _, c := range s.clients {
		_ = c.Conn.Close()
	}
	s.clientsMu.RUnlock()

	unwatch()
	s.wg.Wait()
	s.logger.Info("Server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Clients returns the connected clients sorted by name
func (s *Server) Clients() []ClientInfo {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	out := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, ClientInfo{
			ID:          c.ID,
			Name:        c.Name,
			Addr:        c.Conn.RemoteAddr().String(),
			ConnectedAt: c.ConnectedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Report implements engine.Reporter by pushing the failure to every client
func (s *Server) Report(err error) {
	msg := protocol.Error{Kind: "playback_error", Message: err.Error()}

	var pe *engine.PlaybackError
	if errors.As(err, &pe) {
		msg.Kind = pe.Kind.String()
		msg.Device = pe.Device
		msg.Path = pe.Path
		if pe.Err != nil {
			msg.Message = pe.Err.Error()
		}
	}
	s.broadcast(protocol.TypeError, msg)
}

// stateLoop pushes registry snapshots to clients as the engine changes
func (s *Server) stateLoop(events <-chan engine.Event) {
	for ev := range events {
		switch ev.Kind {
		case engine.EventError:
			// errors reach clients through Report
		case engine.EventProgress:
			s.progress.Do(func() { s.broadcast(protocol.TypeState, s.snapshot()) })
		default:
			s.broadcast(protocol.TypeState, s.snapshot())
		}
	}
}

// snapshot converts the engine registry into a state payload
func (s *Server) snapshot() protocol.State {
	playing := s.engine.CurrentlyPlaying()
	queued := s.engine.Queued()

	state := protocol.State{
		Playing: make([]protocol.ClipState, len(playing)),
		Queued:  make([]protocol.QueuedState, len(queued)),
	}
	for i, p := range playing {
		state.Playing[i] = protocol.ClipState{
			Handle:    p.Handle,
			Name:      p.Name,
			Device:    p.OutputDevice,
			Position:  p.Position.Seconds(),
			Length:    p.Length.Seconds(),
			Loop:      p.Loop,
			Exclusive: p.Exclusive,
		}
	}
	for i, c := range queued {
		devices := make([]string, len(c.Targets))
		for j, t := range c.Targets {
			devices[j] = t.Device
		}
		state.Queued[i] = protocol.QueuedState{
			ID:      c.ID,
			Name:    c.DisplayName(),
			Path:    c.Path,
			Devices: devices,
		}
	}
	return state
}

// broadcast queues a message for every client, skipping ones whose buffer is full
func (s *Server) broadcast(msgType string, payload interface{}) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, c := range s.clients {
		if err := s.sendMessage(c, msgType, payload); err != nil {
			s.logger.Debug("Dropping message", "client", c.Name, "type", msgType, "err", err)
		}
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade error", "err", err)
		return
	}

	s.logger.Debug("New WebSocket connection", "remote", r.RemoteAddr)
	s.handleConnection(conn)
}

// handleConnection manages a client connection
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		s.logger.Debug("Rejecting connection during shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	hello, err := s.readHello(conn)
	if err != nil {
		s.logger.Warn("Handshake failed", "remote", conn.RemoteAddr(), "err", err)
		return
	}

	client := &Client{
		ID:          hello.ClientID,
		Name:        hello.Name,
		Conn:        conn,
		ConnectedAt: time.Now(),
		sendChan:    make(chan interface{}, sendBuffer),
	}
	if s.config.RateLimit > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit), max(s.config.Burst, 1))
	}

	// check for duplicate client ID and register atomically
	s.clientsMu.Lock()
	s.shutdownMu.RLock()
	closing := s.isShutdown
	s.shutdownMu.RUnlock()
	if closing {
		s.clientsMu.Unlock()
		return
	}
	if existing, exists := s.clients[hello.ClientID]; exists {
		s.clientsMu.Unlock()
		s.logger.Warn("Client ID already connected, rejecting duplicate", "id", hello.ClientID, "name", existing.Name)
		writeDirect(conn, protocol.TypeError, protocol.Error{Kind: protocol.ErrorDuplicateID, Message: "client ID already connected"})
		return
	}
	s.clients[client.ID] = client
	s.metrics.SetClients(len(s.clients))
	s.clientsMu.Unlock()

	s.logger.Info("Client connected", "name", client.Name, "id", client.ID)

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.metrics.SetClients(len(s.clients))
		close(client.sendChan)
		s.clientsMu.Unlock()
		s.logger.Info("Client disconnected", "name", client.Name)
	}()

	_ = s.sendMessage(client, protocol.TypeServerHello, protocol.ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  protocol.Version,
		Software: version.Software(),
		Profiles: s.profiles.Names(),
	})
	_ = s.sendMessage(client, protocol.TypeState, s.snapshot())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(client)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("WebSocket error", "client", client.Name, "err", err)
			}
			return
		}
		s.handleClientMessage(client, data)
	}
}

// readHello waits for and validates client/hello
func (s *Server) readHello(conn *websocket.Conn) (protocol.ClientHello, error) {
	var hello protocol.ClientHello

	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return hello, fmt.Errorf("read hello: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return hello, fmt.Errorf("parse hello: %w", err)
	}
	if msg.Type != protocol.TypeClientHello {
		return hello, fmt.Errorf("expected %s, got %s", protocol.TypeClientHello, msg.Type)
	}
	if err := protocol.DecodePayload(msg.Payload, &hello); err != nil {
		return hello, err
	}
	if hello.ClientID == "" {
		return hello, errors.New("client hello missing client_id")
	}
	if hello.Name == "" {
		hello.Name = hello.ClientID
	}
	return hello, nil
}

// clientWriter sends queued messages and keepalive pings to the client
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.sendChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("Error marshaling message", "err", err)
				continue
			}
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("Error writing message", "client", client.Name, "err", err)
				drain(client.sendChan)
				return
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				drain(client.sendChan)
				return
			}
		}
	}
}

// drain discards messages until the channel is closed
func drain(ch <-chan interface{}) {
	for range ch {
	}
}

// sendMessage queues a JSON message for a client without blocking
func (s *Server) sendMessage(client *Client, msgType string, payload interface{}) error {
	msg := protocol.Message{
		Type:    msgType,
		Payload: payload,
	}

	select {
	case client.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("client send buffer full")
	}
}

// writeDirect writes a message on a connection that has no writer goroutine
func writeDirect(conn *websocket.Conn, msgType string, payload interface{}) {
	data, err := json.Marshal(protocol.Message{Type: msgType, Payload: payload})
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

// handleClientMessage dispatches one command from a client
func (s *Server) handleClientMessage(client *Client, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(client, protocol.ErrorBadRequest, fmt.Sprintf("invalid message: %v", err))
		return
	}

	s.metrics.RecordCommand(msg.Type)
	if client.limiter != nil && !client.limiter.Allow() {
		s.metrics.RecordRateLimited()
		s.sendError(client, protocol.ErrorRateLimited, "too many commands, slow down")
		return
	}

	s.logger.Debug("Command", "client", client.Name, "type", msg.Type)

	switch msg.Type {
	case protocol.TypePlay:
		s.handlePlay(client, msg.Payload, false)
	case protocol.TypeQueue:
		s.handlePlay(client, msg.Payload, true)
	case protocol.TypeStopAll:
		s.engine.Reset()
		s.sendResult(client, protocol.Result{Command: msg.Type})
	case protocol.TypeStopName:
		var req protocol.StopName
		if err := protocol.DecodePayload(msg.Payload, &req); err != nil || req.Criteria == "" {
			s.sendError(client, protocol.ErrorBadRequest, "stop_name requires criteria")
			return
		}
		n := s.engine.StopMatchingName(req.Criteria)
		s.sendResult(client, protocol.Result{Command: msg.Type, Count: n})
	case protocol.TypeStopExclusive:
		var req protocol.StopExclusive
		if err := protocol.DecodePayload(msg.Payload, &req); err != nil {
			s.sendError(client, protocol.ErrorBadRequest, err.Error())
			return
		}
		n := s.engine.StopExclusive(req.ClientSendTime)
		s.sendResult(client, protocol.Result{Command: msg.Type, Count: n})
	case protocol.TypeStop:
		var req protocol.Stop
		if err := protocol.DecodePayload(msg.Payload, &req); err != nil {
			s.sendError(client, protocol.ErrorBadRequest, err.Error())
			return
		}
		n := 0
		if s.engine.StopPlaying(req.Handle) {
			n = 1
		}
		s.sendResult(client, protocol.Result{Command: msg.Type, Count: n})
	case protocol.TypeState:
		_ = s.sendMessage(client, protocol.TypeState, s.snapshot())
	default:
		s.sendError(client, protocol.ErrorBadRequest, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// handlePlay plays or queues a clip built from a play request
func (s *Server) handlePlay(client *Client, payload interface{}, queue bool) {
	var req protocol.PlayRequest
	if err := protocol.DecodePayload(payload, &req); err != nil {
		s.sendError(client, protocol.ErrorBadRequest, err.Error())
		return
	}

	clip, err := s.clipFromRequest(req)
	if err != nil {
		var pe *requestError
		if errors.As(err, &pe) {
			s.sendError(client, pe.kind, pe.msg)
			return
		}
		s.sendError(client, protocol.ErrorBadRequest, err.Error())
		return
	}

	if queue {
		id := s.engine.AddToQueue(clip)
		s.sendResult(client, protocol.Result{Command: protocol.TypeQueue, Count: 1, ID: id})
		return
	}

	stopped := 0
	if clip.Exclusive {
		stopped = s.engine.StopExclusive(clip.ClientSendTime)
	}
	s.engine.Play(clip)
	s.sendResult(client, protocol.Result{Command: protocol.TypePlay, Count: stopped})
}

type requestError struct {
	kind string
	msg  string
}

func (e *requestError) Error() string { return e.kind + ": " + e.msg }

// clipFromRequest builds the clip a remote play asks for. Clips are named
// user:file so they can be stopped by user.
func (s *Server) clipFromRequest(req protocol.PlayRequest) (engine.SoundClip, error) {
	if req.Path == "" {
		return engine.SoundClip{}, &requestError{kind: protocol.ErrorBadRequest, msg: "path is required"}
	}

	targets, ok := s.profiles.Get(req.Profile)
	if !ok {
		return engine.SoundClip{}, &requestError{kind: protocol.ErrorUnknownProfile, msg: fmt.Sprintf("no output profile %q", req.Profile)}
	}

	volume := 100
	if req.Volume != nil {
		volume = *req.Volume
	}
	if volume < 0 || volume > 100 {
		return engine.SoundClip{}, &requestError{kind: protocol.ErrorBadRequest, msg: fmt.Sprintf("volume %d is outside 0-100", volume)}
	}

	name := filepath.Base(req.Path)
	if req.User != "" {
		name = req.User + ":" + name
	}

	return engine.SoundClip{
		Name:           name,
		Path:           req.Path,
		Volume:         volume,
		Targets:        targets,
		Loop:           req.Loop,
		Exclusive:      req.Exclusive,
		Pitch:          req.Pitch,
		Tempo:          req.Tempo,
		ClientSendTime: req.ClientSendTime,
	}, nil
}

func (s *Server) sendResult(client *Client, res protocol.Result) {
	if err := s.sendMessage(client, protocol.TypeResult, res); err != nil {
		s.logger.Debug("Dropping result", "client", client.Name, "err", err)
	}
}

func (s *Server) sendError(client *Client, kind, message string) {
	if err := s.sendMessage(client, protocol.TypeError, protocol.Error{Kind: kind, Message: message}); err != nil {
		s.logger.Debug("Dropping error", "client", client.Name, "err", err)
	}
}
