// ABOUTME: Tests for the soundboard remote control server
// ABOUTME: Drives a real listener with websocket clients against a recording engine
package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/soundboard-go/internal/engine"
	"github.com/Resonate-Protocol/soundboard-go/internal/metrics"
	"github.com/Resonate-Protocol/soundboard-go/internal/protocol"
	"github.com/Resonate-Protocol/soundboard-go/internal/version"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEngine struct {
	mu      sync.Mutex
	calls   []string
	played  []engine.SoundClip
	queued  []engine.SoundClip
	refs    []*time.Time
	names   []string
	playing []engine.PlayingClip

	events    chan engine.Event
	closeOnce sync.Once
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan engine.Event, 16)}
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Play(clip engine.SoundClip) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "play")
	f.played = append(f.played, clip)
}

func (f *fakeEngine) AddToQueue(clip engine.SoundClip) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "queue")
	f.queued = append(f.queued, clip)
	return "queue-id-1"
}

func (f *fakeEngine) Reset() { f.record("reset") }

func (f *fakeEngine) StopMatchingName(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop_name")
	f.names = append(f.names, substr)
	return 2
}

func (f *fakeEngine) StopExclusive(ref *time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop_exclusive")
	f.refs = append(f.refs, ref)
	return 1
}

func (f *fakeEngine) StopPlaying(handle int) bool {
	f.record("stop")
	return handle == 7
}

func (f *fakeEngine) CurrentlyPlaying() []engine.PlayingClip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.PlayingClip(nil), f.playing...)
}

func (f *fakeEngine) Queued() []engine.SoundClip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.SoundClip(nil), f.queued...)
}

func (f *fakeEngine) Watch() (<-chan engine.Event, func()) {
	return f.events, func() { f.closeOnce.Do(func() { close(f.events) }) }
}

func (f *fakeEngine) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeProfiles map[string][]engine.OutputTarget

func (p fakeProfiles) Get(name string) ([]engine.OutputTarget, bool) {
	if name == "" {
		name = "DEFAULT"
	}
	t, ok := p[strings.ToUpper(name)]
	return t, ok
}

func (p fakeProfiles) Names() []string {
	return []string{"DEFAULT", "STREAM"}
}

var testProfiles = fakeProfiles{
	"DEFAULT": {{Device: "Speakers", Volume: 80}},
	"STREAM":  {{Device: "Headphones", Volume: 50}, {Device: "Speakers", Volume: 100}},
}

func startServer(t *testing.T, cfg Config, eng *fakeEngine) (*Server, string) {
	t.Helper()
	m, err := metrics.New()
	require.NoError(t, err)

	s := New(cfg, eng, testProfiles, m)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(l) }()

	t.Cleanup(func() {
		s.Stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return s, l.Addr().String()
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+protocol.Path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(protocol.Message{Type: msgType, Payload: payload}))
}

// readType reads messages until one of msgType arrives
func readType(t *testing.T, conn *websocket.Conn, msgType string, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			require.NoError(t, protocol.DecodePayload(msg.Payload, v))
			return
		}
	}
}

func connect(t *testing.T, addr, id string) *websocket.Conn {
	t.Helper()
	conn := dial(t, addr)
	send(t, conn, protocol.TypeClientHello, protocol.ClientHello{ClientID: id, Name: "tester", Version: protocol.Version})

	var hello protocol.ServerHello
	readType(t, conn, protocol.TypeServerHello, &hello)
	require.Equal(t, protocol.Version, hello.Version)
	return conn
}

func TestHandshake(t *testing.T) {
	eng := newFakeEngine()
	s, addr := startServer(t, Config{Name: "Desk"}, eng)

	conn := dial(t, addr)
	send(t, conn, protocol.TypeClientHello, protocol.ClientHello{ClientID: "c1", Name: "alice"})

	var hello protocol.ServerHello
	readType(t, conn, protocol.TypeServerHello, &hello)
	assert.Equal(t, s.ID(), hello.ServerID)
	assert.Equal(t, "Desk", hello.Name)
	assert.Equal(t, "Soundboard/"+version.Version, hello.Software)
	assert.Equal(t, []string{"DEFAULT", "STREAM"}, hello.Profiles)

	var state protocol.State
	readType(t, conn, protocol.TypeState, &state)
	assert.Empty(t, state.Playing)

	assert.Eventually(t, func() bool {
		clients := s.Clients()
		return len(clients) == 1 && clients[0].Name == "alice"
	}, time.Second, 10*time.Millisecond)
}

func TestHandshakeRejectsMissingID(t *testing.T) {
	_, addr := startServer(t, Config{}, newFakeEngine())

	conn := dial(t, addr)
	send(t, conn, protocol.TypeClientHello, protocol.ClientHello{Name: "anon"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server closes the connection")
}

func TestHandshakeRejectsWrongFirstMessage(t *testing.T) {
	_, addr := startServer(t, Config{}, newFakeEngine())

	conn := dial(t, addr)
	send(t, conn, protocol.TypeStopAll, nil)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestDuplicateClientID(t *testing.T) {
	_, addr := startServer(t, Config{}, newFakeEngine())

	connect(t, addr, "same")

	conn := dial(t, addr)
	send(t, conn, protocol.TypeClientHello, protocol.ClientHello{ClientID: "same", Name: "twin"})

	var e protocol.Error
	readType(t, conn, protocol.TypeError, &e)
	assert.Equal(t, protocol.ErrorDuplicateID, e.Kind)
}

func TestPlayCommand(t *testing.T) {
	eng := newFakeEngine()
	_, addr := startServer(t, Config{}, eng)
	conn := connect(t, addr, "c1")

	sent := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	send(t, conn, protocol.TypePlay, protocol.PlayRequest{
		User:           "alice",
		Path:           "/sounds/horn.mp3",
		Exclusive:      true,
		Pitch:          1.5,
		ClientSendTime: &sent,
	})

	var res protocol.Result
	readType(t, conn, protocol.TypeResult, &res)
	assert.Equal(t, protocol.TypePlay, res.Command)
	assert.Equal(t, 1, res.Count, "count of exclusive clips stopped")

	assert.Equal(t, []string{"stop_exclusive", "play"}, eng.callLog(), "other exclusive clips stop first")

	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Len(t, eng.played, 1)
	clip := eng.played[0]
	assert.Equal(t, "alice:horn.mp3", clip.Name)
	assert.Equal(t, 100, clip.Volume)
	assert.Equal(t, testProfiles["DEFAULT"], clip.Targets)
	assert.True(t, clip.Exclusive)
	assert.Equal(t, 1.5, clip.Pitch)
	require.NotNil(t, eng.refs[0])
	assert.True(t, eng.refs[0].Equal(sent))
}

func TestPlayCommandProfileAndVolume(t *testing.T) {
	eng := newFakeEngine()
	_, addr := startServer(t, Config{}, eng)
	conn := connect(t, addr, "c1")

	vol := 30
	send(t, conn, protocol.TypePlay, protocol.PlayRequest{Path: "a.wav", Profile: "stream", Volume: &vol, Loop: true})

	var res protocol.Result
	readType(t, conn, protocol.TypeResult, &res)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Len(t, eng.played, 1)
	assert.Equal(t, "a.wav", eng.played[0].Name)
	assert.Equal(t, 30, eng.played[0].Volume)
	assert.Len(t, eng.played[0].Targets, 2)
	assert.True(t, eng.played[0].Loop)
	assert.Empty(t, eng.refs, "non-exclusive play stops nothing")
}

func TestPlayCommandErrors(t *testing.T) {
	eng := newFakeEngine()
	_, addr := startServer(t, Config{}, eng)
	conn := connect(t, addr, "c1")

	loud := 150
	tests := []struct {
		name string
		req  protocol.PlayRequest
		kind string
	}{
		{"missing path", protocol.PlayRequest{User: "a"}, protocol.ErrorBadRequest},
		{"unknown profile", protocol.PlayRequest{Path: "a.wav", Profile: "nowhere"}, protocol.ErrorUnknownProfile},
		{"volume out of range", protocol.PlayRequest{Path: "a.wav", Volume: &loud}, protocol.ErrorBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, protocol.TypePlay, tt.req)
			var e protocol.Error
			readType(t, conn, protocol.TypeError, &e)
			assert.Equal(t, tt.kind, e.Kind)
		})
	}
	assert.Empty(t, eng.callLog())
}

func TestQueueCommand(t *testing.T) {
	eng := newFakeEngine()
	_, addr := startServer(t, Config{}, eng)
	conn := connect(t, addr, "c1")

	send(t, conn, protocol.TypeQueue, protocol.PlayRequest{User: "bob", Path: "drums.ogg", Exclusive: true})

	var res protocol.Result
	readType(t, conn, protocol.TypeResult, &res)
	assert.Equal(t, "queue-id-1", res.ID)
	assert.Equal(t, []string{"queue"}, eng.callLog(), "queueing never stops exclusive clips")
}

func TestStopCommands(t *testing.T) {
	eng := newFakeEngine()
	_, addr := startServer(t, Config{}, eng)
	conn := connect(t, addr, "c1")

	var res protocol.Result

	send(t, conn, protocol.TypeStopAll, nil)
	readType(t, conn, protocol.TypeResult, &res)
	assert.Equal(t, protocol.TypeStopAll, res.Command)

	send(t, conn, protocol.TypeStopName, protocol.StopName{Criteria: "alice:"})
	readType(t, conn, protocol.TypeResult, &res)
	assert.Equal(t, 2, res.Count)

	send(t, conn, protocol.TypeStopExclusive, nil)
	readType(t, conn, protocol.TypeResult, &res)
	assert.Equal(t, 1, res.Count)

	send(t, conn, protocol.TypeStop, protocol.Stop{Handle: 7})
	readType(t, conn, protocol.TypeResult, &res)
	assert.Equal(t, 1, res.Count)

	send(t, conn, protocol.TypeStop, protocol.Stop{Handle: 8})
	readType(t, conn, protocol.TypeResult, &res)
	assert.Equal(t, 0, res.Count)

	assert.Equal(t, []string{"reset", "stop_name", "stop_exclusive", "stop", "stop"}, eng.callLog())

	eng.mu.Lock()
	assert.Equal(t, []string{"alice:"}, eng.names)
	assert.Nil(t, eng.refs[0], "no reference time stops every exclusive clip")
	eng.mu.Unlock()
}

func TestStopNameRequiresCriteria(t *testing.T) {
	eng := newFakeEngine()
	_, addr := startServer(t, Config{}, eng)
	conn := connect(t, addr, "c1")

	send(t, conn, protocol.TypeStopName, protocol.StopName{})
	var e protocol.Error
	readType(t, conn, protocol.TypeError, &e)
	assert.Equal(t, protocol.ErrorBadRequest, e.Kind)
	assert.Empty(t, eng.callLog())
}

func TestUnknownCommand(t *testing.T) {
	_, addr := startServer(t, Config{}, newFakeEngine())
	conn := connect(t, addr, "c1")

	send(t, conn, "soundboard/dance", nil)
	var e protocol.Error
	readType(t, conn, protocol.TypeError, &e)
	assert.Equal(t, protocol.ErrorBadRequest, e.Kind)
}

func TestRateLimit(t *testing.T) {
	eng := newFakeEngine()
	_, addr := startServer(t, Config{RateLimit: 0.001, Burst: 1}, eng)
	conn := connect(t, addr, "c1")

	send(t, conn, protocol.TypeStopAll, nil)
	var res protocol.Result
	readType(t, conn, protocol.TypeResult, &res)

	send(t, conn, protocol.TypeStopAll, nil)
	var e protocol.Error
	readType(t, conn, protocol.TypeError, &e)
	assert.Equal(t, protocol.ErrorRateLimited, e.Kind)
	assert.Equal(t, []string{"reset"}, eng.callLog())
}

func TestStatePush(t *testing.T) {
	eng := newFakeEngine()
	_, addr := startServer(t, Config{}, eng)
	conn := connect(t, addr, "c1")

	var initial protocol.State
	readType(t, conn, protocol.TypeState, &initial)

	eng.mu.Lock()
	eng.playing = []engine.PlayingClip{{
		Name: "alice:horn.mp3", OutputDevice: "Speakers", Handle: 3,
		Length: 2 * time.Second, Position: 400 * time.Millisecond, Exclusive: true,
	}}
	eng.queued = []engine.SoundClip{{ID: "q1", Path: "/s/next.wav", Targets: []engine.OutputTarget{{Device: "Speakers"}}}}
	eng.mu.Unlock()
	eng.events <- engine.Event{Kind: engine.EventPlayingChanged}

	var state protocol.State
	readType(t, conn, protocol.TypeState, &state)
	require.Len(t, state.Playing, 1)
	assert.Equal(t, protocol.ClipState{
		Handle: 3, Name: "alice:horn.mp3", Device: "Speakers", Position: 0.4, Length: 2, Exclusive: true,
	}, state.Playing[0])
	require.Len(t, state.Queued, 1)
	assert.Equal(t, protocol.QueuedState{ID: "q1", Name: "next", Path: "/s/next.wav", Devices: []string{"Speakers"}}, state.Queued[0])
}

func TestStateRequest(t *testing.T) {
	_, addr := startServer(t, Config{}, newFakeEngine())
	conn := connect(t, addr, "c1")

	var initial protocol.State
	readType(t, conn, protocol.TypeState, &initial)

	send(t, conn, protocol.TypeState, nil)
	var again protocol.State
	readType(t, conn, protocol.TypeState, &again)
	assert.Empty(t, again.Playing)
}

func TestReportPlaybackError(t *testing.T) {
	srv, addr := startServer(t, Config{}, newFakeEngine())
	conn := connect(t, addr, "c1")

	srv.Report(&engine.PlaybackError{
		Kind:   engine.DeviceNotFound,
		Device: "HDMI",
		Path:   "a.wav",
		Err:    engine.ErrDeviceNotFound,
	})

	var e protocol.Error
	readType(t, conn, protocol.TypeError, &e)
	assert.Equal(t, "device_not_found", e.Kind)
	assert.Equal(t, "HDMI", e.Device)
	assert.Equal(t, "a.wav", e.Path)
	assert.Equal(t, "device not found", e.Message)
}

func TestErrorEventsAreNotRebroadcast(t *testing.T) {
	eng := newFakeEngine()
	_, addr := startServer(t, Config{}, eng)
	conn := connect(t, addr, "c1")

	eng.events <- engine.Event{Kind: engine.EventError, Err: errors.New("already reported")}
	send(t, conn, protocol.TypeStopAll, nil)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg))
		require.NotEqual(t, protocol.TypeError, msg.Type)
		if msg.Type == protocol.TypeResult {
			return
		}
	}
}

func TestReportPlainError(t *testing.T) {
	srv, addr := startServer(t, Config{}, newFakeEngine())
	conn := connect(t, addr, "c1")

	srv.Report(errors.New("disk on fire"))

	var e protocol.Error
	readType(t, conn, protocol.TypeError, &e)
	assert.Equal(t, "playback_error", e.Kind)
	assert.Equal(t, "disk on fire", e.Message)
}

func TestMetricsEndpoint(t *testing.T) {
	_, addr := startServer(t, Config{}, newFakeEngine())
	conn := connect(t, addr, "c1")
	send(t, conn, protocol.TypeStopAll, nil)
	var res protocol.Result
	readType(t, conn, protocol.TypeResult, &res)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `soundboard_remote_commands_total{type="soundboard/stop_all"} 1`)
	assert.Contains(t, string(body), "soundboard_remote_clients 1")
}

func TestStopClosesClients(t *testing.T) {
	eng := newFakeEngine()
	m, err := metrics.New()
	require.NoError(t, err)

	s := New(Config{}, eng, testProfiles, m)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(l) }()

	conn := connect(t, l.Addr().String(), "c1")
	s.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Empty(t, s.Clients())
}
