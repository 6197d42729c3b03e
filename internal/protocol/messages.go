// ABOUTME: Soundboard remote control message type definitions
// ABOUTME: Defines the JSON envelope and payloads exchanged over the websocket
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the protocol version exchanged in the hello messages
const Version = 1

// Path is the websocket endpoint
const Path = "/soundboard"

// Message types
const (
	TypeClientHello   = "client/hello"
	TypeServerHello   = "server/hello"
	TypePlay          = "soundboard/play"
	TypeQueue         = "soundboard/queue"
	TypeStopAll       = "soundboard/stop_all"
	TypeStopName      = "soundboard/stop_name"
	TypeStopExclusive = "soundboard/stop_exclusive"
	TypeStop          = "soundboard/stop"
	TypeState         = "soundboard/state"
	TypeResult        = "soundboard/result"
	TypeError         = "soundboard/error"
)

// Error kinds that are not playback failures
const (
	ErrorRateLimited    = "rate_limited"
	ErrorBadRequest     = "bad_request"
	ErrorUnknownProfile = "unknown_profile"
	ErrorDuplicateID    = "duplicate_client_id"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// DecodePayload converts a generic payload into v
func DecodePayload(payload interface{}, v interface{}) error {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID string   `json:"server_id"`
	Name     string   `json:"name"`
	Version  int      `json:"version"`
	Software string   `json:"software,omitempty"`
	Profiles []string `json:"profiles,omitempty"`
}

// PlayRequest asks the server to play or queue a file
type PlayRequest struct {
	User    string `json:"user"`
	Message string `json:"message,omitempty"`
	Path    string `json:"path"`

	// Profile names the output profile; empty means DEFAULT
	Profile string `json:"profile,omitempty"`

	// Volume is 0-100; nil means full volume
	Volume    *int    `json:"volume,omitempty"`
	Pitch     float64 `json:"pitch,omitempty"`
	Tempo     int     `json:"tempo,omitempty"`
	Loop      bool    `json:"loop,omitempty"`
	Exclusive bool    `json:"exclusive,omitempty"`

	ClientSendTime *time.Time `json:"client_send_time,omitempty"`
}

// StopName stops every clip whose name contains Criteria
type StopName struct {
	Criteria string `json:"criteria"`
}

// StopExclusive stops exclusive clips not sent after ClientSendTime
type StopExclusive struct {
	ClientSendTime *time.Time `json:"client_send_time,omitempty"`
}

// Stop stops one playing instance
type Stop struct {
	Handle int `json:"handle"`
}

// ClipState describes one playing instance
type ClipState struct {
	Handle    int     `json:"handle"`
	Name      string  `json:"name"`
	Device    string  `json:"device"`
	Position  float64 `json:"position"` // seconds
	Length    float64 `json:"length"`   // seconds
	Loop      bool    `json:"loop,omitempty"`
	Exclusive bool    `json:"exclusive,omitempty"`
}

// QueuedState describes one queued clip
type QueuedState struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Devices []string `json:"devices"`
}

// State is the registry snapshot pushed to clients
type State struct {
	Playing []ClipState   `json:"playing"`
	Queued  []QueuedState `json:"queued"`
}

// Result acknowledges a command
type Result struct {
	Command string `json:"command"`
	// Count is the number of clips a stop command affected
	Count int `json:"count"`
	// ID is the queue ID assigned by soundboard/queue
	ID string `json:"id,omitempty"`
}

// Error reports a rejected command or a playback failure
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Device  string `json:"device,omitempty"`
	Path    string `json:"path,omitempty"`
}
