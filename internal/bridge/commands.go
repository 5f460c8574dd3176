// Package bridge terminates per-user WebSocket connections and relays PCM16
// audio between the mobile link and a LiveKit room. Each connection carries a
// small JSON command protocol on text frames and raw audio on binary frames.
package bridge

import "github.com/rajeevrajeshuni/audiobridge/internal/player"

// Command actions accepted on text frames.
const (
	ActionJoinSession      = "join_session"
	ActionLeaveSession     = "leave_session"
	ActionSubscribeEnable  = "subscribe_enable"
	ActionSubscribeDisable = "subscribe_disable"
	ActionPlayURL          = "play_url"
	ActionPublishTone      = "publish_tone"
)

// Event types emitted on text frames.
const (
	EventConnected    = "connected"
	EventRoomJoined   = "room_joined"
	EventRoomLeft     = "room_left"
	EventDisconnected = "disconnected"
	EventError        = "error"
	EventPlayStarted  = "play_started"
	EventPlayComplete = "play_complete"
)

// Command is an incoming control message. Fields beyond Action are
// action-specific; unused ones are simply absent.
type Command struct {
	Action         string  `json:"action"`
	RoomName       string  `json:"roomName,omitempty"`
	Token          string  `json:"token,omitempty"`
	URL            string  `json:"url,omitempty"`
	FreqHz         int     `json:"freq,omitempty"`
	DurationMs     int     `json:"ms,omitempty"`
	RequestID      string  `json:"requestId,omitempty"`
	Volume         float64 `json:"volume,omitempty"`
	SampleRate     int     `json:"sampleRate,omitempty"`
	TargetIdentity string  `json:"targetIdentity,omitempty"`
}

// Event is an outgoing status message.
type Event struct {
	Type             string `json:"type"`
	RoomName         string `json:"roomName,omitempty"`
	ParticipantID    string `json:"participantId,omitempty"`
	ParticipantCount int    `json:"participantCount,omitempty"`
	Error            string `json:"error,omitempty"`
	State            string `json:"state,omitempty"`
	RequestID        string `json:"requestId,omitempty"`
	Success          *bool  `json:"success,omitempty"`
	DurationMs       int64  `json:"durationMs,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Error: msg}
}

// playCompleteEvent maps a playback result onto the wire shape. Success is a
// pointer so "false" still serializes.
func playCompleteEvent(res player.Result) Event {
	success := res.Success
	return Event{
		Type:       EventPlayComplete,
		RequestID:  res.RequestID,
		Success:    &success,
		DurationMs: res.Duration.Milliseconds(),
		Reason:     res.Reason,
	}
}
