package bridge

import "context"

// PublishTrack is the outbound audio track of a media session. Samples are
// 16kHz mono PCM16.
type PublishTrack interface {
	WriteSample(samples []int16) error
	Close() error
}

// Session is a live connection to a media room. Implementations must be safe
// for concurrent use; the connection calls into a session from its command
// loop, the playback goroutine and the tone generator.
type Session interface {
	// LocalIdentity returns the participant identity assigned at join.
	LocalIdentity() string

	// RemoteParticipantCount returns the number of other participants
	// currently in the room.
	RemoteParticipantCount() int

	// PublishAudioTrack creates and publishes the outbound track under the
	// given name. Called at most once per session by the connection.
	PublishAudioTrack(name string) (PublishTrack, error)

	// Disconnect leaves the room and releases all tracks. Idempotent.
	Disconnect()
}

// JoinParams carries everything a dialer needs to establish a session.
// OnRemoteAudio receives 16kHz mono PCM from remote participants as it
// arrives, tagged with the sender identity; it must not block.
type JoinParams struct {
	URL      string
	RoomName string
	Token    string

	OnRemoteAudio  func(identity string, samples []int16)
	OnDisconnected func()
}

// SessionDialer establishes a media session. The context bounds the join;
// implementations must give up and return ctx.Err() once it expires.
type SessionDialer func(ctx context.Context, p JoinParams) (Session, error)
