package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	media "github.com/livekit/media-sdk"
	lkpacer "github.com/livekit/mediatransportutil/pkg/pacer"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	webrtc "github.com/pion/webrtc/v4"
)

// DialLiveKit is the production [SessionDialer]. It connects to a LiveKit
// room with a leaky-bucket pacer, subscribes to remote audio tracks and
// delivers them as 16kHz mono PCM through JoinParams.OnRemoteAudio.
func DialLiveKit(ctx context.Context, p JoinParams) (Session, error) {
	sess := &liveKitSession{}

	cb := &lksdk.RoomCallback{
		OnDisconnected: p.OnDisconnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				identity := string(rp.Identity())
				remote, err := lkmedia.NewPCMRemoteTrack(track,
					&remoteAudioSink{identity: identity, deliver: p.OnRemoteAudio},
					lkmedia.WithTargetSampleRate(linkSampleRate),
					lkmedia.WithTargetChannels(1),
					lkmedia.WithHandleJitter(true),
				)
				if err != nil {
					slog.Warn("remote track setup failed", "identity", identity, "err", err)
					return
				}
				sess.addRemote(remote)
			},
		},
	}

	pf := lkpacer.NewPacerFactory(
		lkpacer.LeakyBucketPacer,
		lkpacer.WithBitrate(512_000),
		lkpacer.WithMaxLatency(100*time.Millisecond),
	)

	// ConnectToRoomWithToken has no context parameter; run it aside and
	// bound the wait ourselves.
	type dialResult struct {
		room *lksdk.Room
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		room, err := lksdk.ConnectToRoomWithToken(p.URL, p.Token, cb, lksdk.WithPacer(pf))
		ch <- dialResult{room: room, err: err}
	}()

	select {
	case <-ctx.Done():
		// If the connect eventually succeeds nobody owns the room; reap it.
		go func() {
			if r := <-ch; r.room != nil {
				r.room.Disconnect()
			}
		}()
		return nil, fmt.Errorf("bridge: join room %q: %w", p.RoomName, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("bridge: join room %q: %w", p.RoomName, r.err)
		}
		sess.setRoom(r.room)
		return sess, nil
	}
}

type liveKitSession struct {
	mu      sync.Mutex
	room    *lksdk.Room
	remotes []*lkmedia.PCMRemoteTrack
	closed  bool
}

func (s *liveKitSession) setRoom(room *lksdk.Room) {
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
}

func (s *liveKitSession) addRemote(t *lkmedia.PCMRemoteTrack) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.Close()
		return
	}
	s.remotes = append(s.remotes, t)
	s.mu.Unlock()
}

func (s *liveKitSession) LocalIdentity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return ""
	}
	return string(s.room.LocalParticipant.Identity())
}

func (s *liveKitSession) RemoteParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return 0
	}
	return len(s.room.GetRemoteParticipants())
}

func (s *liveKitSession) PublishAudioTrack(name string) (PublishTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.room == nil {
		return nil, fmt.Errorf("bridge: publish track: session closed")
	}

	track, err := lkmedia.NewPCMLocalTrack(linkSampleRate, 1, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: create PCM track: %w", err)
	}
	if _, err := s.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name: name,
	}); err != nil {
		track.Close()
		return nil, fmt.Errorf("bridge: publish track: %w", err)
	}
	return &localAudioTrack{track: track}, nil
}

func (s *liveKitSession) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	remotes := s.remotes
	s.remotes = nil
	room := s.room
	s.mu.Unlock()

	for _, t := range remotes {
		t.Close()
	}
	if room != nil {
		room.Disconnect()
	}
}

// localAudioTrack adapts PCMLocalTrack to [PublishTrack].
type localAudioTrack struct {
	track *lkmedia.PCMLocalTrack
}

func (t *localAudioTrack) WriteSample(samples []int16) error {
	return t.track.WriteSample(media.PCM16Sample(samples))
}

func (t *localAudioTrack) Close() error {
	t.track.Close()
	return nil
}

// remoteAudioSink feeds decoded remote audio into the connection, tagged
// with the sender identity so the subscribe filter can apply per write.
type remoteAudioSink struct {
	identity string
	deliver  func(identity string, samples []int16)
}

func (s *remoteAudioSink) WriteSample(sample media.PCM16Sample) error {
	if len(sample) == 0 {
		return nil
	}
	s.deliver(s.identity, []int16(sample))
	return nil
}

func (s *remoteAudioSink) Close() error { return nil }
