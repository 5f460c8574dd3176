package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/rajeevrajeshuni/audiobridge/internal/config"
	"github.com/rajeevrajeshuni/audiobridge/internal/observe"
	"github.com/rajeevrajeshuni/audiobridge/internal/player"
	"github.com/rajeevrajeshuni/audiobridge/pkg/audio"
)

const (
	// linkSampleRate is the mobile link's native PCM rate.
	linkSampleRate = 16000
	// frameSamples is 10ms of link audio.
	frameSamples = linkSampleRate / 100

	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pingTimeout  = 10 * time.Second

	publishTrackName = "microphone"

	reasonNoSession = "no_media_session"
)

// Connection owns one user's WebSocket and, while joined, one media session.
// Text frames carry the JSON command protocol, binary frames carry raw PCM16
// at the link rate. All command handling runs on the single Run goroutine;
// the pacing buffer, playback and remote-audio callbacks run beside it.
type Connection struct {
	userID  string
	sock    *websocket.Conn
	cfg     *config.Config
	dial    SessionDialer
	metrics *observe.Metrics
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	player *player.Player
	pacing *audio.PacingBuffer

	writeMu sync.Mutex // serializes all socket writes

	mu        sync.Mutex
	session   Session
	track     PublishTrack
	subOn     bool
	subTarget string
	closed    bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewConnection wires a connection around an accepted socket. Run starts the
// read loop; the registry owns registration and teardown ordering.
func NewConnection(userID string, sock *websocket.Conn, cfg *config.Config, dial SessionDialer, m *observe.Metrics, log *slog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		userID:  userID,
		sock:    sock,
		cfg:     cfg,
		dial:    dial,
		metrics: m,
		log:     log.With("user", userID),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.player = player.New(c.log)
	c.pacing = audio.NewPacingBuffer(
		time.Duration(cfg.Audio.PacingIntervalMs)*time.Millisecond,
		cfg.Audio.PacingCapacity,
		c.writeBinary,
		audio.WithDropFunc(func() { m.PacingDrops.Add(ctx, 1) }),
	)
	return c
}

// Done is closed once teardown completes; the registry's supersede logic
// waits on it.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Run drives the read loop until the socket errors, closes or the connection
// is superseded. It always tears the connection down before returning.
func (c *Connection) Run() {
	defer c.Close()

	c.sendEvent(Event{Type: EventConnected, State: "ready"})
	c.pacing.Start()
	go c.pingLoop()

	for {
		typ, data, err := c.sock.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.log.Info("socket read ended", "err", err)
			}
			return
		}
		switch typ {
		case websocket.MessageBinary:
			c.handleAudio(data)
		case websocket.MessageText:
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				c.sendEvent(errorEvent("invalid command format"))
				continue
			}
			c.handleCommand(cmd)
		}
	}
}

func (c *Connection) handleCommand(cmd Command) {
	status := "ok"
	switch cmd.Action {
	case ActionJoinSession:
		status = c.joinSession(cmd)
	case ActionLeaveSession:
		status = c.leaveSession()
	case ActionSubscribeEnable:
		c.mu.Lock()
		c.subOn = true
		c.subTarget = cmd.TargetIdentity
		c.mu.Unlock()
		c.log.Info("subscribe enabled", "target", cmd.TargetIdentity)
	case ActionSubscribeDisable:
		c.mu.Lock()
		c.subOn = false
		c.subTarget = ""
		c.mu.Unlock()
		c.log.Info("subscribe disabled")
	case ActionPlayURL:
		status = c.playURL(cmd)
	case ActionPublishTone:
		status = c.publishTone(cmd)
	default:
		c.sendEvent(errorEvent(fmt.Sprintf("unknown action: %s", cmd.Action)))
		status = "error"
	}
	c.metrics.RecordCommand(c.ctx, cmd.Action, status)
}

func (c *Connection) joinSession(cmd Command) string {
	c.mu.Lock()
	inSession := c.session != nil
	c.mu.Unlock()
	if inSession {
		c.sendEvent(errorEvent("already in a session"))
		return "error"
	}

	url := cmd.URL
	if url == "" {
		url = c.cfg.LiveKit.URL
	}
	if url == "" || cmd.Token == "" {
		c.sendEvent(errorEvent("join_session requires a token and a url"))
		return "error"
	}

	c.log.Info("joining room", "room", cmd.RoomName)
	joinCtx, cancel := context.WithTimeout(c.ctx,
		time.Duration(c.cfg.LiveKit.JoinTimeoutMs)*time.Millisecond)
	defer cancel()

	sess, err := c.dial(joinCtx, JoinParams{
		URL:           url,
		RoomName:      cmd.RoomName,
		Token:         cmd.Token,
		OnRemoteAudio: c.onRemoteAudio,
		OnDisconnected: func() {
			c.sendEvent(Event{Type: EventDisconnected, State: "disconnected"})
		},
	})
	if err != nil {
		c.log.Warn("room join failed", "room", cmd.RoomName, "err", err)
		c.sendEvent(errorEvent(fmt.Sprintf("failed to connect: %v", err)))
		return "error"
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sess.Disconnect()
		return "error"
	}
	c.session = sess
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(c.ctx, 1)
	c.sendEvent(Event{
		Type:             EventRoomJoined,
		RoomName:         cmd.RoomName,
		ParticipantID:    sess.LocalIdentity(),
		ParticipantCount: sess.RemoteParticipantCount(),
	})
	return "ok"
}

func (c *Connection) leaveSession() string {
	c.mu.Lock()
	sess := c.session
	track := c.track
	c.session = nil
	c.track = nil
	c.mu.Unlock()

	if sess == nil {
		c.sendEvent(errorEvent("not in a session"))
		return "error"
	}

	// Kill any playback still writing into the track being closed.
	c.player.Cancel()
	if track != nil {
		track.Close()
	}
	sess.Disconnect()
	c.metrics.ActiveSessions.Add(c.ctx, -1)
	c.sendEvent(Event{Type: EventRoomLeft})
	c.log.Info("left room")
	return "ok"
}

func (c *Connection) playURL(cmd Command) string {
	track, err := c.ensureTrack()
	if err != nil {
		success := false
		c.sendEvent(Event{
			Type:      EventPlayComplete,
			RequestID: cmd.RequestID,
			Success:   &success,
			Reason:    reasonNoSession,
		})
		return "error"
	}

	c.player.Play(c.ctx, player.Request{
		ID:         cmd.RequestID,
		URL:        cmd.URL,
		Volume:     cmd.Volume,
		SampleRate: cmd.SampleRate,
	}, track, c)
	return "ok"
}

func (c *Connection) publishTone(cmd Command) string {
	track, err := c.ensureTrack()
	if err != nil {
		c.sendEvent(errorEvent("cannot publish tone: no media session"))
		return "error"
	}

	freq := cmd.FreqHz
	if freq == 0 {
		freq = 440
	}
	durationMs := cmd.DurationMs
	if durationMs == 0 {
		durationMs = 3000
	}
	go c.writeTone(track, freq, durationMs)
	return "ok"
}

// writeTone streams a sine wave to the track at 10ms cadence. Diagnostic
// path; stops early on teardown or write failure.
func (c *Connection) writeTone(track PublishTrack, freqHz, durationMs int) {
	c.log.Info("publishing tone", "freq_hz", freqHz, "duration_ms", durationMs)
	gain := c.cfg.Audio.PublishGain

	timeIndex := 0
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for frame := 0; frame < durationMs/10; frame++ {
		samples := make([]int16, frameSamples)
		for i := range samples {
			angle := 2 * math.Pi * float64(freqHz) * float64(timeIndex) / float64(linkSampleRate)
			samples[i] = int16(math.Sin(angle) * 0.5 * 32767)
			timeIndex++
		}
		audio.ApplyGain(samples, gain)
		if err := track.WriteSample(samples); err != nil {
			c.log.Warn("tone write failed", "err", err)
			return
		}
		select {
		case <-ticker.C:
		case <-c.ctx.Done():
			return
		}
	}
}

// handleAudio forwards one binary ingress frame to the publish track. Audio
// arriving outside a session is dropped without an error event; it is
// expected around join/leave transitions.
func (c *Connection) handleAudio(data []byte) {
	track, err := c.ensureTrack()
	if err != nil {
		return
	}

	samples := audio.BytesToInt16(data)
	if len(samples) == 0 {
		return
	}
	audio.ApplyGain(samples, c.cfg.Audio.PublishGain)

	for offset := 0; offset < len(samples); offset += frameSamples {
		end := offset + frameSamples
		if end > len(samples) {
			end = len(samples)
		}
		if err := track.WriteSample(samples[offset:end]); err != nil {
			c.log.Warn("publish write failed", "err", err)
			break
		}
	}
	c.metrics.IngressFrames.Add(c.ctx, 1)
}

// ensureTrack lazily creates and publishes the outbound track. Fails when
// the connection is not in a session.
func (c *Connection) ensureTrack() (PublishTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, fmt.Errorf("bridge: not in a session")
	}
	if c.track != nil {
		return c.track, nil
	}
	track, err := c.session.PublishAudioTrack(publishTrackName)
	if err != nil {
		return nil, err
	}
	c.track = track
	c.log.Info("publish track created", "name", publishTrackName)
	return track, nil
}

// onRemoteAudio receives 16kHz mono PCM from the media session. The
// subscribe filter is evaluated per write so a target identity set after
// tracks exist still applies.
func (c *Connection) onRemoteAudio(identity string, samples []int16) {
	c.mu.Lock()
	forward := c.subOn && (c.subTarget == "" || c.subTarget == identity)
	c.mu.Unlock()
	if !forward {
		return
	}
	c.pacing.Add(audio.Int16ToBytes(samples))
}

// writeBinary is the pacing buffer's emit callback: one paced payload per
// flush, written as a binary frame. A write failure tears the connection
// down.
func (c *Connection) writeBinary(data []byte) {
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	err := c.sock.Write(ctx, websocket.MessageBinary, data)
	c.writeMu.Unlock()
	if err != nil {
		if c.ctx.Err() == nil {
			c.log.Warn("binary write failed", "err", err)
		}
		go c.Close()
		return
	}
	c.metrics.EgressBytes.Add(c.ctx, int64(len(data)))
}

func (c *Connection) sendEvent(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bridge: marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.sock.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("bridge: send event: %w", err)
	}
	return nil
}

// PlaybackStarted implements [player.Notifier]. A failed send means the
// caller is gone and playback should stop.
func (c *Connection) PlaybackStarted(requestID string) error {
	return c.sendEvent(Event{Type: EventPlayStarted, RequestID: requestID})
}

// PlaybackFinished implements [player.Notifier].
func (c *Connection) PlaybackFinished(res player.Result) {
	status := "ok"
	if !res.Success {
		status = res.Reason
	}
	c.metrics.RecordPlayback(c.ctx, status, res.Duration.Seconds())
	c.sendEvent(playCompleteEvent(res))
}

// pingLoop keeps the socket alive; a failed ping tears the connection down.
func (c *Connection) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, pingTimeout)
			err := c.sock.Ping(pingCtx)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					c.log.Info("ping failed, closing", "err", err)
					c.Close()
				}
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Close tears the connection down: pacing buffer, playback, publish track,
// media session, socket, then the done signal. Idempotent and safe to call
// from any goroutine.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.pacing.Stop()
		c.player.Cancel()

		c.mu.Lock()
		c.closed = true
		track := c.track
		sess := c.session
		c.track = nil
		c.session = nil
		c.mu.Unlock()

		if track != nil {
			track.Close()
		}
		if sess != nil {
			sess.Disconnect()
			c.metrics.ActiveSessions.Add(context.Background(), -1)
		}

		c.cancel()
		c.sock.Close(websocket.StatusNormalClosure, "connection closed")
		close(c.done)
		c.log.Info("connection closed")
	})
}
