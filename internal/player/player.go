// Package player implements ad-hoc media playback for the bridge: it fetches
// a remote MP3 or WAV resource over HTTP, decodes it incrementally, downmixes
// and resamples to the publish track's rate, applies gain, and streams fixed
// 10ms frames into the track.
//
// A [Player] runs at most one playback at a time. Starting a new request
// cancels the in-flight one; every started request produces exactly one
// terminal [Result].
package player

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rajeevrajeshuni/audiobridge/pkg/audio"
)

// Terminal failure reasons reported in [Result.Reason]. Stable strings: the
// orchestration layer matches on them.
const (
	ReasonCancelled      = "cancelled"
	ReasonInvalidURL     = "invalid_url"
	ReasonFetchFailed    = "fetch_failed"
	ReasonBadStatus      = "bad_status"
	ReasonUnsupported    = "unsupported_format"
	ReasonDecodeFailed   = "decode_failed"
	ReasonTrackWrite     = "track_write_failed"
	ReasonWAVHeader      = "wav_header_invalid"
	ReasonWAVNotPCM      = "wav_fmt_not_pcm"
	ReasonWAVNot16Bit    = "wav_fmt_not_16bit"
	ReasonWAVChannels    = "wav_channels_unsupported"
	ReasonWAVMissingData = "wav_missing_data"
)

// supersedeWait bounds how long a new request waits for the previous
// playback to acknowledge cancellation before proceeding anyway.
const supersedeWait = 2 * time.Second

// Request describes one playback operation.
type Request struct {
	// ID correlates start and completion events back to the caller.
	ID string

	// URL of the MP3 or WAV resource to fetch.
	URL string

	// Volume is a linear gain; zero means unity.
	Volume float64

	// SampleRate is the output rate in Hz; zero means 16000.
	SampleRate int
}

// Result is the single terminal event of a playback operation.
type Result struct {
	RequestID string
	Success   bool
	Duration  time.Duration
	Reason    string // empty on success
}

// TrackWriter is the outbound audio sink: typically the connection's
// published media track.
type TrackWriter interface {
	// WriteSample writes one frame of mono PCM16 samples. The track owns
	// pacing; callers just keep frames in order.
	WriteSample(samples []int16) error
}

// Notifier receives playback lifecycle notifications.
type Notifier interface {
	// PlaybackStarted reports that decoding is about to begin. A non-nil
	// error means the caller is gone and playback should be abandoned.
	PlaybackStarted(requestID string) error

	// PlaybackFinished delivers the terminal result. Called exactly once
	// per started request.
	PlaybackFinished(res Result)
}

// Player runs playback operations serially: at most one is active, and a new
// Play supersedes the previous one.
type Player struct {
	httpClient *http.Client
	log        *slog.Logger

	// mu guards the cancel/done pair: Play swaps it from the command loop
	// while Cancel may run from the connection's teardown path.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a [Player].
type Option func(*Player)

// WithHTTPClient overrides the HTTP client used for fetches. Tests use this
// to point at local servers with short timeouts.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Player) {
		p.httpClient = c
	}
}

// New creates a Player. The logger is used for per-playback diagnostics;
// pass a logger already scoped to the owning connection.
func New(log *slog.Logger, opts ...Option) *Player {
	p := &Player{
		httpClient: http.DefaultClient,
		log:        log,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play starts an asynchronous playback of req into track. Any in-flight
// playback is cancelled first and emits its own "cancelled" terminal event.
// Play itself returns once the new playback goroutine is launched.
//
// Play must only be invoked from a single goroutine per Player (the
// connection's command loop provides that).
func (p *Player) Play(ctx context.Context, req Request, track TrackWriter, notify Notifier) {
	playCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	prevCancel, prevDone := p.cancel, p.done
	p.cancel, p.done = cancel, done
	p.mu.Unlock()

	go func() {
		defer close(done)

		if prevCancel != nil {
			prevCancel()
			select {
			case <-prevDone:
			case <-time.After(supersedeWait):
				p.log.Warn("previous playback did not stop in time, proceeding",
					"request_id", req.ID)
			}
		}

		res := p.run(playCtx, req, track, notify)
		notify.PlaybackFinished(res)
	}()
}

// Cancel stops any in-flight playback. The cancelled playback still emits
// its terminal event. Safe to call when nothing is playing.
func (p *Player) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// run executes the fetch/decode/stream body and returns the terminal result.
func (p *Player) run(ctx context.Context, req Request, track TrackWriter, notify Notifier) Result {
	start := time.Now()

	fail := func(reason string) Result {
		return Result{RequestID: req.ID, Success: false, Duration: time.Since(start), Reason: reason}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		p.log.Warn("playback rejected", "request_id", req.ID, "err", err)
		return fail(ReasonInvalidURL)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return fail(ReasonCancelled)
		}
		p.log.Warn("playback fetch failed", "request_id", req.ID, "url", req.URL, "err", err)
		return fail(ReasonFetchFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.log.Warn("playback fetch returned non-2xx",
			"request_id", req.ID, "url", req.URL, "status", resp.StatusCode)
		return fail(ReasonBadStatus)
	}

	if err := notify.PlaybackStarted(req.ID); err != nil {
		// The caller is gone; decoding for nobody is wasted work.
		return fail(ReasonCancelled)
	}

	sink := newFrameSink(track, outputRate(req), volume(req))

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	url := strings.ToLower(req.URL)

	p.log.Info("playback started",
		"request_id", req.ID, "url", req.URL, "content_type", contentType)

	var reason string
	switch {
	case strings.Contains(contentType, "audio/mpeg") || strings.HasSuffix(url, ".mp3"):
		reason = p.streamMP3(ctx, resp.Body, sink)
	case strings.Contains(contentType, "audio/wav"),
		strings.Contains(contentType, "audio/x-wav"),
		strings.Contains(contentType, "audio/wave"),
		strings.HasSuffix(url, ".wav"):
		reason = p.streamWAV(ctx, resp.Body, sink)
	default:
		return fail(ReasonUnsupported)
	}

	if reason != "" {
		return fail(reason)
	}
	if err := sink.flush(); err != nil {
		return fail(ReasonTrackWrite)
	}

	dur := time.Since(start)
	p.log.Info("playback complete",
		"request_id", req.ID, "samples", sink.written, "duration", dur)
	return Result{RequestID: req.ID, Success: true, Duration: dur}
}

func outputRate(req Request) int {
	if req.SampleRate > 0 {
		return req.SampleRate
	}
	return 16000
}

func volume(req Request) float64 {
	if req.Volume > 0 {
		return req.Volume
	}
	return 1.0
}

// frameSink accumulates mono samples at the output rate and writes them to
// the track in fixed 10ms frames, carrying any remainder across chunks.
type frameSink struct {
	track        TrackWriter
	gain         float64
	rate         int
	frameSamples int

	pending []int16
	written int64
}

func newFrameSink(track TrackWriter, rate int, gain float64) *frameSink {
	return &frameSink{
		track:        track,
		gain:         gain,
		rate:         rate,
		frameSamples: rate / 100,
	}
}

// push applies gain and writes complete 10ms frames, keeping any partial
// frame for the next chunk.
func (s *frameSink) push(samples []int16) error {
	audio.ApplyGain(samples, s.gain)
	s.pending = append(s.pending, samples...)

	for len(s.pending) >= s.frameSamples {
		frame := s.pending[:s.frameSamples]
		if err := s.track.WriteSample(frame); err != nil {
			return fmt.Errorf("player: write frame: %w", err)
		}
		s.written += int64(len(frame))
		s.pending = s.pending[s.frameSamples:]
	}
	return nil
}

// flush writes the final partial frame, if any.
func (s *frameSink) flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.track.WriteSample(s.pending); err != nil {
		return fmt.Errorf("player: write final frame: %w", err)
	}
	s.written += int64(len(s.pending))
	s.pending = nil
	return nil
}

// downmixToMono averages stereo sample pairs in place, returning the mono
// prefix. Mono input is returned unchanged.
func downmixToMono(samples []int16, channels int) []int16 {
	if channels == 1 {
		return samples
	}
	n := len(samples) / 2
	for i := 0; i < n; i++ {
		v := int32(samples[i*2]) + int32(samples[i*2+1])
		samples[i] = int16(v / 2)
	}
	return samples[:n]
}

// linearResampler converts an arbitrary source rate to the output rate by
// linear interpolation, carrying the fractional read position across chunks
// so chunk boundaries do not introduce discontinuities.
type linearResampler struct {
	buf  []int16
	pos  float64
	step float64
}

func newLinearResampler(srcRate, dstRate int) *linearResampler {
	return &linearResampler{step: float64(srcRate) / float64(dstRate)}
}

// push appends src samples and returns as many output samples as can be
// produced. The last buffered sample is retained until its successor arrives.
func (r *linearResampler) push(in []int16) []int16 {
	r.buf = append(r.buf, in...)
	if len(r.buf) < 2 {
		return nil
	}

	var out []int16
	for {
		i := int(r.pos)
		if i+1 >= len(r.buf) {
			break
		}
		frac := r.pos - float64(i)
		s0 := float64(r.buf[i])
		s1 := float64(r.buf[i+1])
		v := s0 + (s1-s0)*frac
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out = append(out, int16(v))
		r.pos += r.step
	}

	// Discard consumed input, keeping the sample the read position sits in.
	// The fractional offset is preserved in both branches: resetting it would
	// shift every sample produced after the chunk boundary.
	drop := int(r.pos)
	if drop > 0 {
		if drop >= len(r.buf) {
			r.pos -= float64(len(r.buf))
			r.buf = r.buf[:0]
		} else {
			r.buf = r.buf[drop:]
			r.pos -= float64(drop)
		}
	}
	return out
}

// cancelled reports whether ctx is done, without blocking.
func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
