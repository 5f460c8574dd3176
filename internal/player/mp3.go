package player

import (
	"context"
	"errors"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/rajeevrajeshuni/audiobridge/pkg/audio"
)

// streamMP3 decodes an MP3 stream into the sink. go-mp3 always emits 16-bit
// stereo at the stream's native rate, so the path is fixed: downmix pairs,
// resample, push. Returns a failure reason, or "" on clean end of stream.
func (p *Player) streamMP3(ctx context.Context, r io.Reader, sink *frameSink) string {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		p.log.Warn("mp3 decoder init failed", "err", err)
		return ReasonDecodeFailed
	}

	srcRate := dec.SampleRate()
	if srcRate <= 0 {
		return ReasonDecodeFailed
	}
	res := newLinearResampler(srcRate, sink.rate)

	buf := make([]byte, 4096)
	for {
		// Cancellation is checked once per decode iteration so a
		// superseding request stops this one within a chunk.
		if cancelled(ctx) {
			return ReasonCancelled
		}

		n, err := dec.Read(buf)
		if n > 0 {
			mono := downmixToMono(audio.BytesToInt16(buf[:n]), 2)
			out := res.push(mono)
			if len(out) > 0 {
				if err := sink.push(out); err != nil {
					p.log.Warn("mp3 playback write failed", "err", err)
					return ReasonTrackWrite
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ""
			}
			if ctx.Err() != nil {
				return ReasonCancelled
			}
			p.log.Warn("mp3 read failed", "err", err)
			return ReasonDecodeFailed
		}
	}
}
