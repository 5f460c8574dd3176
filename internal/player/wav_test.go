package player

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"
)

func chunk(id string, payload []byte) []byte {
	b := []byte(id)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(payload)))
	b = append(b, payload...)
	if len(payload)%2 == 1 {
		b = append(b, 0)
	}
	return b
}

func fmtChunk(audioFormat, channels uint16, rate uint32, bits uint16) []byte {
	var p []byte
	p = binary.LittleEndian.AppendUint16(p, audioFormat)
	p = binary.LittleEndian.AppendUint16(p, channels)
	p = binary.LittleEndian.AppendUint32(p, rate)
	p = binary.LittleEndian.AppendUint32(p, rate*uint32(channels)*2)
	p = binary.LittleEndian.AppendUint16(p, channels*2)
	p = binary.LittleEndian.AppendUint16(p, bits)
	return chunk("fmt ", p)
}

func riff(chunks ...[]byte) *bufio.Reader {
	body := []byte{}
	for _, c := range chunks {
		body = append(body, c...)
	}
	b := []byte("RIFF")
	b = binary.LittleEndian.AppendUint32(b, uint32(4+len(body)))
	b = append(b, "WAVE"...)
	b = append(b, body...)
	return bufio.NewReader(bytes.NewReader(b))
}

func TestParseWAVHeader_SkipsUnknownChunks(t *testing.T) {
	// An odd-sized chunk before fmt and another between fmt and data; both
	// must be skipped with their padding byte.
	br := riff(
		chunk("LIST", []byte{1, 2, 3}),
		fmtChunk(1, 1, 16000, 16),
		chunk("cue ", []byte{9}),
		chunk("data", []byte{0x10, 0x20, 0x30, 0x40}),
	)

	format, dataBytes, reason := parseWAVHeader(br)
	if reason != "" {
		t.Fatalf("unexpected reason %q", reason)
	}
	if format.channels != 1 || format.rate != 16000 {
		t.Errorf("format: got %+v", format)
	}
	if dataBytes != 4 {
		t.Errorf("dataBytes: got %d, want 4", dataBytes)
	}
	first, err := br.ReadByte()
	if err != nil || first != 0x10 {
		t.Errorf("reader not positioned at data: byte=%#x err=%v", first, err)
	}
}

func TestParseWAVHeader_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		br     *bufio.Reader
		reason string
	}{
		{"not riff", bufio.NewReader(bytes.NewReader([]byte("ID3\x04not a wav file"))), ReasonWAVHeader},
		{"float format", riff(fmtChunk(3, 1, 16000, 16), chunk("data", nil)), ReasonWAVNotPCM},
		{"8 bit", riff(fmtChunk(1, 1, 16000, 8), chunk("data", nil)), ReasonWAVNot16Bit},
		{"5 channels", riff(fmtChunk(1, 5, 16000, 16), chunk("data", nil)), ReasonWAVChannels},
		{"zero rate", riff(fmtChunk(1, 1, 0, 16), chunk("data", nil)), ReasonWAVHeader},
		{"data before fmt", riff(chunk("data", []byte{1, 2})), ReasonWAVHeader},
		{"no data chunk", riff(fmtChunk(1, 1, 16000, 16)), ReasonWAVMissingData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, reason := parseWAVHeader(tc.br)
			if reason != tc.reason {
				t.Errorf("reason: got %q, want %q", reason, tc.reason)
			}
		})
	}
}

func TestDownmixToMono(t *testing.T) {
	mono := []int16{1, 2, 3}
	if got := downmixToMono(mono, 1); len(got) != 3 || got[0] != 1 {
		t.Errorf("mono passthrough: got %v", got)
	}

	stereo := []int16{100, 300, -200, -400, 7, 8}
	got := downmixToMono(stereo, 2)
	want := []int16{200, -300, 7}
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

// collectTrack is the minimal TrackWriter for sink tests.
type collectTrack struct {
	frames [][]int16
}

func (c *collectTrack) WriteSample(samples []int16) error {
	cp := make([]int16, len(samples))
	copy(cp, samples)
	c.frames = append(c.frames, cp)
	return nil
}

func TestFrameSink_ChunksAndFlush(t *testing.T) {
	track := &collectTrack{}
	sink := newFrameSink(track, 16000, 1.0)

	// 250 samples: one full 160-sample frame, 90 pending.
	if err := sink.push(make([]int16, 250)); err != nil {
		t.Fatal(err)
	}
	if len(track.frames) != 1 || len(track.frames[0]) != 160 {
		t.Fatalf("after push: %d frames", len(track.frames))
	}

	// 70 more completes the second frame exactly.
	if err := sink.push(make([]int16, 70)); err != nil {
		t.Fatal(err)
	}
	if len(track.frames) != 2 {
		t.Fatalf("after second push: %d frames", len(track.frames))
	}

	// A trailing partial frame only leaves on flush.
	if err := sink.push(make([]int16, 25)); err != nil {
		t.Fatal(err)
	}
	if len(track.frames) != 2 {
		t.Fatalf("partial frame written early: %d frames", len(track.frames))
	}
	if err := sink.flush(); err != nil {
		t.Fatal(err)
	}
	if len(track.frames) != 3 || len(track.frames[2]) != 25 {
		t.Fatalf("after flush: %d frames, last %d samples", len(track.frames), len(track.frames[len(track.frames)-1]))
	}
	if sink.written != 345 {
		t.Errorf("written: got %d, want 345", sink.written)
	}
}

func TestLinearResampler_ChunkBoundaryContinuity(t *testing.T) {
	src := make([]int16, 441)
	for i := range src {
		src[i] = int16(i * 3)
	}

	whole := newLinearResampler(44100, 16000)
	want := whole.push(src)

	split := newLinearResampler(44100, 16000)
	var got []int16
	for _, cut := range [][]int16{src[:100], src[100:101], src[101:250], src[250:]} {
		got = append(got, split.push(cut)...)
	}

	if len(got) != len(want) {
		t.Fatalf("length: split %d, whole %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: split %d, whole %d", i, got[i], want[i])
		}
	}
}

// When a chunk is consumed entirely, the read position overruns the buffer
// and its fractional offset must carry into the next chunk.
func TestLinearResampler_CarriesOffsetPastConsumedChunk(t *testing.T) {
	r := newLinearResampler(44100, 16000) // step 2.75625

	out := r.push([]int16{0, 100})
	if len(out) != 1 || out[0] != 0 {
		t.Fatalf("first chunk: got %v, want [0]", out)
	}

	// Read position is now 2.75625, past both buffered samples; relative to
	// the next chunk it must resume at 0.75625, not at zero.
	out = r.push([]int16{200, 300, 400})
	if len(out) != 1 {
		t.Fatalf("second chunk: got %d samples, want 1", len(out))
	}
	if out[0] != 275 { // 200 + 100*0.75625
		t.Errorf("second chunk sample: got %d, want 275", out[0])
	}
}

func TestLinearResampler_Upsamples(t *testing.T) {
	r := newLinearResampler(8000, 16000)
	out := r.push([]int16{0, 100, 200})
	want := []int16{0, 50, 100, 150}
	if len(out) != len(want) {
		t.Fatalf("length: got %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], want[i])
		}
	}
}
