package player

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"

	"github.com/rajeevrajeshuni/audiobridge/pkg/audio"
)

// wavFormat is the subset of the fmt chunk the bridge accepts.
type wavFormat struct {
	channels int
	rate     int
}

// streamWAV parses a RIFF/WAVE stream chunk-by-chunk and feeds the data
// chunk into the sink without buffering the whole file. Only 16-bit PCM with
// one or two channels is accepted; unknown chunks are skipped, honouring the
// RIFF rule that odd-sized chunks are padded to even length. Returns a
// failure reason, or "" on clean end of stream.
func (p *Player) streamWAV(ctx context.Context, r io.Reader, sink *frameSink) string {
	br := bufio.NewReader(r)

	format, dataBytes, reason := parseWAVHeader(br)
	if reason != "" {
		return reason
	}

	var res *linearResampler
	if format.rate != sink.rate {
		res = newLinearResampler(format.rate, sink.rate)
	}

	bytesPerFrame := 2 * format.channels
	buf := make([]byte, 4096-(4096%bytesPerFrame))

	readLeft := int64(dataBytes)
	for readLeft > 0 {
		if cancelled(ctx) {
			return ReasonCancelled
		}

		toRead := int64(len(buf))
		if toRead > readLeft {
			toRead = readLeft
		}
		n, err := io.ReadFull(br, buf[:toRead])
		if n > 0 {
			readLeft -= int64(n)
			mono := downmixToMono(audio.BytesToInt16(buf[:n]), format.channels)
			out := mono
			if res != nil {
				out = res.push(mono)
			}
			if len(out) > 0 {
				if err := sink.push(out); err != nil {
					p.log.Warn("wav playback write failed", "err", err)
					return ReasonTrackWrite
				}
			}
		}
		if err != nil {
			// A short data chunk is treated as end of stream: some
			// encoders write a size they never fill.
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return ""
			}
			if ctx.Err() != nil {
				return ReasonCancelled
			}
			p.log.Warn("wav read failed", "err", err)
			return ReasonDecodeFailed
		}
	}
	return ""
}

// parseWAVHeader reads the RIFF header and chunk list up to and including
// the data chunk header, validating the fmt chunk on the way. On success it
// leaves the reader positioned at the first data byte.
func parseWAVHeader(br *bufio.Reader) (wavFormat, uint32, string) {
	var format wavFormat

	header := make([]byte, 12)
	if _, err := io.ReadFull(br, header); err != nil {
		return format, 0, ReasonWAVHeader
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return format, 0, ReasonWAVHeader
	}

	haveFmt := false
	for {
		hdr := make([]byte, 8)
		if _, err := io.ReadFull(br, hdr); err != nil {
			// Ran out of chunks without finding data.
			return format, 0, ReasonWAVMissingData
		}
		chunkID := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch chunkID {
		case "fmt ":
			if size < 16 {
				return format, 0, ReasonWAVHeader
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(br, buf); err != nil {
				return format, 0, ReasonWAVHeader
			}
			if size%2 == 1 {
				br.ReadByte()
			}

			audioFormat := binary.LittleEndian.Uint16(buf[0:2])
			channels := binary.LittleEndian.Uint16(buf[2:4])
			rate := binary.LittleEndian.Uint32(buf[4:8])
			bits := binary.LittleEndian.Uint16(buf[14:16])

			if audioFormat != 1 {
				return format, 0, ReasonWAVNotPCM
			}
			if bits != 16 {
				return format, 0, ReasonWAVNot16Bit
			}
			if channels != 1 && channels != 2 {
				return format, 0, ReasonWAVChannels
			}
			if rate == 0 {
				return format, 0, ReasonWAVHeader
			}

			format.channels = int(channels)
			format.rate = int(rate)
			haveFmt = true

		case "data":
			if !haveFmt {
				return format, 0, ReasonWAVHeader
			}
			return format, size, ""

		default:
			if _, err := io.CopyN(io.Discard, br, int64(size)); err != nil {
				return format, 0, ReasonWAVMissingData
			}
			if size%2 == 1 {
				br.ReadByte()
			}
		}
	}
}
