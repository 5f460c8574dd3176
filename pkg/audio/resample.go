// Package audio provides pure PCM16 transforms used by the bridge: sample
// rate conversion between the 16kHz mobile link and the 48kHz media session,
// peak normalization, gain, and a pacing buffer that smooths bursty delivery.
//
// All byte-level functions operate on 16-bit signed little-endian PCM. They
// tolerate empty input (returning empty output) and odd-length input (a
// single trailing unpaired byte is ignored). None of them retain references
// to their input.
package audio

import "encoding/binary"

const (
	// noiseFloor is the peak amplitude below which Normalize leaves the
	// signal untouched. Scaling up near-silence only amplifies hiss.
	noiseFloor = 1000

	// targetPeak is the post-normalization peak: ~90% of full scale,
	// leaving headroom for downstream gain stages.
	targetPeak = 29490
)

// BytesToInt16 converts little-endian PCM16 bytes to samples. A trailing
// unpaired byte is ignored.
func BytesToInt16(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

// Int16ToBytes converts samples to little-endian PCM16 bytes.
func Int16ToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// Upsample16to48 converts 16kHz PCM16 to 48kHz by inserting two linearly
// interpolated samples between each pair of source samples. The output is
// exactly 3x the input length in samples. The final sample has no successor
// and is extended with zero slope.
func Upsample16to48(pcm []byte) []byte {
	in := len(pcm) / 2
	out := make([]byte, in*3*2)
	for i := 0; i < in; i++ {
		s := int32(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		next := s
		if i < in-1 {
			next = int32(int16(binary.LittleEndian.Uint16(pcm[i*2+2:])))
		}
		binary.LittleEndian.PutUint16(out[i*6:], uint16(int16(s)))
		binary.LittleEndian.PutUint16(out[i*6+2:], uint16(int16(s+(next-s)/3)))
		binary.LittleEndian.PutUint16(out[i*6+4:], uint16(int16(s+(next-s)*2/3)))
	}
	return out
}

// Downsample48to16 converts 48kHz PCM16 to 16kHz by 3x decimation. Each kept
// sample is first smoothed with a 3-tap kernel (x[n-1] + 2*x[n] + x[n+1])/4
// to reduce aliasing; at the buffer edges the edge sample stands in for the
// missing neighbour. The output length is floor(inputSamples/3).
func Downsample48to16(pcm []byte) []byte {
	in := len(pcm) / 2
	outSamples := in / 3
	out := make([]byte, outSamples*2)
	for k := 0; k < outSamples; k++ {
		i := k * 3
		im1, ip1 := i-1, i+1
		if im1 < 0 {
			im1 = 0
		}
		if ip1 >= in {
			ip1 = in - 1
		}
		acc := int32(int16(binary.LittleEndian.Uint16(pcm[im1*2:]))) +
			2*int32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) +
			int32(int16(binary.LittleEndian.Uint16(pcm[ip1*2:])))
		binary.LittleEndian.PutUint16(out[k*2:], uint16(int16(acc/4)))
	}
	return out
}

// Normalize scales the signal so its peak reaches ~90% of full scale. Input
// whose peak is below the noise floor, or already at or above full scale, is
// returned as an unmodified copy.
func Normalize(pcm []byte) []byte {
	in := len(pcm) / 2
	out := make([]byte, in*2)

	var peak int32
	for i := 0; i < in; i++ {
		v := int32(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}

	if peak < noiseFloor || peak >= 32767 {
		copy(out, pcm[:in*2])
		return out
	}

	scale := float64(targetPeak) / float64(peak)
	for i := 0; i < in; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) * scale
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clampInt16(v)))
	}
	return out
}

// ApplyGain scales samples in place by a linear gain factor, clamping to the
// int16 range. A gain of 1.0 is a no-op.
func ApplyGain(samples []int16, gain float64) {
	if gain == 1.0 {
		return
	}
	for i := range samples {
		samples[i] = clampInt16(float64(samples[i]) * gain)
	}
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
