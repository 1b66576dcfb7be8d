package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"
)

// AppendFloat32 appends pcm to dst as little-endian float32 samples
// normalised to [-1, 1).
func AppendFloat32(dst []byte, pcm []int16) []byte {
	dst = slices.Grow(dst, len(pcm)*4)
	for _, s := range pcm {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(s)/32768))
	}
	return dst
}

// BytesToInt16 decodes little-endian signed 16-bit samples from src,
// appending them to dst. An odd trailing byte is ignored.
func BytesToInt16(src []byte, dst []int16) []int16 {
	n := len(src) / 2
	dst = slices.Grow(dst, n)
	for i := range n {
		dst = append(dst, int16(binary.LittleEndian.Uint16(src[i*2:])))
	}
	return dst
}

// Int16ToBytes encodes pcm as little-endian signed 16-bit samples, appending
// them to dst.
func Int16ToBytes(pcm []int16, dst []byte) []byte {
	dst = slices.Grow(dst, len(pcm)*2)
	for _, s := range pcm {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// FrameDuration returns the playback length of n sample frames in format f.
func FrameDuration(n int, f Format) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// Converter converts interleaved 16-bit PCM to a target format. It logs a
// warning the first time the source format differs from the target.
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	Target Format

	warned sync.Once
}

// Convert converts pcm from src to c.Target. Channels are reduced to mono (or
// duplicated to stereo) before resampling so that the resampler works on the
// smaller stream. If src matches the target, pcm is returned unchanged.
func (c *Converter) Convert(pcm []int16, src Format) []int16 {
	if src.SampleRate == c.Target.SampleRate && src.Channels == c.Target.Channels {
		return pcm
	}
	c.warned.Do(func() {
		slog.Warn("audio format mismatch: converting", "from", src, "to", c.Target)
	})

	mono := pcm
	if src.Channels > 1 {
		mono = Downmix(pcm, src.Channels)
	}
	mono = ResampleMono(mono, src.SampleRate, c.Target.SampleRate)
	if c.Target.Channels <= 1 {
		return mono
	}
	out := make([]int16, 0, len(mono)*c.Target.Channels)
	for _, s := range mono {
		for range c.Target.Channels {
			out = append(out, s)
		}
	}
	return out
}

// Downmix averages every group of channels interleaved samples into one mono
// sample. Incomplete trailing frames are dropped.
func Downmix(pcm []int16, channels int) []int16 {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(pcm[i*channels+ch])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// ResampleMono resamples mono PCM from srcRate to dstRate with linear
// interpolation. Invalid rates or equal rates return pcm unchanged.
func ResampleMono(pcm []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) == 0 {
		return pcm
	}
	n := int(int64(len(pcm)) * int64(dstRate) / int64(srcRate))
	out := make([]int16, n)
	step := float64(srcRate) / float64(dstRate)
	for i := range n {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := float64(pcm[idx])
		s1 := s0
		if idx+1 < len(pcm) {
			s1 = float64(pcm[idx+1])
		}
		out[i] = int16(s0*(1-frac) + s1*frac)
	}
	return out
}
