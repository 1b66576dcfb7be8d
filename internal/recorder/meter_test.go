package recorder

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/racecomm/pkg/audio"
)

// samples encodes vs as little-endian float32.
func samples(vs ...float32) []byte {
	buf := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// constantBlock returns a 10ms block at 44.1 kHz whose samples alternate
// between +level and -level.
func constantBlock(level float32) audio.Block {
	vs := make([]float32, 441)
	for i := range vs {
		vs[i] = level
		if i%2 == 1 {
			vs[i] = -level
		}
	}
	return audio.Block{Data: samples(vs...), Duration: 10 * time.Millisecond}
}

func TestMeanAbs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want float64
	}{
		{"empty", nil, 0},
		{"silence", samples(0, 0, 0), 0},
		{"signed", samples(0.5, -0.5, 0.25, -0.25), 0.375},
		{"trailing bytes ignored", append(samples(0.5), 0xff, 0xff), 0.5},
		{"shorter than a sample", []byte{1, 2, 3}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := MeanAbs(tc.data); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("MeanAbs = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMeter_ZeroCapacityBlock(t *testing.T) {
	t.Parallel()
	var m Meter
	m.Observe(constantBlock(0.3))

	level, ok := m.Observe(audio.Block{Duration: 10 * time.Millisecond})
	if !ok {
		t.Fatal("zero-capacity block of normal length was discarded")
	}
	if level != 0 || m.Loudness() != 0 {
		t.Errorf("level = %v, loudness = %v, want 0", level, m.Loudness())
	}
}

func TestMeter_DiscardsShortBlocks(t *testing.T) {
	t.Parallel()
	var m Meter
	m.Observe(constantBlock(0.3))

	short := audio.Block{Data: samples(1, 1), Duration: 4 * time.Millisecond}
	if _, ok := m.Observe(short); ok {
		t.Fatal("4ms block was accepted")
	}
	if got := m.Loudness(); math.Abs(got-0.3) > 1e-6 {
		t.Errorf("loudness changed to %v by a discarded block", got)
	}

	edge := audio.Block{Data: samples(0.1), Duration: MinBlockDuration}
	if _, ok := m.Observe(edge); !ok {
		t.Error("block of exactly the minimum duration was discarded")
	}
}

func TestMeter_Reset(t *testing.T) {
	t.Parallel()
	var m Meter
	m.Observe(constantBlock(0.7))
	m.Reset()
	if m.Loudness() != 0 {
		t.Errorf("loudness after reset = %v", m.Loudness())
	}
}
