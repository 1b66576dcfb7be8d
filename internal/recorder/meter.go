package recorder

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"

	"github.com/MrWong99/racecomm/pkg/audio"
)

// MinBlockDuration is the shortest block the meter accepts. Shorter blocks
// are discarded without touching the loudness or the detector.
const MinBlockDuration = 5 * time.Millisecond

// MeanAbs returns the mean absolute value of the little-endian float32
// samples in data. Trailing bytes that do not form a whole sample are
// ignored; an empty buffer yields 0.
func MeanAbs(data []byte) float64 {
	n := len(data) / 4
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n*4; i += 4 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[i : i+4]))
		sum += math.Abs(float64(v))
	}
	return sum / float64(n)
}

// Meter tracks the loudness of the most recent accepted block. Loudness may
// be read from any goroutine.
type Meter struct {
	bits atomic.Uint64
}

// Observe measures b. It reports false, leaving the stored loudness
// unchanged, when b is shorter than [MinBlockDuration].
func (m *Meter) Observe(b audio.Block) (level float64, ok bool) {
	if b.Duration < MinBlockDuration {
		return 0, false
	}
	level = MeanAbs(b.Data)
	m.bits.Store(math.Float64bits(level))
	return level, true
}

// Loudness returns the last observed loudness.
func (m *Meter) Loudness() float64 {
	return math.Float64frombits(m.bits.Load())
}

// Reset sets the loudness back to 0.
func (m *Meter) Reset() {
	m.bits.Store(0)
}
