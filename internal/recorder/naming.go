package recorder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// nameLayout formats the canonical recording name, yyyyMMdd_HH_mm_ss.
const nameLayout = "20060102_15_04_05"

// provisionalPrefix starts the name a recording carries while being written.
const provisionalPrefix = "Recording"

// RecordingName returns the canonical file name for a recording stopped at
// t, in t's location. ext is given without the dot.
func RecordingName(t time.Time, ext string) string {
	return t.Format(nameLayout) + "." + ext
}

// ParseRecordingName is the inverse of [RecordingName]. The timestamp is
// interpreted in the local time zone. Any extension is accepted.
func ParseRecordingName(name string) (time.Time, error) {
	base, _, _ := strings.Cut(name, ".")
	t, err := time.ParseInLocation(nameLayout, base, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("recorder: %q is not a recording name: %w", name, err)
	}
	return t, nil
}

func provisionalName(seq uint64, ext string) string {
	return provisionalPrefix + strconv.FormatUint(seq, 10) + "." + ext
}

// isProvisional reports whether name looks like Recording<N>.<ext>.
func isProvisional(name, ext string) bool {
	base, ok := strings.CutSuffix(name, "."+ext)
	if !ok {
		return false
	}
	digits, ok := strings.CutPrefix(base, provisionalPrefix)
	if !ok || digits == "" {
		return false
	}
	_, err := strconv.ParseUint(digits, 10, 64)
	return err == nil
}
