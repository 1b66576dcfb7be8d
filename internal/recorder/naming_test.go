package recorder

import (
	"testing"
	"time"
)

func TestRecordingName_UsesStopTime(t *testing.T) {
	t.Parallel()
	stop := time.Date(2024, 3, 1, 10, 15, 30, 0, time.Local)
	if got := RecordingName(stop, "wav"); got != "20240301_10_15_30.wav" {
		t.Errorf("RecordingName = %q, want 20240301_10_15_30.wav", got)
	}
}

func TestParseRecordingName_RoundTrip(t *testing.T) {
	t.Parallel()
	times := []time.Time{
		time.Date(2024, 3, 1, 10, 15, 30, 0, time.Local),
		time.Date(1999, 12, 31, 23, 59, 59, 0, time.Local),
		time.Date(2030, 1, 2, 0, 0, 0, 999_000_000, time.Local),
	}
	for _, ts := range times {
		name := RecordingName(ts, "wav")
		got, err := ParseRecordingName(name)
		if err != nil {
			t.Fatalf("ParseRecordingName(%q): %v", name, err)
		}
		if want := ts.Truncate(time.Second); !got.Equal(want) {
			t.Errorf("ParseRecordingName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestParseRecordingName_Invalid(t *testing.T) {
	t.Parallel()
	for _, name := range []string{
		"",
		"Recording1.wav",
		"2024-03-01_10_15_30.wav",
		"20240301_10_15.wav",
		"20240301_10_15_30x.wav",
		"20241301_10_15_30.wav",
	} {
		if _, err := ParseRecordingName(name); err == nil {
			t.Errorf("ParseRecordingName(%q) succeeded, want error", name)
		}
	}
}

func TestProvisionalNames(t *testing.T) {
	t.Parallel()
	if got := provisionalName(3, "wav"); got != "Recording3.wav" {
		t.Errorf("provisionalName = %q", got)
	}
	for name, want := range map[string]bool{
		"Recording3.wav":        true,
		"Recording12345.wav":    true,
		"Recording.wav":         false,
		"Recording3.mp3":        false,
		"RecordingX.wav":        false,
		"20240301_10_15_30.wav": false,
	} {
		if got := isProvisional(name, "wav"); got != want {
			t.Errorf("isProvisional(%q) = %v, want %v", name, got, want)
		}
	}
}
