package audio_test

import (
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
)

func TestParseRate(t *testing.T) {
	t.Parallel()
	tests := map[string]int{
		"audio/pcm;rate=24000":           24000,
		"audio/pcm; rate=16000":          16000,
		"audio/pcm;channels=1;RATE=8000": 8000,
		"audio/pcm":                      0,
		"audio/pcm;rate=fast":            0,
		"audio/pcm;rate=-1":              0,
		"":                               0,
	}
	for in, want := range tests {
		if got := audio.ParseRate(in); got != want {
			t.Errorf("ParseRate(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestCaptureFormatMIME_RoundTrips(t *testing.T) {
	t.Parallel()
	for _, f := range []audio.Format{audio.CaptureFormat, audio.PlaybackFormat} {
		if got := audio.ParseRate(f.MIMEType()); got != f.SampleRate {
			t.Errorf("ParseRate(%q) = %d, want %d", f.MIMEType(), got, f.SampleRate)
		}
	}
}
