package audio

import (
	"strconv"
	"strings"
)

// ParseRate extracts the sample rate from a PCM MIME type such as
// "audio/pcm;rate=24000". It returns 0 when no valid rate is present.
func ParseRate(mime string) int {
	_, params, ok := strings.Cut(mime, ";")
	if !ok {
		return 0
	}
	for p := range strings.SplitSeq(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		rate, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || rate <= 0 {
			return 0
		}
		return rate
	}
	return 0
}
