package videos

import "strings"

// FallbackURLs are public sample tracks served when resolution is exhausted,
// so playback always receives something.
var FallbackURLs = []string{
	"https://www.soundhelix.com/examples/mp3/SoundHelix-Song-1.mp3",
	"https://www.soundhelix.com/examples/mp3/SoundHelix-Song-2.mp3",
	"https://www.soundhelix.com/examples/mp3/SoundHelix-Song-3.mp3",
}

// TestAudioURL is the fixed track used for client diagnostics.
const TestAudioURL = "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-1.mp3"

// IsBotCheck reports whether err carries the platform's automation challenge.
// It changes logging only; callers retry it like any other failure.
func IsBotCheck(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Sign in to confirm") || strings.Contains(msg, "Bot check")
}
