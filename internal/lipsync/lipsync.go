// Package lipsync estimates viseme markers from reply text when the speech
// synthesizer provides no alignment data.
//
// The estimate spreads the characters of the spoken text evenly over the
// known audio duration, weighting each word by its length. It is not
// phonetically accurate, but it keeps the avatar's mouth moving in rough
// sync with the audio, which beats a frozen face when real alignment is
// unavailable.
package lipsync

import (
	"strings"

	"github.com/voxatar/voxatar/pkg/provider/tts"
)

// minGapMs is the smallest spacing between two markers. Denser mouth-shape
// changes are not visible at typical avatar frame rates.
const minGapMs = 60

// Estimate returns viseme markers for text spread over durationMs of audio.
// Timestamps are strictly increasing and never exceed durationMs. Empty
// text or a non-positive duration yields nil.
func Estimate(text string, durationMs int) []tts.Marker {
	words := strings.Fields(text)
	if len(words) == 0 || durationMs <= 0 {
		return nil
	}

	totalChars := 0
	for _, w := range words {
		totalChars += len([]rune(w))
	}
	if totalChars == 0 {
		return nil
	}

	var markers []tts.Marker
	last := ""
	elapsed := 0.0
	msPerChar := float64(durationMs) / float64(totalChars)
	for _, w := range words {
		for _, r := range w {
			ts := int(elapsed)
			elapsed += msPerChar
			v := tts.VisemeForRune(r)
			if v == "" || v == last {
				continue
			}
			if n := len(markers); n > 0 && ts-markers[n-1].TimestampMs < minGapMs {
				continue
			}
			if ts >= durationMs {
				ts = durationMs - 1
			}
			markers = append(markers, tts.Marker{TimestampMs: ts, Viseme: v})
			last = v
		}
		// The mouth closes between words; the next word re-opens it even
		// if it starts with the same shape.
		last = ""
	}
	return markers
}
