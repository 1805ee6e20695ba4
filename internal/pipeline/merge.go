package pipeline

import (
	"sort"

	"github.com/voxatar/voxatar/internal/gesture"
	"github.com/voxatar/voxatar/pkg/event"
	"github.com/voxatar/voxatar/pkg/provider/tts"
)

// kindRank orders events that share a timestamp. Text always precedes
// audio, visemes, and gestures; within one timestamp audio plays before the
// mouth shape it carries.
func kindRank(k event.Kind) int {
	switch k {
	case event.KindTranscript:
		return 0
	case event.KindReplyDelta:
		return 1
	case event.KindError:
		return 2
	case event.KindAudioChunk:
		return 3
	case event.KindViseme:
		return 4
	case event.KindGesture:
		return 5
	default:
		return 6
	}
}

// timeline assembles the complete ordered event sequence for one turn from
// the synthesis and gesture results. audio chunks are placed at cumulative
// playback offsets; viseme markers are clamped to the total duration;
// gesture fractions are resolved against it. The returned slice is sorted
// by (TimestampMs, kind rank) and is safe to emit in order.
func timeline(sessionID string, turn uint64, mood string, textEvents []event.Outbound, chunks []tts.Chunk, markers []tts.Marker, gestures []gesture.Event) []event.Outbound {
	events := make([]event.Outbound, 0, len(textEvents)+2*len(chunks)+len(markers)+len(gestures))
	events = append(events, textEvents...)

	totalMs := 0
	for _, c := range chunks {
		events = append(events, event.Outbound{
			SessionID:   sessionID,
			Turn:        turn,
			Kind:        event.KindAudioChunk,
			TimestampMs: totalMs,
			Audio:       c.Audio,
			DurationMs:  c.DurationMs,
		})
		totalMs += c.DurationMs
	}

	for _, m := range markers {
		ts := m.TimestampMs
		if totalMs > 0 && ts >= totalMs {
			ts = totalMs - 1
		}
		events = append(events, event.Outbound{
			SessionID:   sessionID,
			Turn:        turn,
			Kind:        event.KindViseme,
			TimestampMs: ts,
			Viseme:      m.Viseme,
		})
	}

	for _, g := range gestures {
		ts := int(g.Fraction * float64(totalMs))
		if totalMs > 0 && ts >= totalMs {
			ts = totalMs - 1
		}
		events = append(events, event.Outbound{
			SessionID:   sessionID,
			Turn:        turn,
			Kind:        event.KindGesture,
			TimestampMs: ts,
			Gesture:     g.Gesture,
			DurationMs:  g.DurationMs,
			Mood:        mood,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].TimestampMs != events[j].TimestampMs {
			return events[i].TimestampMs < events[j].TimestampMs
		}
		return kindRank(events[i].Kind) < kindRank(events[j].Kind)
	})
	return events
}
