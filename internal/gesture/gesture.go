// Package gesture selects avatar gestures for a reply text.
//
// Selection is keyword driven over an ordered rule list: the reply is split
// into sentences, each sentence is matched against the rules in priority
// order, and the first matching rule wins for that sentence. A sentence with
// no match produces nothing. Selection never fails; the worst case is an
// empty result.
//
// Because playback timing is unknown until synthesis completes, events carry
// target timestamps as fractions of total reply duration (0.0–1.0). The
// pipeline resolves them to absolute milliseconds once the audio length is
// known.
package gesture

import (
	"sort"
	"strings"
)

// Rule binds a trigger keyword to a gesture. Lower Priority values win when
// several triggers match the same sentence.
type Rule struct {
	Trigger    string `yaml:"trigger"`
	Gesture    string `yaml:"gesture"`
	Priority   int    `yaml:"priority"`
	DurationMs int    `yaml:"duration_ms"`
}

// Event is one selected gesture with its playback position expressed as a
// fraction of the total reply duration.
type Event struct {
	Gesture    string
	Fraction   float64
	DurationMs int
}

// Conversation moods recognized by DetectMood and the mood fallback table.
const (
	MoodNeutral    = "neutral"
	MoodHappy      = "happy"
	MoodConcerned  = "concerned"
	MoodEmpathetic = "empathetic"
	MoodThinking   = "thinking"
)

const defaultDurationMs = 1500

// Selector evaluates an ordered rule list against reply text.
type Selector struct {
	rules []Rule
}

// NewSelector builds a Selector. Rules are ordered by ascending Priority;
// rules with equal Priority keep their given order. A nil or empty rule set
// is valid and selects nothing beyond the mood fallback.
func NewSelector(rules []Rule) *Selector {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	return &Selector{rules: ordered}
}

// SelectGestures returns the gesture events for replyText, ordered by
// ascending Fraction. mood is one of the Mood constants; when no rule
// matches anywhere in the reply, a single mood-appropriate gesture is
// emitted mid-reply so the avatar does not stand frozen. Unknown moods are
// treated as neutral.
func (s *Selector) SelectGestures(replyText, mood string) []Event {
	text := strings.TrimSpace(replyText)
	if text == "" {
		return nil
	}

	var events []Event
	for _, sent := range splitSentences(text) {
		lower := strings.ToLower(sent.text)
		for _, r := range s.rules {
			if r.Trigger == "" || !strings.Contains(lower, strings.ToLower(r.Trigger)) {
				continue
			}
			dur := r.DurationMs
			if dur <= 0 {
				dur = defaultDurationMs
			}
			events = append(events, Event{
				Gesture:    r.Gesture,
				Fraction:   float64(sent.offset) / float64(len(text)),
				DurationMs: dur,
			})
			break
		}
	}
	if len(events) == 0 {
		if g, ok := moodGestures[mood]; ok {
			events = append(events, Event{Gesture: g, Fraction: 0.5, DurationMs: defaultDurationMs})
		}
	}
	return events
}

// moodGestures is the fallback used when no keyword rule fires. Neutral has
// no entry: a neutral reply with no triggers selects nothing.
var moodGestures = map[string]string{
	MoodHappy:      "nod",
	MoodConcerned:  "concern",
	MoodEmpathetic: "empathy",
	MoodThinking:   "think",
}

// DetectMood classifies reply text into a conversation mood by keyword
// scan. The first category with a hit wins; order favors the moods that
// change avatar behavior most.
func DetectMood(text string) string {
	lower := strings.ToLower(text)
	for _, c := range moodKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.mood
			}
		}
	}
	return MoodNeutral
}

var moodKeywords = []struct {
	mood     string
	keywords []string
}{
	{MoodConcerned, []string{"unfortunately", "serious", "urgent", "warning", "risk"}},
	{MoodEmpathetic, []string{"sorry", "understand how", "i understand", "that must"}},
	{MoodHappy, []string{"great", "glad", "wonderful", "congratulations", "happy to"}},
	{MoodThinking, []string{"let me think", "hmm", "considering", "it depends"}},
}

// DefaultRules is the built-in rule set, usable when no rules are
// configured.
func DefaultRules() []Rule {
	return []Rule{
		{Trigger: "welcome", Gesture: "wave", Priority: 1, DurationMs: 2000},
		{Trigger: "hello", Gesture: "wave", Priority: 1, DurationMs: 2000},
		{Trigger: "goodbye", Gesture: "wave", Priority: 1, DurationMs: 2000},
		{Trigger: "thank", Gesture: "nod", Priority: 2},
		{Trigger: "yes", Gesture: "nod", Priority: 2},
		{Trigger: "sorry", Gesture: "empathy", Priority: 3, DurationMs: 2000},
		{Trigger: "careful", Gesture: "concern", Priority: 3},
		{Trigger: "important", Gesture: "point", Priority: 4},
		{Trigger: "recommend", Gesture: "point", Priority: 4},
		{Trigger: "for example", Gesture: "explain", Priority: 5, DurationMs: 2500},
		{Trigger: "because", Gesture: "explain", Priority: 5, DurationMs: 2500},
		{Trigger: "let me", Gesture: "think", Priority: 6},
	}
}

type sentence struct {
	text   string
	offset int
}

// splitSentences cuts text at sentence-final punctuation, keeping each
// sentence's byte offset into the original text.
func splitSentences(text string) []sentence {
	var out []sentence
	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if s := strings.TrimSpace(text[start:i]); s != "" {
			out = append(out, sentence{text: s, offset: start + leadingSpace(text[start:i])})
		}
		start = i + 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, sentence{text: s, offset: start + leadingSpace(text[start:])})
	}
	return out
}

func leadingSpace(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t\n"))
}
