package pipeline

import "strings"

// FallbackReply is one entry in the persona's canned-reply table, consulted
// when reply generation fails persistently. Keywords are matched
// case-insensitively against the user's text.
type FallbackReply struct {
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

// genericFallback is the reply of last resort when no table entry matches.
const genericFallback = "I'm sorry, I'm having trouble responding right now. Could you please repeat that?"

// fallbackFor picks the canned reply for userText: the first table entry
// with a keyword hit wins, otherwise the generic apology.
func fallbackFor(table []FallbackReply, userText string) string {
	lower := strings.ToLower(userText)
	for _, fr := range table {
		for _, kw := range fr.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return fr.Reply
			}
		}
	}
	return genericFallback
}
