package pipeline

import "testing"

func TestFallbackFor(t *testing.T) {
	t.Parallel()

	table := []FallbackReply{
		{Keywords: []string{"appointment", "booking"}, Reply: "I can't check appointments right now, please try again shortly."},
		{Keywords: []string{"hours", "open"}, Reply: "Our opening hours are on the website."},
	}

	tests := []struct {
		name     string
		userText string
		want     string
	}{
		{
			name:     "keyword match",
			userText: "Can I make an appointment for Tuesday?",
			want:     table[0].Reply,
		},
		{
			name:     "case insensitive",
			userText: "WHEN ARE YOU OPEN",
			want:     table[1].Reply,
		},
		{
			name:     "first entry wins",
			userText: "booking during open hours",
			want:     table[0].Reply,
		},
		{
			name:     "no match falls back to generic",
			userText: "tell me a joke",
			want:     genericFallback,
		},
		{
			name:     "empty text",
			userText: "",
			want:     genericFallback,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := fallbackFor(table, tt.userText); got != tt.want {
				t.Errorf("fallbackFor(%q) = %q, want %q", tt.userText, got, tt.want)
			}
		})
	}
}

func TestFallbackForEmptyTable(t *testing.T) {
	t.Parallel()

	if got := fallbackFor(nil, "anything"); got != genericFallback {
		t.Errorf("got %q, want generic fallback", got)
	}
}
