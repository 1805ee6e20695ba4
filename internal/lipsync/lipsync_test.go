package lipsync

import (
	"testing"
)

func TestEstimateEmpty(t *testing.T) {
	t.Parallel()

	if got := Estimate("", 1000); got != nil {
		t.Errorf("empty text produced %v", got)
	}
	if got := Estimate("hello", 0); got != nil {
		t.Errorf("zero duration produced %v", got)
	}
	if got := Estimate("   ", 1000); got != nil {
		t.Errorf("blank text produced %v", got)
	}
}

func TestEstimateWithinDuration(t *testing.T) {
	t.Parallel()

	const durationMs = 2000
	markers := Estimate("Hello there, how are you doing today?", durationMs)
	if len(markers) == 0 {
		t.Fatal("no markers produced")
	}
	prev := -1
	for i, m := range markers {
		if m.TimestampMs >= durationMs {
			t.Errorf("marker[%d] at %d ms exceeds duration %d", i, m.TimestampMs, durationMs)
		}
		if m.TimestampMs <= prev {
			t.Errorf("marker[%d] at %d ms not strictly after %d", i, m.TimestampMs, prev)
		}
		if m.Viseme == "" {
			t.Errorf("marker[%d] has empty viseme", i)
		}
		prev = m.TimestampMs
	}
}

func TestEstimateStartsAtZero(t *testing.T) {
	t.Parallel()

	markers := Estimate("open", 1000)
	if len(markers) == 0 || markers[0].TimestampMs != 0 {
		t.Fatalf("markers = %v, want first at 0 ms", markers)
	}
	if markers[0].Viseme != "O" {
		t.Errorf("first viseme = %q, want O", markers[0].Viseme)
	}
}

func TestEstimateMinimumSpacing(t *testing.T) {
	t.Parallel()

	// Short duration forces heavy marker thinning.
	markers := Estimate("alternating vowels aeiou aeiou aeiou", 300)
	for i := 1; i < len(markers); i++ {
		if gap := markers[i].TimestampMs - markers[i-1].TimestampMs; gap < minGapMs {
			t.Errorf("gap between markers %d and %d is %d ms, want >= %d", i-1, i, gap, minGapMs)
		}
	}
}

func TestEstimatePunctuationOnly(t *testing.T) {
	t.Parallel()

	if got := Estimate("... --- ...", 1000); len(got) != 0 {
		t.Errorf("punctuation-only text produced %v", got)
	}
}
