package transcript

import (
	"testing"
)

func TestCorrectEmptyVocabulary(t *testing.T) {
	t.Parallel()

	c := NewCorrector(nil)
	text := "whatever was said"
	got, corrections := c.Correct(text)
	if got != text || len(corrections) != 0 {
		t.Errorf("Correct(%q) = %q, %v; want identity", text, got, corrections)
	}
}

func TestCorrectExactTermUntouched(t *testing.T) {
	t.Parallel()

	c := NewCorrector([]string{"paracetamol"})
	got, corrections := c.Correct("take paracetamol twice daily")
	if got != "take paracetamol twice daily" {
		t.Errorf("text changed to %q", got)
	}
	if len(corrections) != 0 {
		t.Errorf("exact term recorded corrections %v", corrections)
	}
}

func TestCorrectMisheardTerm(t *testing.T) {
	t.Parallel()

	c := NewCorrector([]string{"paracetamol"})
	got, corrections := c.Correct("take parasetamol twice daily")
	if got != "take paracetamol twice daily" {
		t.Errorf("Correct = %q, want corrected term", got)
	}
	if len(corrections) != 1 {
		t.Fatalf("corrections = %v, want 1", corrections)
	}
	if corrections[0].Original != "parasetamol" || corrections[0].Corrected != "paracetamol" {
		t.Errorf("correction = %+v", corrections[0])
	}
	if corrections[0].Confidence <= 0 {
		t.Errorf("confidence = %v, want > 0", corrections[0].Confidence)
	}
}

func TestCorrectMultiWordEntry(t *testing.T) {
	t.Parallel()

	c := NewCorrector([]string{"blood pressure"})
	got, corrections := c.Correct("check your blood presure tomorrow")
	if got != "check your blood pressure tomorrow" {
		t.Errorf("Correct = %q", got)
	}
	if len(corrections) != 1 || corrections[0].Original != "blood presure" {
		t.Errorf("corrections = %v, want single two-word span", corrections)
	}
}

func TestCorrectUnrelatedTextUntouched(t *testing.T) {
	t.Parallel()

	c := NewCorrector([]string{"paracetamol", "blood pressure"})
	text := "see you tomorrow at nine"
	got, corrections := c.Correct(text)
	if got != text || len(corrections) != 0 {
		t.Errorf("Correct(%q) = %q, %v; want identity", text, got, corrections)
	}
}

func TestCorrectBlankInput(t *testing.T) {
	t.Parallel()

	c := NewCorrector([]string{"term"})
	if got, corrections := c.Correct("   "); got != "   " || corrections != nil {
		t.Errorf("blank input changed: %q, %v", got, corrections)
	}
}

func TestNewCorrectorDropsBlankEntries(t *testing.T) {
	t.Parallel()

	c := NewCorrector([]string{"", "  ", "valid"})
	if len(c.entries) != 1 {
		t.Errorf("entries = %d, want 1", len(c.entries))
	}
}
