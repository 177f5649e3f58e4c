package analyzer

import (
	"testing"
	"time"

	"github.com/kalambet/rehearse/internal/interview"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestAnalyze_TechnicalAnswer(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewWithClock(fixedClock{now})

	got := a.Analyze("I would use a hash map for O(1) lookups", nil)

	if got.WordCount != 11 {
		t.Errorf("WordCount = %d, want 11", got.WordCount)
	}
	if got.EstimatedWPM != CanonicalWPM {
		t.Errorf("EstimatedWPM = %v, want canonical %v", got.EstimatedWPM, CanonicalWPM)
	}
	if got.FillerWordCount != 0 {
		t.Errorf("FillerWordCount = %d, want 0", got.FillerWordCount)
	}
	if !got.AnalyzedAt.Equal(now) {
		t.Errorf("AnalyzedAt = %v, want %v", got.AnalyzedAt, now)
	}
}

func TestAnalyze_EmptyInput(t *testing.T) {
	got := New().Analyze("", nil)
	if got.WordCount != 0 || got.CharCount != 0 || got.EstimatedWPM != 0 || got.SentimentScore != 0 {
		t.Errorf("expected zeroed metrics, got %+v", got)
	}
}

func TestAnalyze_MalformedUTF8(t *testing.T) {
	got := New().Analyze("hello \xff\xfe world", nil)
	if got.WordCount != 2 {
		t.Errorf("WordCount = %d, want 2", got.WordCount)
	}
}

func TestAnalyze_SpeechMetrics(t *testing.T) {
	a := New()

	measured := a.Analyze("one two three", &interview.SpeechMetrics{WordsPerMinute: 180, FillerWordCount: 4})
	if measured.EstimatedWPM != 180 {
		t.Errorf("measured WPM = %v, want 180", measured.EstimatedWPM)
	}
	if measured.FillerWordCount != 4 {
		t.Errorf("FillerWordCount = %d, want 4 from speech metrics", measured.FillerWordCount)
	}

	derived := a.Analyze("one two three four five six", &interview.SpeechMetrics{DurationSeconds: 3})
	if derived.EstimatedWPM != 120 {
		t.Errorf("derived WPM = %v, want 120", derived.EstimatedWPM)
	}
}

func TestWordCount(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hello", 1},
		{"I don't know", 3},
		{"a + b = c", 5},
		{"  spaced   out  ", 2},
		{"f(x)", 3},
		{"end.", 1},
	}
	for _, tt := range tests {
		if got := WordCount(tt.text); got != tt.want {
			t.Errorf("WordCount(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestCountFillers(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"Um, so basically I, uh, you know, did it", 4},
		{"Literally the unlikely outcome", 1},
		{"You know what you know", 2},
		{"clean answer", 0},
	}
	for _, tt := range tests {
		if got := CountFillers(tt.text); got != tt.want {
			t.Errorf("CountFillers(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestSTARMarkers(t *testing.T) {
	text := "The situation was a failing deploy. My task was to fix it. I implemented a rollback and as a result downtime dropped 40%."
	got := STARMarkers(text)
	for _, class := range []string{MarkerSituation, MarkerTask, MarkerAction, MarkerResult} {
		if !got[class] {
			t.Errorf("missing STAR class %q", class)
		}
	}
	if len(STARMarkers("I like Go")) != 0 {
		t.Error("expected no STAR markers")
	}
}

func TestSentiment(t *testing.T) {
	if s := Sentiment("I was confident and the launch was a great success"); s <= 0 {
		t.Errorf("positive text scored %v", s)
	}
	if s := Sentiment("It failed and I was stuck and frustrated"); s >= 0 {
		t.Errorf("negative text scored %v", s)
	}
	if s := Sentiment("the cache sits in front of the database"); s != 0 {
		t.Errorf("neutral text scored %v", s)
	}
}
