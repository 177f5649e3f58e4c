// Package analyzer derives per-turn metrics from a candidate answer.
package analyzer

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/rehearse/internal/interview"
)

// CanonicalWPM is assumed when no speech timing is available.
const CanonicalWPM = 150.0

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Analyzer computes TurnAnalysis values. The zero value is not usable; use New.
type Analyzer struct {
	clock Clock
}

func New() *Analyzer {
	return &Analyzer{clock: realClock{}}
}

func NewWithClock(c Clock) *Analyzer {
	return &Analyzer{clock: c}
}

// Analyze never fails: empty or malformed input yields zeroed metrics with a
// neutral sentiment.
func (a *Analyzer) Analyze(text string, speech *interview.SpeechMetrics) interview.TurnAnalysis {
	text = strings.ToValidUTF8(text, "")
	words := WordCount(text)

	fillers := CountFillers(text)
	if speech != nil && speech.FillerWordCount > fillers {
		fillers = speech.FillerWordCount
	}

	return interview.TurnAnalysis{
		WordCount:       words,
		CharCount:       utf8.RuneCountInString(text),
		EstimatedWPM:    EstimateWPM(words, speech),
		FillerWordCount: fillers,
		SentimentScore:  Sentiment(text),
		StructureSignal: len(STARMarkers(text)),
		AnalyzedAt:      a.clock.Now().UTC(),
	}
}

// tokenRe matches words (contractions kept whole) plus opening brackets and
// operator symbols, so notation such as "O(1)" or "a + b" counts its parts.
var tokenRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*|[(\[{+*/=<>^%]`)

// wordRe matches plain words only, used for lexicon matching.
var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`)

// WordCount returns the notation-aware token count of text.
func WordCount(text string) int {
	return len(tokenRe.FindAllStringIndex(text, -1))
}

func lowerWords(text string) []string {
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	for i, w := range words {
		words[i] = strings.ReplaceAll(w, "’", "'")
	}
	return words
}

// EstimateWPM prefers measured pace, then pace derived from duration, then
// the canonical rate.
func EstimateWPM(words int, speech *interview.SpeechMetrics) float64 {
	if speech != nil {
		if speech.WordsPerMinute > 0 {
			return speech.WordsPerMinute
		}
		if speech.DurationSeconds > 0 && words > 0 {
			return float64(words) / (speech.DurationSeconds / 60)
		}
	}
	if words == 0 {
		return 0
	}
	return CanonicalWPM
}
