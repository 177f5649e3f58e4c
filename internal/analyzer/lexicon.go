package analyzer

import "strings"

// FillerWords is the fixed filler lexicon. Multi-word entries match as
// consecutive words.
var FillerWords = []string{"um", "uh", "like", "you know", "basically", "actually", "literally"}

// CountFillers counts filler lexicon hits in text.
func CountFillers(text string) int {
	words := lowerWords(text)
	n := 0
	for _, f := range FillerWords {
		parts := strings.Fields(f)
		for i := 0; i+len(parts) <= len(words); i++ {
			match := true
			for j, p := range parts {
				if words[i+j] != p {
					match = false
					break
				}
			}
			if match {
				n++
			}
		}
	}
	return n
}

// STAR marker classes.
const (
	MarkerSituation = "situation"
	MarkerTask      = "task"
	MarkerAction    = "action"
	MarkerResult    = "result"
)

var starLexicon = map[string][]string{
	MarkerSituation: {"situation", "context", "background", "when i was", "at my previous", "at my last", "we were facing", "there was a"},
	MarkerTask:      {"task", "goal", "objective", "responsible for", "needed to", "had to", "my role was", "challenge was"},
	MarkerAction:    {"i decided", "i implemented", "i built", "i led", "i organized", "i designed", "i proposed", "i worked", "i created", "i introduced", "action"},
	MarkerResult:    {"result", "outcome", "as a result", "improved", "reduced", "increased", "achieved", "saved", "delivered", "percent", "%"},
}

// STARMarkers returns the set of STAR classes whose markers appear in text.
func STARMarkers(text string) map[string]bool {
	norm := " " + strings.Join(lowerWords(text), " ") + " "
	raw := strings.ToLower(text)
	hits := make(map[string]bool)
	for class, markers := range starLexicon {
		for _, m := range markers {
			if m == "%" {
				if strings.Contains(raw, "%") {
					hits[class] = true
					break
				}
				continue
			}
			if strings.Contains(norm, " "+m+" ") || strings.Contains(norm, " "+m+"s ") {
				hits[class] = true
				break
			}
		}
	}
	return hits
}

var positiveWords = map[string]bool{
	"good": true, "great": true, "confident": true, "success": true, "successful": true,
	"enjoy": true, "enjoyed": true, "excited": true, "improved": true, "effective": true,
	"strong": true, "love": true, "happy": true, "achieved": true, "proud": true,
	"learned": true, "solved": true, "efficient": true, "clear": true, "sure": true,
}

var negativeWords = map[string]bool{
	"bad": true, "difficult": true, "failed": true, "failure": true, "problem": true,
	"unsure": true, "confused": true, "hard": true, "worried": true, "mistake": true,
	"wrong": true, "poor": true, "struggled": true, "hate": true, "sorry": true,
	"frustrated": true, "stuck": true, "lost": true, "unfortunately": true, "can't": true,
}

var hedgeWords = map[string]bool{
	"maybe": true, "perhaps": true, "guess": true, "probably": true, "might": true,
	"possibly": true, "somewhat": true, "kinda": true, "sorta": true,
}

// Sentiment returns a tone estimate in [-1, 1]. Hedging pulls the estimate
// down; 0 is neutral.
func Sentiment(text string) float64 {
	var pos, neg, hedge int
	for _, w := range lowerWords(text) {
		switch {
		case positiveWords[w]:
			pos++
		case negativeWords[w]:
			neg++
		case hedgeWords[w]:
			hedge++
		}
	}
	total := pos + neg + hedge
	if total == 0 {
		return 0
	}
	score := (float64(pos) - float64(neg) - 0.5*float64(hedge)) / float64(total)
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}

// HedgeCount counts hedging words, a signal of low confidence.
func HedgeCount(text string) int {
	n := 0
	for _, w := range lowerWords(text) {
		if hedgeWords[w] {
			n++
		}
	}
	return n
}
