package pipeline

import (
	"regexp"
	"strings"
)

// MinDriftKeywords is the number of keywords an answer needs before it can
// count as a topic change. Short answers never trigger re-retrieval.
const MinDriftKeywords = 3

var keywordRe = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}+#.-]*`)

var stopwords = map[string]bool{
	"about": true, "after": true, "again": true, "also": true, "because": true,
	"been": true, "before": true, "being": true, "could": true, "does": true,
	"doing": true, "each": true, "from": true, "have": true, "having": true,
	"here": true, "into": true, "just": true, "like": true, "made": true,
	"make": true, "more": true, "most": true, "much": true, "need": true,
	"only": true, "other": true, "over": true, "really": true, "same": true,
	"should": true, "some": true, "such": true, "than": true, "that": true,
	"their": true, "them": true, "then": true, "there": true, "these": true,
	"they": true, "thing": true, "things": true, "think": true, "this": true,
	"those": true, "through": true, "very": true, "want": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "while": true,
	"will": true, "with": true, "would": true, "your": true, "yours": true,
	"interview": true, "preparation": true, "tell": true, "time": true,
	"describe": true, "know": true, "well": true, "actually": true, "basically": true,
}

// Keywords returns the distinct content words of text in order of first
// appearance: lowercased, at least four characters, stopwords removed.
func Keywords(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, w := range keywordRe.FindAllString(strings.ToLower(text), -1) {
		w = strings.TrimRight(w, ".-")
		if len([]rune(w)) < 4 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// Overlap is the share of answer keywords that appear in topic.
func Overlap(answer, topic []string) float64 {
	if len(answer) == 0 {
		return 1
	}
	in := make(map[string]bool, len(topic))
	for _, t := range topic {
		in[t] = true
	}
	hits := 0
	for _, a := range answer {
		if in[a] || in[stem(a)] {
			hits++
		}
	}
	return float64(hits) / float64(len(answer))
}

// Drifted reports whether answer moved away from topic. It also returns the
// overlap and the answer's keywords.
func Drifted(answer string, topic []string, threshold float64) (bool, float64, []string) {
	kw := Keywords(answer)
	stemmed := make([]string, 0, len(topic)*2)
	for _, t := range topic {
		stemmed = append(stemmed, t, stem(t))
	}
	overlap := Overlap(kw, stemmed)
	return len(kw) >= MinDriftKeywords && overlap < threshold, overlap, kw
}

// stem strips a gerund or plural suffix so "services" matches "service".
func stem(w string) string {
	switch {
	case len(w) > 6 && strings.HasSuffix(w, "ing"):
		return strings.TrimSuffix(w, "ing")
	case len(w) > 4 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return strings.TrimSuffix(w, "s")
	}
	return w
}
