package assessment

import (
	"regexp"
	"strings"

	"github.com/kalambet/rehearse/internal/analyzer"
	"github.com/kalambet/rehearse/internal/interview"
)

// Features are the rule inputs aggregated over every candidate answer.
type Features struct {
	Answers        int
	QuestionsAsked int

	TotalWords    int
	AvgWords      float64
	AvgWPM        float64
	Fillers       int
	FillersPer100 float64
	Sentiment     float64
	Hedges        int

	// STAR marker classes seen in any answer.
	STAR map[string]bool
	// SpecificAnswers is the number of answers citing numbers or outcomes.
	SpecificAnswers int
	// TeamMentions counts "we", "team" and similar collaboration words.
	TeamMentions int
	// OwnershipMentions counts first-person action markers.
	OwnershipMentions int

	// Video averages; nil when no turn carried the metric.
	EyeContact   *float64
	BodyLanguage *float64
	Engagement   *float64
}

var (
	digitRe = regexp.MustCompile(`\d`)
	teamRe  = regexp.MustCompile(`(?i)\b(we|our|team|teammates?|together|collaborat\w*|colleagues?)\b`)
	ownRe   = regexp.MustCompile(`(?i)\bi (decided|implemented|built|led|owned|drove|designed|proposed|took|fixed|created|introduced)\b`)
)

// Extract computes Features from a session's turns. Stored per-turn
// analyses are reused; turns without one are analyzed on the fly.
func Extract(s interview.Session) Features {
	f := Features{STAR: map[string]bool{}}
	var wpmSum, sentSum float64
	var eye, body, eng avg

	for _, t := range s.Turns {
		if t.Role == interview.RoleInterviewer {
			if t.Kind == interview.KindQuestion || t.Kind == interview.KindOpening {
				f.QuestionsAsked++
			}
			continue
		}
		f.Answers++

		a := t.Analysis
		if a == nil {
			computed := analyzer.New().Analyze(t.Content, t.Speech)
			a = &computed
		}
		f.TotalWords += a.WordCount
		wpmSum += a.EstimatedWPM
		f.Fillers += a.FillerWordCount
		sentSum += a.SentimentScore
		f.Hedges += analyzer.HedgeCount(t.Content)

		for class := range analyzer.STARMarkers(t.Content) {
			f.STAR[class] = true
		}
		if digitRe.MatchString(t.Content) || strings.Contains(t.Content, "%") {
			f.SpecificAnswers++
		}
		f.TeamMentions += len(teamRe.FindAllStringIndex(t.Content, -1))
		f.OwnershipMentions += len(ownRe.FindAllStringIndex(t.Content, -1))

		if t.Speech != nil {
			eye.add(t.Speech.EyeContact)
			body.add(t.Speech.BodyLanguage)
			eng.add(t.Speech.Engagement)
		}
	}

	if f.Answers > 0 {
		f.AvgWords = float64(f.TotalWords) / float64(f.Answers)
		f.AvgWPM = wpmSum / float64(f.Answers)
		f.Sentiment = sentSum / float64(f.Answers)
	}
	if f.TotalWords > 0 {
		f.FillersPer100 = float64(f.Fillers) / float64(f.TotalWords) * 100
	}
	f.EyeContact, f.BodyLanguage, f.Engagement = eye.value(), body.value(), eng.value()
	return f
}

type avg struct {
	sum float64
	n   int
}

func (a *avg) add(v *float64) {
	if v != nil {
		a.sum += *v
		a.n++
	}
}

func (a avg) value() *float64 {
	if a.n == 0 {
		return nil
	}
	v := a.sum / float64(a.n)
	return &v
}
