package assessment

import (
	"math"

	"github.com/kalambet/rehearse/internal/analyzer"
	"github.com/kalambet/rehearse/internal/interview"
)

// Dimension names.
const (
	DimVerbalCommunication = "verbal_communication"
	DimClarity             = "clarity"
	DimConfidence          = "confidence"
	DimPace                = "pace"
	DimFillerControl       = "filler_control"
	DimConciseness         = "conciseness"

	DimTechnicalAccuracy = "technical_accuracy"
	DimProblemSolving    = "problem_solving"
	DimStructure         = "structure"
	DimRelevance         = "relevance"
	DimDepth             = "depth"
	DimCompleteness      = "completeness"
	DimSpecificity       = "specificity"

	DimSTARMethod   = "star_method"
	DimLeadership   = "leadership"
	DimTeamwork     = "teamwork"
	DimAdaptability = "adaptability"
	DimOwnership    = "ownership"

	DimEyeContact   = "eye_contact"
	DimBodyLanguage = "body_language"
	DimEngagement   = "engagement"
)

// Dimensions lists every dimension per category in presentation order.
var Dimensions = map[interview.Category][]string{
	interview.CategoryCommunication: {DimVerbalCommunication, DimClarity, DimConfidence, DimPace, DimFillerControl, DimConciseness},
	interview.CategoryContent:       {DimTechnicalAccuracy, DimProblemSolving, DimStructure, DimRelevance, DimDepth, DimCompleteness, DimSpecificity},
	interview.CategoryBehavioral:    {DimSTARMethod, DimLeadership, DimTeamwork, DimAdaptability, DimOwnership},
	interview.CategoryNonVerbal:     {DimEyeContact, DimBodyLanguage, DimEngagement},
}

// RatedDimensions are scored by the model when it is available.
var RatedDimensions = []string{
	DimTechnicalAccuracy, DimProblemSolving, DimRelevance, DimClarity,
	DimConfidence, DimDepth, DimLeadership, DimTeamwork,
}

// Ideal speaking pace band, words per minute.
const (
	PaceLow  = 120.0
	PaceHigh = 160.0
)

// Neutral is the starting point of every rule-based estimate.
const Neutral = 70.0

// PaceScore is 100 minus 1.5 points per WPM outside the ideal band.
func PaceScore(wpm float64) float64 {
	var dist float64
	switch {
	case wpm < PaceLow:
		dist = PaceLow - wpm
	case wpm > PaceHigh:
		dist = wpm - PaceHigh
	}
	return Clamp(100 - 1.5*dist)
}

// FillerControlScore loses 10 points per filler word per 100 words.
func FillerControlScore(per100 float64) float64 {
	return Clamp(100 - 10*per100)
}

// STARScore awards 25 points per STAR class present across the answers.
func STARScore(classes map[string]bool) float64 {
	return Clamp(25 * float64(len(classes)))
}

// ConcisenessScore prefers answers of 50 to 200 words.
func ConcisenessScore(avgWords float64) float64 {
	switch {
	case avgWords < 50:
		return Clamp(100 - (50-avgWords)*1.2)
	case avgWords > 200:
		return Clamp(100 - (avgWords-200)*0.25)
	}
	return 100
}

// ruleScores computes the dimensions that never need the model.
func ruleScores(f Features) map[string]float64 {
	completeness := 40 + 60*math.Min(1, f.AvgWords/80)
	if f.QuestionsAsked > 0 && f.Answers < f.QuestionsAsked {
		completeness *= float64(f.Answers) / float64(f.QuestionsAsked)
	}
	return map[string]float64{
		DimPace:          PaceScore(f.AvgWPM),
		DimFillerControl: FillerControlScore(f.FillersPer100),
		DimConciseness:   ConcisenessScore(f.AvgWords),
		DimStructure:     Clamp(50 + 12.5*float64(len(f.STAR))),
		DimCompleteness:  Clamp(completeness),
		DimSpecificity:   Clamp(50 + 50*float64(f.SpecificAnswers)/float64(max(f.Answers, 1))),
		DimSTARMethod:    STARScore(f.STAR),
		DimAdaptability:  Clamp(Neutral + 15*f.Sentiment),
		DimOwnership:     Clamp(55 + 10*float64(min(f.OwnershipMentions, 4))),
	}
}

// estimate is the rule-only stand-in for a model-rated dimension: neutral,
// adjusted by the features that correlate with it.
func estimate(dim string, f Features) float64 {
	v := Neutral
	switch dim {
	case DimClarity:
		v -= 2 * f.FillersPer100
		if f.AvgWords >= 30 && f.AvgWords <= 250 {
			v += 5
		}
	case DimConfidence:
		v += 20 * f.Sentiment
		if f.Answers > 0 {
			v -= 3 * float64(f.Hedges) / float64(f.Answers)
		}
	case DimProblemSolving:
		if f.STAR[analyzer.MarkerAction] {
			v += 5
		}
	case DimDepth:
		v += math.Max(-15, math.Min(15, (f.AvgWords-80)/10))
	case DimLeadership:
		if f.OwnershipMentions > 0 {
			v += 10
		}
	case DimTeamwork:
		if f.TeamMentions > 0 {
			v += 10
		}
	}
	return Clamp(v)
}

// Clamp bounds a score to [0, 100].
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Aggregate averages each category's scored dimensions and combines the
// weighted categories into the overall score. Weights are renormalized over
// the categories that have an average; nonverbal is never weighted.
func Aggregate(cats map[interview.Category]interview.CategoryScore) (float64, map[interview.Category]float64) {
	for c, cs := range cats {
		var sum float64
		var n int
		for _, d := range Dimensions[c] {
			if v := cs.Dimensions[d]; v != nil {
				sum += *v
				n++
			}
		}
		cs.Average = nil
		if n > 0 {
			a := Round1(Clamp(sum / float64(n)))
			cs.Average = &a
		}
		cats[c] = cs
	}

	var total float64
	present := map[interview.Category]float64{}
	for _, c := range interview.Categories {
		w, weighted := interview.CategoryWeights[c]
		if !weighted || cats[c].Average == nil {
			continue
		}
		present[c] = w
		total += w
	}
	weights := map[interview.Category]float64{}
	if total == 0 {
		return 0, weights
	}

	var overall float64
	for _, c := range interview.Categories {
		w, ok := present[c]
		if !ok {
			continue
		}
		nw := w / total
		weights[c] = nw
		overall += nw * *cats[c].Average
	}
	return Round1(Clamp(overall)), weights
}
