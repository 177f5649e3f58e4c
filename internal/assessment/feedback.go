package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/rehearse/internal/composer"
	"github.com/kalambet/rehearse/internal/engine"
	"github.com/kalambet/rehearse/internal/interview"
)

// List bounds of generated feedback.
const (
	minFindings = 3
	maxFindings = 5
	minAdvice   = 2
	maxAdvice   = 4
)

const feedbackSystemPrompt = `You are an expert interview coach. Using the scores and the transcript,
write feedback for the candidate. Be specific and refer to what the
candidate actually said. Return JSON with 3-5 strengths, 3-5 weaknesses,
a narrative paragraph, 2-4 next steps and 2-4 recommended study topics.`

var feedbackSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"strengths":          {Type: "array", Items: &engine.SchemaProperty{Type: "string"}},
		"weaknesses":         {Type: "array", Items: &engine.SchemaProperty{Type: "string"}},
		"narrative":          {Type: "string"},
		"next_steps":         {Type: "array", Items: &engine.SchemaProperty{Type: "string"}},
		"recommended_topics": {Type: "array", Items: &engine.SchemaProperty{Type: "string"}},
	},
	Required: []string{"strengths", "weaknesses", "narrative", "next_steps", "recommended_topics"},
}

func (e *Engine) feedback(ctx context.Context, s interview.Session, cats map[interview.Category]interview.CategoryScore, overall float64) (interview.Feedback, error) {
	reply, err := e.engine.Chat(ctx, engine.ChatRequest{
		Model: e.model,
		Messages: []engine.Message{
			{Role: engine.RoleSystem, Content: feedbackSystemPrompt},
			{Role: engine.RoleUser, Content: feedbackPrompt(s, cats, overall)},
		},
		Schema:      feedbackSchema,
		Temperature: engine.Temp(e.feedbackTemperature),
	})
	if err != nil {
		return interview.Feedback{}, err
	}
	var fb interview.Feedback
	if err := json.Unmarshal([]byte(extractJSON(reply)), &fb); err != nil {
		return interview.Feedback{}, fmt.Errorf("decoding feedback: %w", err)
	}
	if strings.TrimSpace(fb.Narrative) == "" {
		return interview.Feedback{}, fmt.Errorf("decoding feedback: empty narrative")
	}
	return normalizeFeedback(fb, templatedFeedback(s.Config.Type, cats, overall)), nil
}

func feedbackPrompt(s interview.Session, cats map[interview.Category]interview.CategoryScore, overall float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Interview type: %s\nOverall score: %.1f/100\n\nScores:\n", s.Config.Type.Label(), overall)
	for _, c := range interview.Categories {
		cs, ok := cats[c]
		if !ok || cs.Average == nil {
			continue
		}
		fmt.Fprintf(&b, "%s (%.1f):\n", c, *cs.Average)
		for _, d := range Dimensions[c] {
			if v := cs.Dimensions[d]; v != nil {
				fmt.Fprintf(&b, "- %s: %.1f\n", d, *v)
			}
		}
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(composer.Transcript(s.Turns))
	return b.String()
}

// normalizeFeedback trims model lists to their bounds and pads short ones
// from the templated feedback.
func normalizeFeedback(fb, pad interview.Feedback) interview.Feedback {
	return interview.Feedback{
		Strengths:         bound(fb.Strengths, pad.Strengths, minFindings, maxFindings),
		Weaknesses:        bound(fb.Weaknesses, pad.Weaknesses, minFindings, maxFindings),
		Narrative:         strings.TrimSpace(fb.Narrative),
		NextSteps:         bound(fb.NextSteps, pad.NextSteps, minAdvice, maxAdvice),
		RecommendedTopics: bound(fb.RecommendedTopics, pad.RecommendedTopics, minAdvice, maxAdvice),
	}
}

func bound(items, pad []string, lo, hi int) []string {
	out := make([]string, 0, hi)
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" || seen[k] || len(out) >= hi {
			return
		}
		seen[k] = true
		out = append(out, s)
	}
	for _, s := range items {
		add(s)
	}
	for _, s := range pad {
		if len(out) >= lo {
			break
		}
		add(s)
	}
	return out
}

var strengthText = map[string]string{
	DimVerbalCommunication: "Communicates ideas verbally with ease",
	DimClarity:             "Explains ideas clearly",
	DimConfidence:          "Answers with confidence",
	DimPace:                "Speaks at a comfortable pace",
	DimFillerControl:       "Avoids filler words",
	DimConciseness:         "Keeps answers focused and appropriately sized",
	DimTechnicalAccuracy:   "Demonstrates accurate technical knowledge",
	DimProblemSolving:      "Approaches problems methodically",
	DimStructure:           "Gives well structured answers",
	DimRelevance:           "Stays on topic and answers the question asked",
	DimDepth:               "Goes beyond surface-level explanations",
	DimCompleteness:        "Covers every part of the question",
	DimSpecificity:         "Backs claims with concrete numbers and outcomes",
	DimSTARMethod:          "Uses the STAR structure for examples",
	DimLeadership:          "Shows leadership in past work",
	DimTeamwork:            "Highlights collaboration with others",
	DimAdaptability:        "Responds constructively to challenges",
	DimOwnership:           "Takes ownership of decisions and results",
	DimEyeContact:          "Maintains good eye contact",
	DimBodyLanguage:        "Uses open, engaged body language",
	DimEngagement:          "Stays visibly engaged throughout",
}

var weaknessText = map[string]string{
	DimVerbalCommunication: "Verbal delivery could be smoother",
	DimClarity:             "Explanations are sometimes hard to follow",
	DimConfidence:          "Hedges or sounds unsure in places",
	DimPace:                "Speaking pace is outside the comfortable range",
	DimFillerControl:       "Frequent filler words distract from the content",
	DimConciseness:         "Answer length is not well calibrated",
	DimTechnicalAccuracy:   "Some technical statements are imprecise",
	DimProblemSolving:      "Problem-solving approach is not made explicit",
	DimStructure:           "Answers lack a clear structure",
	DimRelevance:           "Answers drift away from the question",
	DimDepth:               "Explanations stay at a surface level",
	DimCompleteness:        "Parts of questions are left unanswered",
	DimSpecificity:         "Examples lack concrete details and metrics",
	DimSTARMethod:          "Examples miss parts of the STAR structure",
	DimLeadership:          "Few examples of leading people or initiatives",
	DimTeamwork:            "Collaboration with others is rarely mentioned",
	DimAdaptability:        "Challenges are described negatively",
	DimOwnership:           "Personal contribution is unclear",
	DimEyeContact:          "Eye contact is inconsistent",
	DimBodyLanguage:        "Body language appears closed",
	DimEngagement:          "Engagement drops during answers",
}

var nextStepText = map[string]string{
	DimClarity:           "Practice summarizing each answer in one sentence before elaborating",
	DimConfidence:        "Replace hedging words with direct statements of what you did",
	DimPace:              "Record yourself and aim for 120 to 160 words per minute",
	DimFillerControl:     "Pause silently instead of using filler words",
	DimConciseness:       "Time your answers and target one to two minutes each",
	DimTechnicalAccuracy: "Review the fundamentals behind the questions you found hardest",
	DimProblemSolving:    "Talk through trade-offs out loud before settling on an approach",
	DimStructure:         "Outline answers as context, approach and result",
	DimRelevance:         "Restate the question before answering to stay on target",
	DimDepth:             "Prepare one deep-dive example for each key skill",
	DimSpecificity:       "Add metrics and concrete outcomes to your examples",
	DimSTARMethod:        "Rehearse stories using Situation, Task, Action, Result",
	DimLeadership:        "Prepare examples where you led a decision or a team",
	DimTeamwork:          "Prepare examples of resolving disagreements within a team",
	DimOwnership:         "Describe your own actions with \"I\" rather than \"we\"",
}

var topicsByType = map[interview.Type][]string{
	interview.TypeBehavioral:   {"STAR storytelling", "Conflict resolution", "Leadership examples", "Handling failure"},
	interview.TypeTechnical:    {"Data structures and algorithms", "Complexity analysis", "Debugging strategies", "Testing practices"},
	interview.TypeCase:         {"Market sizing", "Profitability frameworks", "Structured problem decomposition", "Quantitative reasoning"},
	interview.TypeSystemDesign: {"Scalability patterns", "Data modeling", "Caching and consistency", "Capacity estimation"},
	interview.TypeGeneral:      {"Career narrative", "Motivation and fit", "Strengths and growth areas", "Questions for the interviewer"},
}

type scoredDim struct {
	name  string
	score float64
}

func rankedDimensions(cats map[interview.Category]interview.CategoryScore) []scoredDim {
	var out []scoredDim
	for _, c := range interview.Categories {
		for _, d := range Dimensions[c] {
			if v := cats[c].Dimensions[d]; v != nil {
				out = append(out, scoredDim{d, *v})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// templatedFeedback derives feedback from the scores alone. It is used when
// the model is unavailable and to pad short model lists.
func templatedFeedback(t interview.Type, cats map[interview.Category]interview.CategoryScore, overall float64) interview.Feedback {
	ranked := rankedDimensions(cats)
	fb := interview.Feedback{RecommendedTopics: topicsFor(t)}

	for _, d := range ranked {
		if len(fb.Strengths) == maxFindings-1 {
			break
		}
		fb.Strengths = append(fb.Strengths, strengthText[d.name])
	}
	for i := len(ranked) - 1; i >= 0; i-- {
		d := ranked[i]
		if len(fb.Weaknesses) < maxFindings-1 {
			fb.Weaknesses = append(fb.Weaknesses, weaknessText[d.name])
		}
		if step, ok := nextStepText[d.name]; ok && len(fb.NextSteps) < minAdvice+1 {
			fb.NextSteps = append(fb.NextSteps, step)
		}
	}

	fb.Strengths = bound(fb.Strengths, []string{"Completed the practice interview", "Engaged with every question", "Shared relevant experience"}, minFindings, maxFindings)
	fb.Weaknesses = bound(fb.Weaknesses, []string{"Answers could include more detail", "More concrete examples would help", "Practice is needed under time pressure"}, minFindings, maxFindings)
	fb.NextSteps = bound(fb.NextSteps, []string{"Schedule another practice session", "Review this transcript and rewrite your weakest answer"}, minAdvice, maxAdvice)
	fb.RecommendedTopics = bound(fb.RecommendedTopics, nil, minAdvice, maxAdvice)

	switch {
	case len(ranked) == 0:
		fb.Narrative = "No answers were recorded in this session, so there is not enough material to assess. Start a new session and answer at least one question to receive detailed feedback."
	default:
		fb.Narrative = fmt.Sprintf("You scored %.1f overall in this %s interview. Your strongest area was %s and the area with the most room to improve was %s. Focus your next practice session on the steps below.",
			overall, t.Label(), label(ranked[0].name), label(ranked[len(ranked)-1].name))
	}
	return fb
}

func topicsFor(t interview.Type) []string {
	if topics, ok := topicsByType[t]; ok {
		return topics
	}
	return topicsByType[interview.TypeGeneral]
}

func label(dim string) string {
	return strings.ReplaceAll(dim, "_", " ")
}
