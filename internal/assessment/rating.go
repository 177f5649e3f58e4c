package assessment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/rehearse/internal/cache"
	"github.com/kalambet/rehearse/internal/composer"
	"github.com/kalambet/rehearse/internal/engine"
	"github.com/kalambet/rehearse/internal/interview"
)

// ErrInvalidRating is returned when the model's rating is not a complete
// JSON object of scores in range.
var ErrInvalidRating = errors.New("invalid rating response")

const ratingSystemPrompt = `You are an experienced interviewer scoring a practice interview.
Rate the candidate on each requested dimension from 0 to 100, where 50 is
an adequate answer and 85 or more is exceptional. Judge only what the
candidate said in the transcript. Respond with a single JSON object whose
keys are the dimension names and whose values are numbers.`

var ratingDescriptions = map[string]string{
	DimTechnicalAccuracy: "correctness of technical statements for the interview type",
	DimProblemSolving:    "quality of reasoning and approach to problems",
	DimRelevance:         "how directly answers address the questions asked",
	DimClarity:           "how clearly ideas are expressed",
	DimConfidence:        "assurance and decisiveness of delivery",
	DimDepth:             "depth of insight beyond surface level",
	DimLeadership:        "evidence of leading people or initiatives",
	DimTeamwork:          "evidence of collaboration",
}

// ratedFor returns the model-rated dimensions applicable to an interview
// type.
func ratedFor(t interview.Type) []string {
	var out []string
	for _, d := range RatedDimensions {
		if (d == DimLeadership || d == DimTeamwork) && !t.HasBehavioralDimensions() {
			continue
		}
		out = append(out, d)
	}
	return out
}

func ratingSchema(dims []string) *engine.Schema {
	lo, hi := 0.0, 100.0
	s := &engine.Schema{Type: "object", Properties: map[string]engine.SchemaProperty{}, Required: dims}
	for _, d := range dims {
		s.Properties[d] = engine.SchemaProperty{
			Type:        "number",
			Description: ratingDescriptions[d],
			Minimum:     &lo,
			Maximum:     &hi,
		}
	}
	return s
}

func ratingPrompt(s interview.Session, p *interview.CandidateProfile, dims []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Interview type: %s\n", s.Config.Type.Label())
	if s.Config.Difficulty != "" {
		fmt.Fprintf(&b, "Difficulty: %s\n", s.Config.Difficulty)
	}
	if s.Config.RoleContext != "" {
		fmt.Fprintf(&b, "Role: %s\n", s.Config.RoleContext)
	}
	if p != nil && p.ExperienceYears > 0 {
		fmt.Fprintf(&b, "Candidate experience: %.0f years\n", p.ExperienceYears)
	}
	fmt.Fprintf(&b, "Dimensions: %s\n\nTranscript:\n", strings.Join(dims, ", "))
	b.WriteString(composer.Transcript(s.Turns))
	return b.String()
}

// ratingKey identifies a rating request. Identical transcripts under the
// same rubric and model hit the same key.
func ratingKey(model string, s interview.Session, dims []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00", RubricVersion, model, s.Config.Type, s.Config.Difficulty, strings.Join(dims, ","))
	for _, t := range s.Turns {
		fmt.Fprintf(h, "%s\x00%s\x00", t.Role, t.Content)
	}
	return "rating:" + hex.EncodeToString(h.Sum(nil))
}

// rate asks the model for the rated dimensions, consulting the cache first.
func (e *Engine) rate(ctx context.Context, s interview.Session, p *interview.CandidateProfile, dims []string) (map[string]float64, error) {
	key := ratingKey(e.model, s, dims)
	var cached map[string]float64
	if err := cache.GetJSON(ctx, e.cache, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		e.logger.Warn("rating cache read failed", "session_id", s.ID, "error", err)
	}

	reply, err := e.engine.Chat(ctx, engine.ChatRequest{
		Model: e.model,
		Messages: []engine.Message{
			{Role: engine.RoleSystem, Content: ratingSystemPrompt},
			{Role: engine.RoleUser, Content: ratingPrompt(s, p, dims)},
		},
		Schema:      ratingSchema(dims),
		Temperature: engine.Temp(0),
	})
	if err != nil {
		return nil, err
	}
	scores, err := parseRating(reply, dims)
	if err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, e.cache, key, scores, e.ratingTTL); err != nil {
		e.logger.Warn("rating cache write failed", "session_id", s.ID, "error", err)
	}
	return scores, nil
}

func parseRating(reply string, dims []string) (map[string]float64, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(extractJSON(reply)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRating, err)
	}
	out := make(map[string]float64, len(dims))
	for _, d := range dims {
		v, ok := raw[d].(float64)
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidRating, d)
		}
		out[d] = Round1(Clamp(v))
	}
	return out, nil
}

// extractJSON trims code fences and prose some models wrap around an
// object.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
