package interview

import "time"

// Category groups related assessment dimensions.
type Category string

const (
	CategoryCommunication Category = "communication"
	CategoryContent       Category = "content"
	CategoryBehavioral    Category = "behavioral"
	CategoryNonVerbal     Category = "nonverbal"
)

// Categories in presentation order.
var Categories = []Category{CategoryCommunication, CategoryContent, CategoryBehavioral, CategoryNonVerbal}

// CategoryWeights are the base weights of the overall score. Non-verbal is
// informational and carries no weight.
var CategoryWeights = map[Category]float64{
	CategoryCommunication: 0.30,
	CategoryContent:       0.50,
	CategoryBehavioral:    0.20,
}

// CategoryScore holds one category's dimension scores. A nil score means the
// dimension was not assessed.
type CategoryScore struct {
	Average    *float64            `json:"average"`
	Dimensions map[string]*float64 `json:"dimensions"`
}

type Feedback struct {
	Strengths         []string `json:"strengths"`
	Weaknesses        []string `json:"weaknesses"`
	Narrative         string   `json:"narrative"`
	NextSteps         []string `json:"next_steps"`
	RecommendedTopics []string `json:"recommended_topics"`
}

// Assessment is derived from a session's turns and overwritten on re-assessment.
type Assessment struct {
	SessionID      string                     `json:"session_id"`
	Categories     map[Category]CategoryScore `json:"categories"`
	Overall        float64                    `json:"overall_score"`
	Weights        map[Category]float64       `json:"weights"`
	Feedback       Feedback                   `json:"feedback"`
	Degraded       bool                       `json:"degraded"`
	FallbackReason string                     `json:"fallback_reason,omitempty"`
	RubricVersion  string                     `json:"rubric_version"`
	AssessedAt     time.Time                  `json:"assessed_at"`
}

// Score returns a dimension score, or nil when absent.
func (a *Assessment) Score(c Category, dim string) *float64 {
	if a == nil {
		return nil
	}
	cs, ok := a.Categories[c]
	if !ok {
		return nil
	}
	return cs.Dimensions[dim]
}
