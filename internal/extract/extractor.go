// Package extract pulls structured profile fields out of résumé text with a
// chat model.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/rehearse/internal/engine"
	"github.com/kalambet/rehearse/internal/interview"
)

const (
	DefaultTimeout = 30 * time.Second
	// maxInputRunes keeps long résumés inside small context windows.
	maxInputRunes = 12000
)

// Fields are the profile attributes a résumé can supply.
type Fields struct {
	CurrentRole     string   `json:"current_role"`
	CurrentCompany  string   `json:"current_company"`
	ExperienceYears float64  `json:"experience_years"`
	TechnicalSkills []string `json:"technical_skills"`
	SoftSkills      []string `json:"soft_skills"`
	Industries      []string `json:"industries"`
}

// Extractor reads résumé text into Fields.
type Extractor struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
}

func New(e engine.Engine, model string, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Extractor{engine: e, model: model, timeout: timeout}
}

// Extract returns the fields found in text. Blank text yields zero Fields.
func (x *Extractor) Extract(ctx context.Context, text string) (Fields, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Fields{}, nil
	}
	if r := []rune(text); len(r) > maxInputRunes {
		text = string(r[:maxInputRunes])
	}

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	raw, err := x.engine.Chat(ctx, engine.ChatRequest{
		Model:       x.model,
		Messages:    BuildPrompt(text),
		Schema:      fieldsSchema,
		Temperature: engine.Temp(0),
	})
	if err != nil {
		return Fields{}, fmt.Errorf("extracting résumé fields: %w", err)
	}

	var f Fields
	if err := json.Unmarshal([]byte(objectOf(raw)), &f); err != nil {
		return Fields{}, fmt.Errorf("decoding résumé fields: %w", err)
	}
	return f.clean(), nil
}

func (f Fields) clean() Fields {
	f.CurrentRole = strings.TrimSpace(f.CurrentRole)
	f.CurrentCompany = strings.TrimSpace(f.CurrentCompany)
	if f.ExperienceYears < 0 || f.ExperienceYears > 60 {
		f.ExperienceYears = 0
	}
	f.TechnicalSkills = dedupe(f.TechnicalSkills)
	f.SoftSkills = dedupe(f.SoftSkills)
	f.Industries = dedupe(f.Industries)
	return f
}

func dedupe(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || slices.ContainsFunc(out, func(o string) bool { return strings.EqualFold(o, s) }) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Merge fills the empty fields of p from f and reports which keys it set.
// Values the candidate entered are never replaced.
func Merge(p interview.CandidateProfile, f Fields) (interview.CandidateProfile, []string) {
	var filled []string
	setString := func(key string, dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
			filled = append(filled, key)
		}
	}
	setList := func(key string, dst *[]string, v []string) {
		if len(*dst) == 0 && len(v) > 0 {
			*dst = v
			filled = append(filled, key)
		}
	}

	setString("current_role", &p.CurrentRole, f.CurrentRole)
	setString("current_company", &p.CurrentCompany, f.CurrentCompany)
	if p.ExperienceYears == 0 && f.ExperienceYears > 0 {
		p.ExperienceYears = f.ExperienceYears
		filled = append(filled, "experience_years")
	}
	setList("technical_skills", &p.TechnicalSkills, f.TechnicalSkills)
	setList("soft_skills", &p.SoftSkills, f.SoftSkills)
	setList("industries", &p.Industries, f.Industries)
	return p, filled
}

var fieldsSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"current_role":     {Type: "string", Description: "Most recent job title"},
		"current_company":  {Type: "string", Description: "Most recent employer"},
		"experience_years": {Type: "number", Description: "Total years of professional experience"},
		"technical_skills": {Type: "array", Items: &engine.SchemaProperty{Type: "string"}},
		"soft_skills":      {Type: "array", Items: &engine.SchemaProperty{Type: "string"}},
		"industries":       {Type: "array", Items: &engine.SchemaProperty{Type: "string"}},
	},
	Required: []string{"current_role", "current_company", "experience_years", "technical_skills", "soft_skills", "industries"},
}

func objectOf(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
