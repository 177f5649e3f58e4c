package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/rehearse/internal/interview"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

// Policy tunes how interviews are run. It is read from a YAML file; keys the
// file omits keep their built-in values.
type Policy struct {
	MaxQuestions        int                 `yaml:"max_questions"`
	EndPhrases          []string            `yaml:"end_phrases"`
	DriftThreshold      float64             `yaml:"drift_threshold"`
	ContextTTL          time.Duration       `yaml:"context_ttl"`
	QuestionTemperature float64             `yaml:"question_temperature"`
	FeedbackTemperature float64             `yaml:"feedback_temperature"`
	QuestionBank        map[string][]string `yaml:"question_bank"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	var p Policy
	if err := yaml.Unmarshal(defaultPolicyYAML, &p); err != nil {
		panic(fmt.Sprintf("embedded policy: %v", err))
	}
	return p
}

// LoadPolicy reads the policy file at path. An empty path yields the
// built-in policy.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading policy file %s: %w", path, err)
	}
	return parsePolicy(data, p)
}

func parsePolicy(data []byte, base Policy) (Policy, error) {
	// Lists and maps present in the file replace the defaults outright.
	var override Policy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Policy{}, fmt.Errorf("parsing policy YAML: %w", err)
	}
	var present map[string]any
	if err := yaml.Unmarshal(data, &present); err != nil {
		return Policy{}, fmt.Errorf("parsing policy YAML: %w", err)
	}

	p := base
	if _, ok := present["max_questions"]; ok {
		p.MaxQuestions = override.MaxQuestions
	}
	if _, ok := present["end_phrases"]; ok {
		p.EndPhrases = override.EndPhrases
	}
	if _, ok := present["drift_threshold"]; ok {
		p.DriftThreshold = override.DriftThreshold
	}
	if _, ok := present["context_ttl"]; ok {
		p.ContextTTL = override.ContextTTL
	}
	if _, ok := present["question_temperature"]; ok {
		p.QuestionTemperature = override.QuestionTemperature
	}
	if _, ok := present["feedback_temperature"]; ok {
		p.FeedbackTemperature = override.FeedbackTemperature
	}
	if _, ok := present["question_bank"]; ok {
		p.QuestionBank = override.QuestionBank
	}

	if err := validatePolicy(p); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

func validatePolicy(p Policy) error {
	if p.MaxQuestions <= 0 {
		return fmt.Errorf("max_questions must be greater than 0")
	}
	if p.DriftThreshold < 0 || p.DriftThreshold > 1 {
		return fmt.Errorf("drift_threshold must be between 0 and 1, got %v", p.DriftThreshold)
	}
	if p.ContextTTL <= 0 {
		return fmt.Errorf("context_ttl must be positive")
	}
	for _, t := range []struct {
		key string
		v   float64
	}{{"question_temperature", p.QuestionTemperature}, {"feedback_temperature", p.FeedbackTemperature}} {
		if t.v < 0 || t.v > 2 {
			return fmt.Errorf("%s must be between 0 and 2, got %v", t.key, t.v)
		}
	}
	for i, ph := range p.EndPhrases {
		if strings.TrimSpace(ph) == "" {
			return fmt.Errorf("end_phrases[%d] is empty", i)
		}
	}
	for typ, qs := range p.QuestionBank {
		if !interview.Type(typ).Valid() {
			return fmt.Errorf("question_bank has unknown interview type %q", typ)
		}
		for i, q := range qs {
			if strings.TrimSpace(q) == "" {
				return fmt.Errorf("question_bank.%s[%d] is empty", typ, i)
			}
		}
	}
	return nil
}

// Questions returns the question bank keyed by interview type.
func (p Policy) Questions() map[interview.Type][]string {
	out := make(map[interview.Type][]string, len(p.QuestionBank))
	for typ, qs := range p.QuestionBank {
		out[interview.Type(typ)] = append([]string(nil), qs...)
	}
	return out
}
