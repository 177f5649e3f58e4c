package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/kalambet/rehearse/internal/interview"
)

// Profile field keys as stored and as accepted by SetField.
const (
	KeyName                = "name"
	KeyCurrentRole         = "current_role"
	KeyCurrentCompany      = "current_company"
	KeyExperienceYears     = "experience_years"
	KeyTargetRoles         = "target_roles"
	KeyTargetCompanies     = "target_companies"
	KeyTechnicalSkills     = "technical_skills"
	KeySoftSkills          = "soft_skills"
	KeyIndustries          = "industries"
	KeyFocusAreas          = "focus_areas"
	KeyBio                 = "bio"
	KeyResumeText          = "resume_text"
	KeyPreferredDifficulty = "preferred_difficulty"
)

type fieldKind int

const (
	fieldString fieldKind = iota
	fieldList
	fieldNumber
)

type field struct {
	kind fieldKind
	get  func(p *interview.CandidateProfile) any
	set  func(p *interview.CandidateProfile, v any)
}

func stringField(ptr func(p *interview.CandidateProfile) *string) field {
	return field{
		kind: fieldString,
		get:  func(p *interview.CandidateProfile) any { return *ptr(p) },
		set:  func(p *interview.CandidateProfile, v any) { *ptr(p) = v.(string) },
	}
}

func listField(ptr func(p *interview.CandidateProfile) *[]string) field {
	return field{
		kind: fieldList,
		get:  func(p *interview.CandidateProfile) any { return *ptr(p) },
		set:  func(p *interview.CandidateProfile, v any) { *ptr(p) = v.([]string) },
	}
}

var fields = map[string]field{
	KeyName:           stringField(func(p *interview.CandidateProfile) *string { return &p.Name }),
	KeyCurrentRole:    stringField(func(p *interview.CandidateProfile) *string { return &p.CurrentRole }),
	KeyCurrentCompany: stringField(func(p *interview.CandidateProfile) *string { return &p.CurrentCompany }),
	KeyExperienceYears: {
		kind: fieldNumber,
		get:  func(p *interview.CandidateProfile) any { return p.ExperienceYears },
		set:  func(p *interview.CandidateProfile, v any) { p.ExperienceYears = v.(float64) },
	},
	KeyTargetRoles:      listField(func(p *interview.CandidateProfile) *[]string { return &p.TargetRoles }),
	KeyTargetCompanies:  listField(func(p *interview.CandidateProfile) *[]string { return &p.TargetCompanies }),
	KeyTechnicalSkills:  listField(func(p *interview.CandidateProfile) *[]string { return &p.TechnicalSkills }),
	KeySoftSkills:       listField(func(p *interview.CandidateProfile) *[]string { return &p.SoftSkills }),
	KeyIndustries:       listField(func(p *interview.CandidateProfile) *[]string { return &p.Industries }),
	KeyFocusAreas:       listField(func(p *interview.CandidateProfile) *[]string { return &p.FocusAreas }),
	KeyBio:              stringField(func(p *interview.CandidateProfile) *string { return &p.Bio }),
	KeyResumeText:       stringField(func(p *interview.CandidateProfile) *string { return &p.ResumeText }),
	KeyPreferredDifficulty: {
		kind: fieldString,
		get:  func(p *interview.CandidateProfile) any { return string(p.PreferredDifficulty) },
		set:  func(p *interview.CandidateProfile, v any) { p.PreferredDifficulty = interview.Difficulty(v.(string)) },
	},
}

// ValidKeys returns the field keys accepted by SetField.
func ValidKeys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// parseValue converts a raw user-supplied value into the field's type. List
// fields accept a JSON array or a comma separated string.
func parseValue(key, raw string) (any, error) {
	f, ok := fields[key]
	if !ok {
		return nil, fmt.Errorf("unknown profile field %q", key)
	}
	switch f.kind {
	case fieldNumber:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number for %s: %w", key, err)
		}
		return v, nil
	case fieldList:
		raw = strings.TrimSpace(raw)
		if strings.HasPrefix(raw, "[") {
			var list []string
			if err := json.Unmarshal([]byte(raw), &list); err != nil {
				return nil, fmt.Errorf("invalid list for %s: %w", key, err)
			}
			return list, nil
		}
		var list []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
		return list, nil
	}
	return raw, nil
}

// flatten renders a profile as stored key/value pairs. Empty fields are omitted.
func flatten(p interview.CandidateProfile) (map[string]string, error) {
	out := make(map[string]string)
	for key, f := range fields {
		switch v := f.get(&p).(type) {
		case string:
			if v != "" {
				out[key] = v
			}
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case []string:
			if len(v) == 0 {
				continue
			}
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("marshalling %s: %w", key, err)
			}
			out[key] = string(b)
		}
	}
	return out, nil
}

// build assembles a profile from stored key/value pairs, skipping malformed
// values with a warning.
func build(candidateID string, kv map[string]string) interview.CandidateProfile {
	p := interview.CandidateProfile{CandidateID: candidateID}
	for key, raw := range kv {
		f, ok := fields[key]
		if !ok {
			continue
		}
		v, err := parseValue(key, raw)
		if err != nil {
			slog.Warn("malformed profile field, skipping", "candidate_id", candidateID, "key", key, "error", err)
			continue
		}
		f.set(&p, v)
	}
	return p
}
