package ingest

import (
	"fmt"
	"strings"

	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/profile"
	"github.com/kalambet/rehearse/internal/retrieval"
)

// Documents turns a profile and finished sessions into index documents.
// p may be nil.
func Documents(p *interview.CandidateProfile, sessions []interview.Session) []retrieval.Document {
	var docs []retrieval.Document
	if p != nil {
		docs = append(docs, retrieval.Document{
			SourceID:   p.CandidateID,
			SourceType: retrieval.SourceProfile,
			Text:       profile.Summarize(*p),
		})
		if basics := basicInfo(*p); basics != "" {
			docs = append(docs, retrieval.Document{
				SourceID:   p.CandidateID + ":basics",
				SourceType: retrieval.SourceProfile,
				Text:       basics,
			})
		}
		if r := strings.TrimSpace(p.ResumeText); r != "" {
			docs = append(docs, retrieval.Document{
				SourceID:   p.CandidateID + ":resume",
				SourceType: retrieval.SourceResume,
				Text:       r,
			})
		}
	}
	for _, s := range sessions {
		if text := sessionSummary(s); text != "" {
			docs = append(docs, retrieval.Document{
				SourceID:   s.ID,
				SourceType: retrieval.SourceSession,
				Text:       text,
				Tags:       fmt.Sprintf(`[%q]`, s.Config.Type),
			})
		}
	}
	return docs
}

func basicInfo(p interview.CandidateProfile) string {
	var parts []string
	if p.CurrentRole != "" {
		parts = append(parts, "Works as "+p.CurrentRole)
	}
	if p.CurrentCompany != "" {
		parts = append(parts, "at "+p.CurrentCompany)
	}
	if len(p.TargetRoles) > 0 {
		parts = append(parts, "preparing for "+strings.Join(p.TargetRoles, ", "))
	}
	if len(p.FocusAreas) > 0 {
		parts = append(parts, "focusing on "+strings.Join(p.FocusAreas, ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " ") + "."
}

// sessionSummary describes a past session's outcome. Unassessed sessions
// carry nothing worth retrieving.
func sessionSummary(s interview.Session) string {
	a := s.Assessment
	if a == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Past %s interview", s.Config.Type.Label())
	if s.Config.RoleContext != "" {
		fmt.Fprintf(&sb, " for %s", s.Config.RoleContext)
	}
	if s.CompletedAt != nil {
		fmt.Fprintf(&sb, " on %s", s.CompletedAt.Format("2006-01-02"))
	}
	fmt.Fprintf(&sb, ": overall score %.0f.", a.Overall)
	if len(a.Feedback.Strengths) > 0 {
		sb.WriteString(" Strengths: " + strings.Join(a.Feedback.Strengths, "; ") + ".")
	}
	if len(a.Feedback.Weaknesses) > 0 {
		sb.WriteString(" Weaknesses: " + strings.Join(a.Feedback.Weaknesses, "; ") + ".")
	}
	return sb.String()
}
