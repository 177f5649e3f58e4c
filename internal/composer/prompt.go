package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/rehearse/internal/engine"
	"github.com/kalambet/rehearse/internal/interview"
)

const defaultMaxContextTokens = 1500

// CompleteToken is the control marker the interviewer model appends when it
// has nothing more to ask.
const CompleteToken = "[INTERVIEW_COMPLETE]"

// Composer assembles interviewer prompts from the session configuration, the
// candidate's profile summary and retrieved snippets.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected
// personalization. If maxContextTokens <= 0, the default (1500) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Brief is everything the interviewer needs to know besides the transcript.
type Brief struct {
	Config         interview.SessionConfig
	ProfileSummary string
	Snippets       []interview.Snippet
	QuestionsAsked int
	MaxQuestions   int
}

// SystemPrompt renders the interviewer instructions.
func (c *Composer) SystemPrompt(b Brief) string {
	var sb strings.Builder

	difficulty := b.Config.Difficulty
	if difficulty == "" {
		difficulty = interview.DifficultyMedium
	}
	fmt.Fprintf(&sb, "You are an experienced interviewer conducting a %s interview at %s difficulty.\n",
		b.Config.Type.Label(), difficulty)
	if b.Config.RoleContext != "" {
		fmt.Fprintf(&sb, "The candidate is interviewing for: %s.\n", b.Config.RoleContext)
	}
	if b.Config.CompanyContext != "" {
		fmt.Fprintf(&sb, "Company context: %s.\n", b.Config.CompanyContext)
	}

	sb.WriteString("\nAsk exactly one question per reply. Keep replies under 120 words. ")
	sb.WriteString("Briefly acknowledge the previous answer before the next question, but do not grade or coach the candidate during the interview. ")
	sb.WriteString("Ask a follow-up when an answer is vague; otherwise move to a new topic.\n")
	fmt.Fprintf(&sb, "You have asked %d of at most %d questions. ", b.QuestionsAsked, b.MaxQuestions)
	fmt.Fprintf(&sb, "If the interview has covered enough ground or the candidate asks to stop, reply with a short closing remark followed by %s and no question.\n", CompleteToken)

	if ci := strings.TrimSpace(b.Config.CustomInstructions); ci != "" {
		sb.WriteString("\nAdditional instructions from the candidate:\n")
		sb.WriteString(ci)
		sb.WriteString("\n")
	}

	if ctx := c.buildPersonalization(b.ProfileSummary, b.Snippets); ctx != "" {
		sb.WriteString("\n")
		sb.WriteString(ctx)
	}
	return sb.String()
}

// buildPersonalization joins the profile block and the best snippets,
// dropping lower-scoring snippets that no longer fit the token budget.
func (c *Composer) buildPersonalization(profileSummary string, snippets []interview.Snippet) string {
	var sb strings.Builder
	if profileSummary != "" {
		sb.WriteString(profileSummary)
	}
	if len(snippets) == 0 {
		return sb.String()
	}

	sorted := make([]interview.Snippet, len(snippets))
	copy(sorted, snippets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	header := "\n\n[Relevant Background]\n"
	remaining := c.MaxContextTokens - EstimateTokens(sb.String()) - EstimateTokens(header)

	var selected []string
	for _, s := range sorted {
		entry := fmt.Sprintf("(%s) %s\n", s.SourceType, strings.TrimSpace(s.Text))
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	if len(selected) > 0 {
		sb.WriteString(header)
		for _, e := range selected {
			sb.WriteString(e)
		}
	}
	return sb.String()
}

// openingCue stands in for the candidate before the first question.
const openingCue = "Please begin the interview: greet me in one sentence and ask your first question."

// Messages converts the transcript into chat messages: interviewer turns
// become assistant messages and answers become user messages. When the
// transcript is empty an opening cue is sent instead.
func (c *Composer) Messages(b Brief, turns []interview.Turn) []engine.Message {
	msgs := make([]engine.Message, 0, len(turns)+2)
	msgs = append(msgs, engine.Message{Role: engine.RoleSystem, Content: c.SystemPrompt(b)})

	if len(turns) == 0 {
		return append(msgs, engine.Message{Role: engine.RoleUser, Content: openingCue})
	}
	for _, t := range turns {
		role := engine.RoleUser
		if t.Role == interview.RoleInterviewer {
			role = engine.RoleAssistant
		}
		msgs = append(msgs, engine.Message{Role: role, Content: t.Content})
	}
	return msgs
}

// Transcript renders turns as plain "Interviewer:" / "Candidate:" lines for
// rating prompts.
func Transcript(turns []interview.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		speaker := "Candidate"
		if t.Role == interview.RoleInterviewer {
			speaker = "Interviewer"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, strings.TrimSpace(t.Content))
	}
	return sb.String()
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
